package file_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p-sternik/codeindex/pkg/lock/local"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	"github.com/p-sternik/codeindex/pkg/shardstore/file"
	"github.com/p-sternik/codeindex/pkg/uri"
)

func TestGetReturnsErrNotFoundForMissingShard(t *testing.T) {
	t.Parallel()

	s, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Get(context.Background(), uri.New("/repo/missing.ts"))
	require.ErrorIs(t, err, shardstore.ErrNotFound)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	t.Parallel()

	s, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	u := uri.New("/repo/widget.ts")
	shard := model.FileShard{
		ContentHash:  "abc123",
		ShardVersion: model.ShardVersion,
		Symbols: []model.Symbol{
			{Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true},
		},
	}

	require.NoError(t, s.Put(ctx, u, shard))

	got, err := s.Get(ctx, u)
	require.NoError(t, err)
	require.Equal(t, u, got.URI)
	require.Equal(t, "abc123", got.ContentHash)
	require.Len(t, got.Symbols, 1)
	require.Equal(t, "Widget", got.Symbols[0].Name)
}

func TestGetAfterPutServesFlushedShard(t *testing.T) {
	t.Parallel()

	s, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	u := uri.New("/repo/widget.ts")
	shard := model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}

	require.NoError(t, s.Put(ctx, u, shard))

	got, err := s.Get(ctx, u)
	require.NoError(t, err)
	require.Equal(t, "v1", got.ContentHash)
}

func TestCloseFlushesPendingWrites(t *testing.T) {
	t.Parallel()

	locker := local.NewLocker()
	root := t.TempDir()

	s, err := file.New(root, locker, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	u := uri.New("/repo/widget.ts")
	shard := model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}

	require.NoError(t, s.Put(ctx, u, shard))
	require.NoError(t, s.Close())

	s2, err := file.New(root, locker, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	got, err := s2.Get(ctx, u)
	require.NoError(t, err)
	require.Equal(t, "v1", got.ContentHash)
}

func TestDeleteRemovesShard(t *testing.T) {
	t.Parallel()

	s, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	u := uri.New("/repo/widget.ts")

	require.NoError(t, s.Put(ctx, u, model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}))
	require.NoError(t, s.Close())

	s, err = file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, u, model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}))
	require.NoError(t, s.Delete(ctx, u))

	_, err = s.Get(ctx, u)
	require.ErrorIs(t, err, shardstore.ErrNotFound)
}

func TestWalkFlushesPendingWritesFirst(t *testing.T) {
	t.Parallel()

	s, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	u := uri.New("/repo/widget.ts")

	require.NoError(t, s.Put(ctx, u, model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}))

	var seen []uri.URI

	require.NoError(t, s.Walk(ctx, func(found uri.URI) error {
		seen = append(seen, found)

		return nil
	}))

	require.Contains(t, seen, u)
}

func TestPutCoalescesRapidWrites(t *testing.T) {
	t.Parallel()

	// Put now blocks until its write settles, so two sequential calls on one
	// goroutine never overlap in time to coalesce. Coalescing only happens
	// when concurrent callers race to write the same uri within the window:
	// both should observe a nil error and the store should end up holding
	// whichever shard the later one set before the shared flush fired.
	s, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	u := uri.New("/repo/widget.ts")

	start := make(chan struct{})
	errs := make([]error, 2)

	var wg sync.WaitGroup

	for i, hash := range []string{"v1", "v2"} {
		wg.Add(1)

		go func(i int, hash string) {
			defer wg.Done()
			<-start

			errs[i] = s.Put(ctx, u, model.FileShard{ContentHash: hash, ShardVersion: model.ShardVersion})
		}(i, hash)
	}

	close(start)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got, err := s.Get(ctx, u)
	require.NoError(t, err)
	require.Contains(t, []string{"v1", "v2"}, got.ContentHash)
}

func TestPutPropagatesWriteFailureToCaller(t *testing.T) {
	t.Parallel()

	s, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	u := uri.New("/repo/widget.ts")

	// gob cannot encode a func value; writeNow's call into shardstore.Encode
	// fails deterministically, without touching the filesystem at all, so
	// Put's returned error is a genuine codec failure rather than anything
	// permission- or platform-dependent.
	unencodable := model.FileShard{
		ContentHash:  "bad",
		ShardVersion: model.ShardVersion,
		Symbols: []model.Symbol{
			{
				Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Metadata: map[string]any{"handler": func() {}},
			},
		},
	}

	err = s.Put(ctx, u, unencodable)
	require.Error(t, err)

	_, err = s.Get(ctx, u)
	require.ErrorIs(t, err, shardstore.ErrNotFound)
}

func TestPutFlushesOldestWritesWhenPendingTableIsFull(t *testing.T) {
	t.Parallel()

	s, err := file.NewWithOptions(t.TempDir(), file.Options{MaxPending: 2}, local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	u1 := uri.New("/repo/one.ts")
	u2 := uri.New("/repo/two.ts")
	u3 := uri.New("/repo/three.ts")

	// u1 and u2 each start their own coalesce timer on their own goroutine
	// and stay pending (their window hasn't elapsed yet). u3 then arrives,
	// synchronously, on the test goroutine while the pending table is
	// already at MaxPending, forcing Put to flush the existing entries
	// before scheduling its own.
	var wg sync.WaitGroup

	errs := make([]error, 2)
	started := make(chan struct{}, 2)

	wg.Add(2)

	go func() {
		defer wg.Done()

		started <- struct{}{}
		errs[0] = s.Put(ctx, u1, model.FileShard{ContentHash: "one", ShardVersion: model.ShardVersion})
	}()

	go func() {
		defer wg.Done()

		started <- struct{}{}
		errs[1] = s.Put(ctx, u2, model.FileShard{ContentHash: "two", ShardVersion: model.ShardVersion})
	}()

	<-started
	<-started
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, s.Put(ctx, u3, model.FileShard{ContentHash: "three", ShardVersion: model.ShardVersion}))

	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got1, err := s.Get(ctx, u1)
	require.NoError(t, err)
	require.Equal(t, "one", got1.ContentHash)

	got2, err := s.Get(ctx, u2)
	require.NoError(t, err)
	require.Equal(t, "two", got2.ContentHash)

	got3, err := s.Get(ctx, u3)
	require.NoError(t, err)
	require.Equal(t, "three", got3.ContentHash)
}

func TestCoalesceWindowDisabledWritesThrough(t *testing.T) {
	t.Parallel()

	s, err := file.NewWithOptions(t.TempDir(), file.Options{CoalesceWindow: -1}, local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	u := uri.New("/repo/widget.ts")

	// With coalescing disabled (config.WriteBuffer.Enabled == false), Put
	// writes straight through; the shard must already be on disk the
	// instant Put returns, with no coalesce window to wait out.
	require.NoError(t, s.Put(ctx, u, model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}))

	got, err := s.Get(ctx, u)
	require.NoError(t, err)
	require.Equal(t, "v1", got.ContentHash)
}

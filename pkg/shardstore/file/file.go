// Package file implements a content-addressed, directory-bucketed
// shardstore.ShardStore backed by the local filesystem.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/p-sternik/codeindex/pkg/lock"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	"github.com/p-sternik/codeindex/pkg/uri"
)

const (
	// cacheSize is the bound on the in-memory LRU mirror of decoded
	// shards. 50 keeps the footprint small while still absorbing the
	// repeated Get calls a single indexing pass makes against files that
	// import each other.
	cacheSize = 50

	// coalesceWindow is how long Put waits, per uri, before flushing to
	// disk; a burst of writes to the same file (rapid keystrokes) within
	// the window collapses into a single file write. This is the default
	// applied when a caller doesn't set Options.CoalesceWindow explicitly
	// (config.WriteBuffer.DelayMs).
	coalesceWindow = 100 * time.Millisecond

	// maxPendingWrites bounds the pending-write table. Once it is
	// reached, Put forces an immediate flush of every outstanding write
	// before scheduling the new one, so an unbounded burst of distinct
	// uris can't grow the table forever between coalesce windows.
	maxPendingWrites = 1000

	lockTTL = 10 * time.Second
)

// Store is a shardstore.ShardStore rooted at a directory. Shards are
// written to <root>/<h[0:2]>/<h[2:4]>/<h>.bin where h is the hex SHA-256
// of the uri string.
type Store struct {
	root string

	cache  *lru.Cache[uri.URI, model.FileShard]
	locker lock.Locker

	coalesceWindow time.Duration
	maxPending     int

	mu      sync.Mutex
	pending map[uri.URI]*pendingWrite

	writesCoalesced prometheus.Counter
	writesFlushed   prometheus.Counter

	logger zerolog.Logger
}

// pendingWrite is a shard queued for a coalesced write. ready is closed
// once the write (or a Delete that supersedes it) settles, carrying err to
// every Put call that coalesced onto this write and is waiting on it.
type pendingWrite struct {
	shard model.FileShard
	timer *time.Timer
	ready chan struct{}
	err   error
}

// Options configures a Store beyond its root directory.
type Options struct {
	// CacheSize bounds the in-memory LRU mirror of decoded shards.
	// Zero uses the package default (config.Config.MaxCacheSize).
	CacheSize int

	// CoalesceWindow is how long Put waits, per uri, before flushing to
	// disk. Zero (the default) falls back to the package default. A
	// negative value disables coalescing outright: Put writes straight
	// through and returns only once the write has landed
	// (config.WriteBuffer with Enabled false maps to this).
	CoalesceWindow time.Duration

	// MaxPending bounds the pending-write table. Zero uses the package
	// default.
	MaxPending int
}

// New creates a Store rooted at root, creating the directory if necessary,
// with every Option at its default.
func New(root string, locker lock.Locker, logger zerolog.Logger) (*Store, error) {
	return NewWithOptions(root, Options{}, locker, logger)
}

// NewWithCacheSize is New with an explicit bound on the in-memory LRU
// mirror of decoded shards (config.Config.MaxCacheSize), for callers that
// need something other than the default 50 entries.
func NewWithCacheSize(root string, maxCacheSize int, locker lock.Locker, logger zerolog.Logger) (*Store, error) {
	return NewWithOptions(root, Options{CacheSize: maxCacheSize}, locker, logger)
}

// NewWithOptions is New with every tunable exposed, for buildShardStore to
// wire config.Config.MaxCacheSize and config.Config.WriteBuffer through.
func NewWithOptions(root string, opts Options, locker lock.Locker, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating shard store root %q: %w", root, err)
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = cacheSize
	}

	switch {
	case opts.CoalesceWindow == 0:
		opts.CoalesceWindow = coalesceWindow
	case opts.CoalesceWindow < 0:
		opts.CoalesceWindow = 0
	}

	if opts.MaxPending <= 0 {
		opts.MaxPending = maxPendingWrites
	}

	c, err := lru.New[uri.URI, model.FileShard](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating shard cache: %w", err)
	}

	return &Store{
		root:           root,
		cache:          c,
		locker:         locker,
		coalesceWindow: opts.CoalesceWindow,
		maxPending:     opts.MaxPending,
		pending:        make(map[uri.URI]*pendingWrite),
		writesCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeindex_shardstore_file_writes_coalesced_total",
			Help: "Number of Put calls absorbed into an already-pending write for the same uri.",
		}),
		writesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeindex_shardstore_file_writes_flushed_total",
			Help: "Number of shard writes actually flushed to disk.",
		}),
		logger: logger.With().Str("component", "shardstore.file").Logger(),
	}, nil
}

// Describe implements prometheus.Collector.
func (s *Store) Describe(ch chan<- *prometheus.Desc) {
	s.writesCoalesced.Describe(ch)
	s.writesFlushed.Describe(ch)
}

// Collect implements prometheus.Collector.
func (s *Store) Collect(ch chan<- prometheus.Metric) {
	s.writesCoalesced.Collect(ch)
	s.writesFlushed.Collect(ch)
}

func (s *Store) pathFor(u uri.URI) (string, error) {
	sum := sha256.Sum256([]byte(u.String()))
	h := hex.EncodeToString(sum[:])

	return filepath.Join(s.root, h[0:2], h[2:4], h+".bin"), nil
}

// Get implements shardstore.ShardStore.
func (s *Store) Get(ctx context.Context, u uri.URI) (model.FileShard, error) {
	if shard, ok := s.cache.Get(u); ok {
		return shard, nil
	}

	path, err := s.pathFor(u)
	if err != nil {
		return model.FileShard{}, err
	}

	var shard model.FileShard

	err = lock.WithLock(ctx, s.locker, u.String(), lockTTL, func(context.Context) error {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			if errors.Is(readErr, os.ErrNotExist) {
				return shardstore.ErrNotFound
			}

			return readErr
		}

		if len(data) == 0 {
			// A zero-byte file means a writer crashed mid-rename; treat it
			// as absent and clean it up so it stops shadowing real writes.
			_ = os.Remove(path)

			return shardstore.ErrNotFound
		}

		decoded, decodeErr := shardstore.Decode(data)
		if decodeErr != nil {
			return decodeErr
		}

		shard = decoded

		return nil
	})
	if err != nil {
		return model.FileShard{}, err
	}

	shard.URI = u
	s.cache.Add(u, shard)

	return shard, nil
}

// Put implements shardstore.ShardStore. Writes are coalesced: a burst of
// Put calls against the same uri within the store's coalesce window share
// a single flush to disk carrying the most recent shard. Put itself always
// blocks until that flush settles (or ctx is cancelled first) and returns
// its error, so a write failure is never lost after an optimistic caller
// has already acted on success — per ShardStore.Put's contract, a non-nil
// error here means the old shard, not a partial new one, is what Get will
// keep serving.
func (s *Store) Put(ctx context.Context, u uri.URI, shard model.FileShard) error {
	shard.URI = u

	// Invalidate the cache entry before the write lands; until the flush
	// re-adds it, a concurrent Get reads whatever shard is on disk, which is
	// the previous one.
	s.cache.Remove(u)

	if s.coalesceWindow <= 0 {
		return s.writeThrough(ctx, u, shard)
	}

	s.mu.Lock()

	if pw, ok := s.pending[u]; ok {
		pw.shard = shard
		s.writesCoalesced.Inc()
		ready := pw.ready
		s.mu.Unlock()

		return awaitFlush(ctx, pw, ready)
	}

	if len(s.pending) >= s.maxPending {
		overflow := make([]uri.URI, 0, len(s.pending))
		for pu := range s.pending {
			overflow = append(overflow, pu)
		}

		s.mu.Unlock()

		for _, pu := range overflow {
			s.flush(ctx, pu)
		}

		s.mu.Lock()
	}

	pw := &pendingWrite{shard: shard, ready: make(chan struct{})}
	s.pending[u] = pw
	pw.timer = time.AfterFunc(s.coalesceWindow, func() {
		s.flush(ctx, u)
	})
	s.mu.Unlock()

	return awaitFlush(ctx, pw, pw.ready)
}

// writeThrough writes shard immediately, bypassing coalescing entirely
// (config.WriteBuffer.Enabled == false).
func (s *Store) writeThrough(ctx context.Context, u uri.URI, shard model.FileShard) error {
	if err := s.writeNow(ctx, u, shard); err != nil {
		s.logger.Error().Err(err).Str("uri", u.String()).Msg("failed to write shard to disk")

		return err
	}

	s.writesFlushed.Inc()
	s.cache.Add(u, shard)

	return nil
}

// awaitFlush blocks until pw's flush settles and returns the error every
// Put call coalesced onto it shares, or ctx.Err() if ctx is cancelled
// first (the flush itself still runs to completion in the background).
func awaitFlush(ctx context.Context, pw *pendingWrite, ready <-chan struct{}) error {
	select {
	case <-ready:
		return pw.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) flush(ctx context.Context, u uri.URI) {
	s.mu.Lock()
	pw, ok := s.pending[u]
	if !ok {
		s.mu.Unlock()

		return
	}

	delete(s.pending, u)
	s.mu.Unlock()

	err := s.writeNow(ctx, u, pw.shard)
	if err != nil {
		s.logger.Error().Err(err).Str("uri", u.String()).Msg("failed to flush shard to disk")
		// Leave the cache without this shard so a subsequent Get falls
		// through to whatever (older, or absent) shard is actually on
		// disk, rather than serving a write that never landed.
		s.cache.Remove(u)
	} else {
		s.writesFlushed.Inc()
		s.cache.Add(u, pw.shard)
	}

	pw.err = err
	close(pw.ready)
}

func (s *Store) writeNow(ctx context.Context, u uri.URI, shard model.FileShard) error {
	path, err := s.pathFor(u)
	if err != nil {
		return err
	}

	data, err := shardstore.Encode(shard)
	if err != nil {
		return err
	}

	return lock.WithLock(ctx, s.locker, u.String(), lockTTL, func(context.Context) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		tmp := path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}

		return os.Rename(tmp, path)
	})
}

// Delete implements shardstore.ShardStore.
func (s *Store) Delete(ctx context.Context, u uri.URI) error {
	s.mu.Lock()
	if pw, ok := s.pending[u]; ok {
		pw.timer.Stop()
		delete(s.pending, u)

		// A Put racing this Delete is blocked in awaitFlush waiting on
		// pw.ready; close it now (pw.err stays nil) so it unblocks
		// instead of waiting out the full ctx lifetime for a write that
		// is never going to happen.
		close(pw.ready)
	}
	s.mu.Unlock()

	s.cache.Remove(u)

	path, err := s.pathFor(u)
	if err != nil {
		return err
	}

	return lock.WithLock(ctx, s.locker, u.String(), lockTTL, func(context.Context) error {
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return err
	})
}

// Walk implements shardstore.ShardStore. It flushes any pending
// write-coalesced shards first so a Walk immediately after a burst of Puts
// observes every one of them.
func (s *Store) Walk(ctx context.Context, fn func(u uri.URI) error) error {
	s.mu.Lock()
	pending := make([]uri.URI, 0, len(s.pending))
	for u := range s.pending {
		pending = append(pending, u)
	}
	s.mu.Unlock()

	for _, u := range pending {
		s.flush(ctx, u)
	}

	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || filepath.Ext(path) != ".bin" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return nil
		}

		shard, err := shardstore.Decode(data)
		if err != nil {
			return nil
		}

		return fn(shard.URI)
	})
}

// Close implements shardstore.ShardStore. Any outstanding coalesced writes
// are flushed synchronously before returning.
func (s *Store) Close() error {
	s.mu.Lock()
	pending := make([]uri.URI, 0, len(s.pending))
	for u, pw := range s.pending {
		pw.timer.Stop()
		pending = append(pending, u)
	}
	s.mu.Unlock()

	for _, u := range pending {
		s.flush(context.Background(), u)
	}

	return nil
}

package sql_test

import (
	stdsql "database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	shardsql "github.com/p-sternik/codeindex/pkg/shardstore/sql"
	"github.com/p-sternik/codeindex/pkg/uri"
)

func newTestStore(t *testing.T) *shardsql.Store {
	t.Helper()

	sqldb, err := stdsql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })

	db := bun.NewDB(sqldb, sqlitedialect.New())

	store, err := shardsql.New(t.Context(), db)
	require.NoError(t, err)

	return store
}

func TestGetReturnsErrNotFoundForMissingShard(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Get(t.Context(), uri.New("/repo/missing.ts"))
	require.ErrorIs(t, err, shardstore.ErrNotFound)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	u := uri.New("/repo/widget.ts")
	shard := model.FileShard{
		ContentHash:  "abc",
		ShardVersion: model.ShardVersion,
		Symbols: []model.Symbol{
			{Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true},
		},
		References: []model.Reference{
			{SymbolName: "Gizmo"},
		},
	}

	require.NoError(t, store.Put(t.Context(), u, shard))

	got, err := store.Get(t.Context(), u)
	require.NoError(t, err)
	require.Equal(t, "abc", got.ContentHash)
	require.Len(t, got.Symbols, 1)
}

func TestPutOverwritesPreviousRow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	u := uri.New("/repo/widget.ts")

	require.NoError(t, store.Put(t.Context(), u, model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}))
	require.NoError(t, store.Put(t.Context(), u, model.FileShard{ContentHash: "v2", ShardVersion: model.ShardVersion}))

	got, err := store.Get(t.Context(), u)
	require.NoError(t, err)
	require.Equal(t, "v2", got.ContentHash)
}

func TestDeleteRemovesShard(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	u := uri.New("/repo/widget.ts")
	require.NoError(t, store.Put(t.Context(), u, model.FileShard{ContentHash: "v1", ShardVersion: model.ShardVersion}))
	require.NoError(t, store.Delete(t.Context(), u))

	_, err := store.Get(t.Context(), u)
	require.ErrorIs(t, err, shardstore.ErrNotFound)
}

func TestWalkVisitsEveryShard(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	a := uri.New("/repo/a.ts")
	b := uri.New("/repo/b.ts")

	require.NoError(t, store.Put(t.Context(), a, model.FileShard{ContentHash: "a", ShardVersion: model.ShardVersion}))
	require.NoError(t, store.Put(t.Context(), b, model.FileShard{ContentHash: "b", ShardVersion: model.ShardVersion}))

	var seen []uri.URI

	require.NoError(t, store.Walk(t.Context(), func(u uri.URI) error {
		seen = append(seen, u)

		return nil
	}))

	require.ElementsMatch(t, []uri.URI{a, b}, seen)
}

func TestShardsReferencingNameUsesNameIndex(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	u := uri.New("/repo/widget.ts")
	require.NoError(t, store.Put(t.Context(), u, model.FileShard{
		ContentHash:  "v1",
		ShardVersion: model.ShardVersion,
		References:   []model.Reference{{SymbolName: "Gizmo"}},
	}))

	uris, err := store.ShardsReferencingName(t.Context(), "Gizmo")
	require.NoError(t, err)
	require.Equal(t, []uri.URI{u}, uris)

	uris, err = store.ShardsReferencingName(t.Context(), "Nonexistent")
	require.NoError(t, err)
	require.Empty(t, uris)
}

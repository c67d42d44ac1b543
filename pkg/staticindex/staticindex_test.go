package staticindex_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p-sternik/codeindex/pkg/lock/local"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore/file"
	"github.com/p-sternik/codeindex/pkg/staticindex"
	"github.com/p-sternik/codeindex/pkg/uri"
)

func newLoadedIndex(t *testing.T) *staticindex.Index {
	t.Helper()

	ctx := context.Background()
	store, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	u := uri.New("/repo/widget.ts")
	require.NoError(t, store.Put(ctx, u, model.FileShard{
		ContentHash:  "abc",
		ShardVersion: model.ShardVersion,
		Symbols: []model.Symbol{
			{ID: "sym-1", Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0}},
		},
		References: []model.Reference{
			{SymbolName: "Widget", Location: model.Location{URI: u, Line: 4, Char: 1}},
		},
	}))

	idx, err := staticindex.Load(ctx, store)
	require.NoError(t, err)

	return idx
}

func TestLoadBuildsSnapshotFromStore(t *testing.T) {
	t.Parallel()

	idx := newLoadedIndex(t)

	defs := idx.FindDefinitions("Widget")
	require.Len(t, defs, 1)

	sym, ok := idx.FindDefinitionByID("sym-1")
	require.True(t, ok)
	require.Equal(t, "Widget", sym.Name)

	refs := idx.FindReferencesByName("Widget")
	require.Len(t, refs, 1)

	search := idx.SearchSymbols("wid")
	require.Len(t, search, 1)

	require.Len(t, idx.AllFiles(), 1)
}

func TestSearchSymbolsIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	idx := newLoadedIndex(t)

	require.Len(t, idx.SearchSymbols("WIDGET"), 1)
	require.Empty(t, idx.SearchSymbols("doesnotexist"))
}

func TestFindDefinitionByIDReturnsFalseForUnknown(t *testing.T) {
	t.Parallel()

	idx := newLoadedIndex(t)

	_, ok := idx.FindDefinitionByID("does-not-exist")
	require.False(t, ok)
}

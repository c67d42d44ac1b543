package bgindex_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p-sternik/codeindex/pkg/bgindex"
	"github.com/p-sternik/codeindex/pkg/lock/local"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore/file"
	"github.com/p-sternik/codeindex/pkg/uri"
)

func newTestIndex(t *testing.T) *bgindex.Index {
	t.Helper()

	store, err := file.New(t.TempDir(), local.NewLocker(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx := bgindex.New(store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go idx.Run(ctx)

	return idx
}

func TestUpdateFileThenFindDefinitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/widget.ts")
	prev, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0}},
		},
	})
	require.NoError(t, err)
	require.Zero(t, prev)

	defs, err := idx.FindDefinitions(ctx, "Widget")
	require.NoError(t, err)
	require.Len(t, defs, 1)
}

func TestUpdateFileReplacesPreviousContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/widget.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0}},
		},
	})
	require.NoError(t, err)

	_, err = idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{Name: "Gizmo", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0}},
		},
	})
	require.NoError(t, err)

	defs, err := idx.FindDefinitions(ctx, "Widget")
	require.NoError(t, err)
	require.Empty(t, defs)

	defs, err = idx.FindDefinitions(ctx, "Gizmo")
	require.NoError(t, err)
	require.Len(t, defs, 1)
}

func TestRemoveFileClearsIndexEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/widget.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0}},
		},
	})
	require.NoError(t, err)

	require.NoError(t, idx.RemoveFile(ctx, u))

	defs, err := idx.FindDefinitions(ctx, "Widget")
	require.NoError(t, err)
	require.Empty(t, defs)

	_, found, err := idx.FileMetadata(ctx, u)
	require.NoError(t, err)
	require.False(t, found)
}

func TestFindDefinitionByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/widget.ts")
	id := model.NewSymbolID(u, "Widget", "", model.KindFunction, 0, 0)

	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{ID: id, Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0}},
		},
	})
	require.NoError(t, err)

	sym, found, err := idx.FindDefinitionByID(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Widget", sym.Name)

	_, found, err = idx.FindDefinitionByID(ctx, model.SymbolID("nope"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestAddResolvedReferencesIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/caller.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{})
	require.NoError(t, err)

	ref := model.Reference{SymbolName: "userEvents.login", Location: model.Location{URI: u, Line: 2, Char: 1}}

	added, err := idx.AddResolvedReferences(ctx, u, []model.Reference{ref})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	added, err = idx.AddResolvedReferences(ctx, u, []model.Reference{ref})
	require.NoError(t, err)
	require.Equal(t, 0, added)

	refs, err := idx.FindReferencesByName(ctx, "userEvents.login")
	require.NoError(t, err)
	require.Len(t, refs, 1)
}

func TestClearPendingReferencesRemovesResolved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/caller.ts")
	pending := model.PendingReference{Container: "userEvents", Member: "login", Location: model.Location{URI: u, Line: 2, Char: 1}}

	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{PendingReferences: []model.PendingReference{pending}})
	require.NoError(t, err)

	require.NoError(t, idx.ClearPendingReferences(ctx, u, []model.PendingReference{pending}))

	remaining, err := idx.GetFilePendingReferences(ctx, u)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestAllGroupSymbolsReturnsOnlyGroups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/groups.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{Name: "userEvents", Kind: model.KindClass, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0}, Metadata: map[string]any{"is-group": true}},
			{Name: "Helper", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 2, Char: 0}},
		},
	})
	require.NoError(t, err)

	groups, err := idx.AllGroupSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "userEvents", groups[0].Name)
}

func TestSearchSymbolsMatchesSubstringCaseInsensitively(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/widget.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{Name: "WidgetFactory", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0}},
		},
	})
	require.NoError(t, err)

	results, err := idx.SearchSymbols(ctx, "factory")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

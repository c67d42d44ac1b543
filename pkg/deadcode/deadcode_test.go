package deadcode_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/p-sternik/codeindex/pkg/bgindex"
	"github.com/p-sternik/codeindex/pkg/deadcode"
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

func TestAnalyzeReportsUnreferencedExportedSymbolAsHighConfidence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/widget.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{
				Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0},
				Range: model.Range{
					Start: model.Location{URI: u, Line: 0, Char: 0},
					End:   model.Location{URI: u, Line: 2, Char: 1},
				},
			},
		},
	})
	require.NoError(t, err)

	analyzer := deadcode.New(idx, deadcode.Config{})

	findings, err := analyzer.Analyze(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, "Widget", findings[0].Symbol.Name)
	require.Equal(t, deadcode.ConfidenceHigh, findings[0].Confidence)
}

func TestAnalyzeSkipsSymbolWithExternalReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	defURI := uri.New("/repo/widget.ts")
	_, err := idx.UpdateFile(ctx, defURI, model.FileIndexResult{
		Symbols: []model.Symbol{
			{
				Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: defURI, Line: 0, Char: 0},
				Range: model.Range{
					Start: model.Location{URI: defURI, Line: 0, Char: 0},
					End:   model.Location{URI: defURI, Line: 2, Char: 1},
				},
			},
		},
	})
	require.NoError(t, err)

	callerURI := uri.New("/repo/main.ts")
	_, err = idx.UpdateFile(ctx, callerURI, model.FileIndexResult{
		References: []model.Reference{
			{SymbolName: "Widget", Location: model.Location{URI: callerURI, Line: 5, Char: 2}},
		},
	})
	require.NoError(t, err)

	analyzer := deadcode.New(idx, deadcode.Config{})

	findings, err := analyzer.Analyze(ctx)
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestAnalyzeFlagsSymbolWithOnlySameFileNonExportedCaller(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/widget.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{
				Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0},
				Range: model.Range{
					Start: model.Location{URI: u, Line: 0, Char: 0},
					End:   model.Location{URI: u, Line: 2, Char: 1},
				},
			},
		},
		References: []model.Reference{
			{
				SymbolName:    "Widget",
				Location:      model.Location{URI: u, Line: 10, Char: 2},
				ContainerName: "renderInternal",
			},
		},
	})
	require.NoError(t, err)

	analyzer := deadcode.New(idx, deadcode.Config{})

	findings, err := analyzer.Analyze(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, "Widget", findings[0].Symbol.Name)
}

func TestAnalyzeSkipsSymbolUsedByAnotherExportedSymbolInSameFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/widget.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{
				Name: "WidgetOptions", Kind: model.KindInterface, IsDefinition: true, IsExported: true,
				ContainerName: "Widget",
				Location:      model.Location{URI: u, Line: 5, Char: 0},
				Range: model.Range{
					Start: model.Location{URI: u, Line: 5, Char: 0},
					End:   model.Location{URI: u, Line: 7, Char: 1},
				},
			},
			{
				Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0},
				Range: model.Range{
					Start: model.Location{URI: u, Line: 0, Char: 0},
					End:   model.Location{URI: u, Line: 20, Char: 1},
				},
			},
		},
	})
	require.NoError(t, err)

	analyzer := deadcode.New(idx, deadcode.Config{})

	findings, err := analyzer.Analyze(ctx)
	require.NoError(t, err)

	names := make([]string, len(findings))
	for i, f := range findings {
		names[i] = f.Symbol.Name
	}

	require.NotContains(t, names, "WidgetOptions")
}

func TestAnalyzeExcludesEntryPointGlobFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/cmd/main.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{
				Name: "main", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0},
			},
		},
	})
	require.NoError(t, err)

	analyzer := deadcode.New(idx, deadcode.Config{EntryPointGlobs: []string{"**/cmd/*.ts"}})

	findings, err := analyzer.Analyze(ctx)
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestAnalyzeLowersConfidenceForBarrierFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/index.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{
				Name: "Widget", Kind: model.KindFunction, IsDefinition: true, IsExported: true,
				Location: model.Location{URI: u, Line: 0, Char: 0},
			},
		},
	})
	require.NoError(t, err)

	analyzer := deadcode.New(idx, deadcode.Config{BarrierFileGlobs: []string{"**/index.ts"}})

	findings, err := analyzer.Analyze(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, deadcode.ConfidenceMedium, findings[0].Confidence)
}

func TestAnalyzeSkipsUnexportedSymbols(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newTestIndex(t)

	u := uri.New("/repo/internal.ts")
	_, err := idx.UpdateFile(ctx, u, model.FileIndexResult{
		Symbols: []model.Symbol{
			{
				Name: "helper", Kind: model.KindFunction, IsDefinition: true, IsExported: false,
				Location: model.Location{URI: u, Line: 0, Char: 0},
			},
		},
	})
	require.NoError(t, err)

	analyzer := deadcode.New(idx, deadcode.Config{})

	findings, err := analyzer.Analyze(ctx)
	require.NoError(t, err)
	require.Empty(t, findings)
}

// Package mergedindex is the query façade every external caller talks to.
// It fans a query out to whichever of the Dynamic, Background, and Static
// indexes are configured and merges the results in that priority order:
// Dynamic first, then Background, then Static. An entry whose (name, uri,
// line, char) matches one already taken from a higher tier is dropped; a
// lower tier's entries for a file open in the Dynamic Index are still
// returned when their positions differ.
package mergedindex

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/p-sternik/codeindex/pkg/bgindex"
	"github.com/p-sternik/codeindex/pkg/dynamicindex"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/staticindex"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// searchBatchSize is the chunk size rankInBatches sorts the Static tier's
// search results in. The chunks are sorted one after another on the
// calling goroutine.
const searchBatchSize = 1000

// Index is the merged query façade. Dynamic and Static are optional (nil
// is a valid "not configured" value); Background is required.
type Index struct {
	Dynamic    *dynamicindex.Index
	Background *bgindex.Index
	Static     *staticindex.Index
}

// New builds a merged façade over the given tiers.
func New(dynamic *dynamicindex.Index, background *bgindex.Index, static *staticindex.Index) *Index {
	return &Index{Dynamic: dynamic, Background: background, Static: static}
}

type dedupKey struct {
	name string
	u    uri.URI
	line int
	char int
}

func symbolKey(s model.Symbol) dedupKey {
	return dedupKey{name: s.Name, u: s.Location.URI, line: s.Location.Line, char: s.Location.Char}
}

func referenceKey(r model.Reference) dedupKey {
	return dedupKey{name: r.SymbolName, u: r.Location.URI, line: r.Location.Line, char: r.Location.Char}
}

// FindDefinitions returns every Symbol named name across all configured
// tiers, deduplicated by (name, uri, line, char) so a file present in both
// the Dynamic and Background index is not reported twice.
func (m *Index) FindDefinitions(ctx context.Context, name string) ([]model.Symbol, error) {
	var dynamic, background []model.Symbol

	g, gctx := errgroup.WithContext(ctx)

	if m.Dynamic != nil {
		g.Go(func() error {
			var err error
			dynamic, err = m.Dynamic.FindDefinitions(gctx, name)

			return err
		})
	}

	g.Go(func() error {
		var err error
		background, err = m.Background.FindDefinitions(gctx, name)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("finding definitions for %q: %w", name, err)
	}

	seen := make(map[dedupKey]struct{})
	out := make([]model.Symbol, 0, len(dynamic)+len(background))

	for _, group := range [][]model.Symbol{dynamic, background} {
		for _, sym := range group {
			k := symbolKey(sym)
			if _, ok := seen[k]; ok {
				continue
			}

			seen[k] = struct{}{}
			out = append(out, sym)
		}
	}

	if m.Static != nil {
		for _, sym := range m.Static.FindDefinitions(name) {
			k := symbolKey(sym)
			if _, ok := seen[k]; ok {
				continue
			}

			seen[k] = struct{}{}
			out = append(out, sym)
		}
	}

	return out, nil
}

// FindDefinitionByID checks Dynamic, then Background, then Static, in that
// priority order, returning the first match.
func (m *Index) FindDefinitionByID(ctx context.Context, id model.SymbolID) (model.Symbol, bool, error) {
	if m.Dynamic != nil {
		if sym, ok, err := m.Dynamic.FindDefinitionByID(ctx, id); err != nil {
			return model.Symbol{}, false, err
		} else if ok {
			return sym, true, nil
		}
	}

	if sym, ok, err := m.Background.FindDefinitionByID(ctx, id); err != nil {
		return model.Symbol{}, false, err
	} else if ok {
		return sym, true, nil
	}

	if m.Static != nil {
		if sym, ok := m.Static.FindDefinitionByID(id); ok {
			return sym, true, nil
		}
	}

	return model.Symbol{}, false, nil
}

// FindReferencesByName returns every Reference naming name across all
// configured tiers, with definitions subtracted out: a location that is
// itself a definition of name is not also reported as a reference to it.
func (m *Index) FindReferencesByName(ctx context.Context, name string) ([]model.Reference, error) {
	defs, err := m.FindDefinitions(ctx, name)
	if err != nil {
		return nil, err
	}

	defLocations := make(map[dedupKey]struct{}, len(defs))
	for _, d := range defs {
		defLocations[dedupKey{name: d.Name, u: d.Location.URI, line: d.Location.Line, char: d.Location.Char}] = struct{}{}
	}

	var dynamic, background []model.Reference

	g, gctx := errgroup.WithContext(ctx)

	if m.Dynamic != nil {
		g.Go(func() error {
			var err error
			dynamic, err = m.Dynamic.FindReferencesByName(gctx, name)

			return err
		})
	}

	g.Go(func() error {
		var err error
		background, err = m.Background.FindReferencesByName(gctx, name)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("finding references to %q: %w", name, err)
	}

	seen := make(map[dedupKey]struct{})
	out := make([]model.Reference, 0, len(dynamic)+len(background))

	for _, group := range [][]model.Reference{dynamic, background} {
		for _, ref := range group {
			k := referenceKey(ref)
			if _, ok := seen[k]; ok {
				continue
			}

			if _, isDef := defLocations[k]; isDef {
				continue
			}

			seen[k] = struct{}{}
			out = append(out, ref)
		}
	}

	if m.Static != nil {
		for _, ref := range m.Static.FindReferencesByName(name) {
			k := referenceKey(ref)
			if _, ok := seen[k]; ok {
				continue
			}

			if _, isDef := defLocations[k]; isDef {
				continue
			}

			seen[k] = struct{}{}
			out = append(out, ref)
		}
	}

	return out, nil
}

// SearchSymbols runs the substring search on the Dynamic and Background
// tiers in parallel, then adds the Static tier's matches (passed through
// rankInBatches), drops duplicates by (name, uri, line, char), and returns
// the result sorted by name. No fuzzy scoring is applied: the order is by
// name only.
func (m *Index) SearchSymbols(ctx context.Context, query string) ([]model.Symbol, error) {
	var dynamic, background []model.Symbol

	g, gctx := errgroup.WithContext(ctx)

	if m.Dynamic != nil {
		g.Go(func() error {
			var err error
			dynamic, err = m.Dynamic.SearchSymbols(gctx, query)

			return err
		})
	}

	g.Go(func() error {
		var err error
		background, err = m.Background.SearchSymbols(gctx, query)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("searching symbols for %q: %w", query, err)
	}

	seen := make(map[dedupKey]struct{})
	out := make([]model.Symbol, 0, len(dynamic)+len(background))

	for _, group := range [][]model.Symbol{dynamic, background} {
		for _, sym := range group {
			k := symbolKey(sym)
			if _, ok := seen[k]; ok {
				continue
			}

			seen[k] = struct{}{}
			out = append(out, sym)
		}
	}

	if m.Static != nil {
		for _, sym := range rankInBatches(m.Static.SearchSymbols(query), searchBatchSize) {
			k := symbolKey(sym)
			if _, ok := seen[k]; ok {
				continue
			}

			seen[k] = struct{}{}
			out = append(out, sym)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// rankInBatches sorts syms by name chunk by chunk, batchSize symbols at a
// time; the result is ordered within each chunk, not across chunks.
func rankInBatches(syms []model.Symbol, batchSize int) []model.Symbol {
	out := make([]model.Symbol, 0, len(syms))

	for start := 0; start < len(syms); start += batchSize {
		end := start + batchSize
		if end > len(syms) {
			end = len(syms)
		}

		batch := append([]model.Symbol(nil), syms[start:end]...)
		sort.Slice(batch, func(i, j int) bool { return batch[i].Name < batch[j].Name })
		out = append(out, batch...)
	}

	return out
}

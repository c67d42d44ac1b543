// Package staticindex provides a read-only snapshot of a previously built
// index, loaded once from a shard store and never mutated — used to serve
// queries against a fixed commit (e.g. "index HEAD of the dependency
// vendor tree") without keeping a live scheduler running against it.
package staticindex

import (
	"context"
	"sort"

	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// Index is an immutable, fully in-memory view built once from a
// shardstore.ShardStore. Unlike bgindex.Index it has no actor goroutine:
// nothing ever mutates it after Load returns, so plain maps are safe to
// read concurrently without synchronization.
type Index struct {
	symbolsByName map[string][]model.Symbol
	symbolByID    map[model.SymbolID]model.Symbol
	referencesBy  map[string][]model.Reference
	fileSymbols   map[uri.URI][]model.Symbol
	fileImports   map[uri.URI][]model.ImportInfo
	fileReExports map[uri.URI][]model.ReExportInfo
	metadata      map[uri.URI]model.FileMetadata
}

// Load walks store once and builds an immutable Index snapshot.
func Load(ctx context.Context, store shardstore.ShardStore) (*Index, error) {
	idx := &Index{
		symbolsByName: make(map[string][]model.Symbol),
		symbolByID:    make(map[model.SymbolID]model.Symbol),
		referencesBy:  make(map[string][]model.Reference),
		fileSymbols:   make(map[uri.URI][]model.Symbol),
		fileImports:   make(map[uri.URI][]model.ImportInfo),
		fileReExports: make(map[uri.URI][]model.ReExportInfo),
		metadata:      make(map[uri.URI]model.FileMetadata),
	}

	err := store.Walk(ctx, func(u uri.URI) error {
		shard, err := store.Get(ctx, u)
		if err != nil {
			return err
		}

		idx.fileSymbols[u] = shard.Symbols
		idx.fileImports[u] = shard.Imports
		idx.fileReExports[u] = shard.ReExports
		idx.metadata[u] = shard.Summarize()

		for _, sym := range shard.Symbols {
			idx.symbolsByName[sym.Name] = append(idx.symbolsByName[sym.Name], sym)
			idx.symbolByID[sym.ID] = sym
		}

		for _, ref := range shard.References {
			idx.referencesBy[ref.SymbolName] = append(idx.referencesBy[ref.SymbolName], ref)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return idx, nil
}

// FindDefinitions returns every Symbol named name.
func (idx *Index) FindDefinitions(name string) []model.Symbol {
	return idx.symbolsByName[name]
}

// FindDefinitionByID returns the Symbol with the given id, if present.
func (idx *Index) FindDefinitionByID(id model.SymbolID) (model.Symbol, bool) {
	sym, ok := idx.symbolByID[id]

	return sym, ok
}

// FindReferencesByName returns every Reference naming name.
func (idx *Index) FindReferencesByName(name string) []model.Reference {
	return idx.referencesBy[name]
}

// SearchSymbols returns every Symbol whose name contains query, sorted by
// name.
func (idx *Index) SearchSymbols(query string) []model.Symbol {
	var out []model.Symbol

	for name, syms := range idx.symbolsByName {
		if containsFold(name, query) {
			out = append(out, syms...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// GetFileSymbols returns every symbol for u.
func (idx *Index) GetFileSymbols(u uri.URI) []model.Symbol { return idx.fileSymbols[u] }

// GetFileImports returns every import for u.
func (idx *Index) GetFileImports(u uri.URI) []model.ImportInfo { return idx.fileImports[u] }

// GetFileReExports returns every re-export for u.
func (idx *Index) GetFileReExports(u uri.URI) []model.ReExportInfo { return idx.fileReExports[u] }

// FileMetadata returns the metadata for u, if present.
func (idx *Index) FileMetadata(u uri.URI) (model.FileMetadata, bool) {
	meta, ok := idx.metadata[u]

	return meta, ok
}

// AllFiles returns the uri of every file in the snapshot.
func (idx *Index) AllFiles() []uri.URI {
	out := make([]uri.URI, 0, len(idx.metadata))
	for u := range idx.metadata {
		out = append(out, u)
	}

	return out
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}

	hl, nl := len(haystack), len(needle)
	if nl > hl {
		return false
	}

	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}

	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}

		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}

		if ca != cb {
			return false
		}
	}

	return true
}

// Package bgindex implements the Background Index: the in-memory,
// persisted-to-disk tier that holds the result of indexing every file in
// the workspace once. All index mutations run on a single goroutine (the
// "actor"), so the seven lookup maps never need their own locks — every
// public method is just a message send to that goroutine (spec §9).
package bgindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// Index is the Background Index. Create one with New and call Run in its
// own goroutine; every other method is safe to call concurrently from any
// goroutine because it only ever talks to Run's loop over a channel.
type Index struct {
	store shardstore.ShardStore
	log   zerolog.Logger

	commands chan func()

	// The seven maps. Only the actor goroutine (Run) ever touches these
	// directly; every other access goes through commands.
	symbolNameIndex      map[string][]uri.URI
	symbolIDIndex        map[model.SymbolID]uri.URI
	referenceMap         map[string][]uri.URI
	fileToSymbolNames    map[uri.URI][]string
	fileToSymbolIDs      map[uri.URI][]model.SymbolID
	fileToReferenceNames map[uri.URI][]string
	fileMetadata         map[uri.URI]model.FileMetadata

	// fileSymbols/fileReferences/fileImports/fileReExports hold the full
	// parsed data per file so query methods can return complete Symbol and
	// Reference values, not just names.
	fileSymbols     map[uri.URI][]model.Symbol
	fileReferences  map[uri.URI][]model.Reference
	fileImports     map[uri.URI][]model.ImportInfo
	fileReExports   map[uri.URI][]model.ReExportInfo
	filePending     map[uri.URI][]model.PendingReference
}

// New creates an empty Index. Call LoadFromShard afterwards, once per
// persisted shard, to populate it without re-parsing.
func New(store shardstore.ShardStore, log zerolog.Logger) *Index {
	return &Index{
		store:                store,
		log:                  log.With().Str("component", "bgindex").Logger(),
		commands:             make(chan func(), 256),
		symbolNameIndex:      make(map[string][]uri.URI),
		symbolIDIndex:        make(map[model.SymbolID]uri.URI),
		referenceMap:         make(map[string][]uri.URI),
		fileToSymbolNames:    make(map[uri.URI][]string),
		fileToSymbolIDs:      make(map[uri.URI][]model.SymbolID),
		fileToReferenceNames: make(map[uri.URI][]string),
		fileMetadata:         make(map[uri.URI]model.FileMetadata),
		fileSymbols:          make(map[uri.URI][]model.Symbol),
		fileReferences:       make(map[uri.URI][]model.Reference),
		fileImports:          make(map[uri.URI][]model.ImportInfo),
		fileReExports:        make(map[uri.URI][]model.ReExportInfo),
		filePending:          make(map[uri.URI][]model.PendingReference),
	}
}

// Run drains the command channel until ctx is cancelled. It must run in
// its own goroutine; it is the only goroutine allowed to mutate the maps.
func (idx *Index) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-idx.commands:
			cmd()
		}
	}
}

// do sends fn to the actor loop and blocks until it has run, returning
// whatever fn returned through result.
func do[T any](ctx context.Context, idx *Index, fn func() T) (T, error) {
	var zero T

	result := make(chan T, 1)

	select {
	case idx.commands <- func() { result <- fn() }:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// LoadFromShard seeds (or replaces) the in-memory state for a single file
// from a previously persisted shard, without touching the store. Used at
// startup when restoring from the metadata summary / shard walk.
func (idx *Index) LoadFromShard(ctx context.Context, shard model.FileShard) error {
	_, err := do(ctx, idx, func() struct{} {
		idx.applyShard(shard)

		return struct{}{}
	})

	return err
}

// UpdateFile replaces the index entry for u with the freshly parsed
// result, persists the derived shard, and returns the previous
// FileMetadata (the zero value if u was not previously indexed).
func (idx *Index) UpdateFile(ctx context.Context, u uri.URI, result model.FileIndexResult) (model.FileMetadata, error) {
	shard := result.ToShard()
	shard.URI = u

	if err := idx.store.Put(ctx, u, shard); err != nil {
		return model.FileMetadata{}, fmt.Errorf("persisting shard for %s: %w", u, err)
	}

	return do(ctx, idx, func() model.FileMetadata {
		prev := idx.fileMetadata[u]
		idx.removeFileLocked(u)
		idx.applyShard(shard)

		return prev
	})
}

// RemoveFile deletes u from every index map and from the shard store.
func (idx *Index) RemoveFile(ctx context.Context, u uri.URI) error {
	if err := idx.store.Delete(ctx, u); err != nil {
		return err
	}

	_, err := do(ctx, idx, func() struct{} {
		idx.removeFileLocked(u)

		return struct{}{}
	})

	return err
}

// NeedsReindexing reports whether u is missing from the index or its
// stored content hash differs from currentContentHash. The stored mtime is
// not consulted.
func (idx *Index) NeedsReindexing(ctx context.Context, u uri.URI, currentContentHash string) (bool, error) {
	return do(ctx, idx, func() bool {
		meta, ok := idx.fileMetadata[u]
		if !ok {
			return true
		}

		return meta.ContentHash != currentContentHash
	})
}

// FindDefinitions returns every Symbol named name, across all files.
func (idx *Index) FindDefinitions(ctx context.Context, name string) ([]model.Symbol, error) {
	return do(ctx, idx, func() []model.Symbol {
		var out []model.Symbol

		for _, u := range idx.symbolNameIndex[name] {
			for _, sym := range idx.fileSymbols[u] {
				if sym.Name == name {
					out = append(out, sym)
				}
			}
		}

		return out
	})
}

// symbolLookup is the result of a lookup that may fail to find anything.
type symbolLookup struct {
	Symbol model.Symbol
	Found  bool
}

// FindDefinitionByID returns the Symbol with the given id, if indexed.
func (idx *Index) FindDefinitionByID(ctx context.Context, id model.SymbolID) (model.Symbol, bool, error) {
	lookup, err := do(ctx, idx, func() symbolLookup {
		u, ok := idx.symbolIDIndex[id]
		if !ok {
			return symbolLookup{}
		}

		for _, sym := range idx.fileSymbols[u] {
			if sym.ID == id {
				return symbolLookup{Symbol: sym, Found: true}
			}
		}

		return symbolLookup{}
	})
	if err != nil {
		return model.Symbol{}, false, err
	}

	return lookup.Symbol, lookup.Found, nil
}

// FindReferencesByName returns every Reference naming name, across all
// files.
func (idx *Index) FindReferencesByName(ctx context.Context, name string) ([]model.Reference, error) {
	return do(ctx, idx, func() []model.Reference {
		var out []model.Reference

		for _, u := range idx.referenceMap[name] {
			for _, ref := range idx.fileReferences[u] {
				if ref.SymbolName == name {
					out = append(out, ref)
				}
			}
		}

		return out
	})
}

// SearchSymbols returns every Symbol whose name contains query as a
// substring, sorted by name for deterministic pagination by callers.
func (idx *Index) SearchSymbols(ctx context.Context, query string) ([]model.Symbol, error) {
	return do(ctx, idx, func() []model.Symbol {
		var out []model.Symbol

		for name, uris := range idx.symbolNameIndex {
			if !containsFold(name, query) {
				continue
			}

			for _, u := range uris {
				for _, sym := range idx.fileSymbols[u] {
					if sym.Name == name {
						out = append(out, sym)
					}
				}
			}
		}

		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

		return out
	})
}

// GetFileSymbols returns every symbol indexed for u.
func (idx *Index) GetFileSymbols(ctx context.Context, u uri.URI) ([]model.Symbol, error) {
	return do(ctx, idx, func() []model.Symbol {
		return append([]model.Symbol(nil), idx.fileSymbols[u]...)
	})
}

// GetFileImports returns every import indexed for u.
func (idx *Index) GetFileImports(ctx context.Context, u uri.URI) ([]model.ImportInfo, error) {
	return do(ctx, idx, func() []model.ImportInfo {
		return append([]model.ImportInfo(nil), idx.fileImports[u]...)
	})
}

// GetFileReExports returns every re-export indexed for u.
func (idx *Index) GetFileReExports(ctx context.Context, u uri.URI) ([]model.ReExportInfo, error) {
	return do(ctx, idx, func() []model.ReExportInfo {
		return append([]model.ReExportInfo(nil), idx.fileReExports[u]...)
	})
}

// GetFilePendingReferences returns the unresolved Container.member
// references for u, the input the Deferred Resolver consumes.
func (idx *Index) GetFilePendingReferences(ctx context.Context, u uri.URI) ([]model.PendingReference, error) {
	return do(ctx, idx, func() []model.PendingReference {
		return append([]model.PendingReference(nil), idx.filePending[u]...)
	})
}

// AllFiles returns the uri of every indexed file.
func (idx *Index) AllFiles(ctx context.Context) ([]uri.URI, error) {
	return do(ctx, idx, func() []uri.URI {
		out := make([]uri.URI, 0, len(idx.fileMetadata))
		for u := range idx.fileMetadata {
			out = append(out, u)
		}

		return out
	})
}

// metadataLookup is the result of a FileMetadata lookup that may miss.
type metadataLookup struct {
	Metadata model.FileMetadata
	Found    bool
}

// AddResolvedReferences merges newRefs into the references already
// indexed for u, persisting the updated shard. Used by the Deferred
// Resolver after binding a PendingReference to a concrete Reference;
// callers that pass the same reference twice get idempotent behavior —
// AddResolvedReferences deduplicates by (name, uri, line, char) before
// writing, so re-running resolution never grows the shard.
func (idx *Index) AddResolvedReferences(ctx context.Context, u uri.URI, newRefs []model.Reference) (int, error) {
	return do(ctx, idx, func() int {
		existing := idx.fileReferences[u]

		seen := make(map[model.SymbolID]struct{}, len(existing))
		key := func(r model.Reference) model.SymbolID {
			return model.SymbolID(fmt.Sprintf("%s|%s|%d|%d", r.SymbolName, r.Location.URI, r.Location.Line, r.Location.Char))
		}

		for _, r := range existing {
			seen[key(r)] = struct{}{}
		}

		added := 0

		for _, r := range newRefs {
			k := key(r)
			if _, ok := seen[k]; ok {
				continue
			}

			seen[k] = struct{}{}
			existing = append(existing, r)
			idx.referenceMap[r.SymbolName] = appendURIOnce(idx.referenceMap[r.SymbolName], u)
			idx.fileToReferenceNames[u] = appendStringOnce(idx.fileToReferenceNames[u], r.SymbolName)
			added++
		}

		idx.fileReferences[u] = existing

		if added > 0 {
			shard := model.FileShard{
				URI:               u,
				ContentHash:       idx.fileMetadata[u].ContentHash,
				MTime:             idx.fileMetadata[u].MTime,
				LastIndexedAt:     idx.fileMetadata[u].LastIndexedAt,
				ShardVersion:      model.ShardVersion,
				Symbols:           idx.fileSymbols[u],
				References:        existing,
				Imports:           idx.fileImports[u],
				ReExports:         idx.fileReExports[u],
				PendingReferences: idx.filePending[u],
			}

			if err := idx.store.Put(ctx, u, shard); err != nil {
				idx.log.Error().Err(err).Str("uri", u.String()).Msg("failed to persist resolved references")
			}
		}

		return added
	})
}

// ClearPendingReferences removes the given pending references from u's
// unresolved set once the Deferred Resolver has bound (or given up on)
// them, so a re-run does not attempt them again.
func (idx *Index) ClearPendingReferences(ctx context.Context, u uri.URI, resolved []model.PendingReference) error {
	_, err := do(ctx, idx, func() struct{} {
		remaining := idx.filePending[u][:0]

		resolvedSet := make(map[string]struct{}, len(resolved))
		for _, p := range resolved {
			resolvedSet[p.Container+"."+p.Member] = struct{}{}
		}

		for _, p := range idx.filePending[u] {
			if _, ok := resolvedSet[p.Container+"."+p.Member]; ok {
				continue
			}

			remaining = append(remaining, p)
		}

		idx.filePending[u] = remaining

		return struct{}{}
	})

	return err
}

// AllPendingReferences returns every file's unresolved pending references,
// the Deferred Resolver's starting input.
func (idx *Index) AllPendingReferences(ctx context.Context) (map[uri.URI][]model.PendingReference, error) {
	return do(ctx, idx, func() map[uri.URI][]model.PendingReference {
		out := make(map[uri.URI][]model.PendingReference, len(idx.filePending))
		for u, pending := range idx.filePending {
			if len(pending) > 0 {
				out[u] = append([]model.PendingReference(nil), pending...)
			}
		}

		return out
	})
}

// AllGroupSymbols returns every indexed Symbol whose IsGroup() is true,
// the Deferred Resolver's group-discovery phase input.
func (idx *Index) AllGroupSymbols(ctx context.Context) ([]model.Symbol, error) {
	return do(ctx, idx, func() []model.Symbol {
		var out []model.Symbol

		for _, syms := range idx.fileSymbols {
			for _, sym := range syms {
				if sym.IsGroup() {
					out = append(out, sym)
				}
			}
		}

		return out
	})
}

// FileMetadata returns the stored metadata for u, if any.
func (idx *Index) FileMetadata(ctx context.Context, u uri.URI) (model.FileMetadata, bool, error) {
	lookup, err := do(ctx, idx, func() metadataLookup {
		meta, ok := idx.fileMetadata[u]

		return metadataLookup{Metadata: meta, Found: ok}
	})
	if err != nil {
		return model.FileMetadata{}, false, err
	}

	return lookup.Metadata, lookup.Found, nil
}

// --- actor-goroutine-only helpers below; never call outside do() ---

func (idx *Index) applyShard(shard model.FileShard) {
	u := shard.URI

	idx.fileMetadata[u] = shard.Summarize()
	idx.fileSymbols[u] = shard.Symbols
	idx.fileReferences[u] = shard.References
	idx.fileImports[u] = shard.Imports
	idx.fileReExports[u] = shard.ReExports
	idx.filePending[u] = shard.PendingReferences

	names := make([]string, 0, len(shard.Symbols))
	ids := make([]model.SymbolID, 0, len(shard.Symbols))

	for _, sym := range shard.Symbols {
		idx.symbolNameIndex[sym.Name] = appendURIOnce(idx.symbolNameIndex[sym.Name], u)
		idx.symbolIDIndex[sym.ID] = u
		names = append(names, sym.Name)
		ids = append(ids, sym.ID)
	}

	idx.fileToSymbolNames[u] = names
	idx.fileToSymbolIDs[u] = ids

	refNames := make([]string, 0, len(shard.References))

	for _, ref := range shard.References {
		idx.referenceMap[ref.SymbolName] = appendURIOnce(idx.referenceMap[ref.SymbolName], u)
		refNames = append(refNames, ref.SymbolName)
	}

	idx.fileToReferenceNames[u] = refNames
}

// removeFileLocked deletes u from every map in O(k) time where k is the
// number of symbol/reference names u contributed, rather than scanning the
// whole index.
func (idx *Index) removeFileLocked(u uri.URI) {
	for _, name := range idx.fileToSymbolNames[u] {
		idx.symbolNameIndex[name] = removeURI(idx.symbolNameIndex[name], u)
		if len(idx.symbolNameIndex[name]) == 0 {
			delete(idx.symbolNameIndex, name)
		}
	}

	for _, id := range idx.fileToSymbolIDs[u] {
		delete(idx.symbolIDIndex, id)
	}

	for _, name := range idx.fileToReferenceNames[u] {
		idx.referenceMap[name] = removeURI(idx.referenceMap[name], u)
		if len(idx.referenceMap[name]) == 0 {
			delete(idx.referenceMap, name)
		}
	}

	delete(idx.fileToSymbolNames, u)
	delete(idx.fileToSymbolIDs, u)
	delete(idx.fileToReferenceNames, u)
	delete(idx.fileMetadata, u)
	delete(idx.fileSymbols, u)
	delete(idx.fileReferences, u)
	delete(idx.fileImports, u)
	delete(idx.fileReExports, u)
	delete(idx.filePending, u)
}

func appendURIOnce(uris []uri.URI, u uri.URI) []uri.URI {
	for _, existing := range uris {
		if existing == u {
			return uris
		}
	}

	return append(uris, u)
}

func appendStringOnce(names []string, name string) []string {
	for _, existing := range names {
		if existing == name {
			return names
		}
	}

	return append(names, name)
}

func removeURI(uris []uri.URI, u uri.URI) []uri.URI {
	out := uris[:0]

	for _, existing := range uris {
		if existing != u {
			out = append(out, existing)
		}
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

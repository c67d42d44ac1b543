// Package dynamicindex mirrors the Background Index's map contract for
// files that are currently open in an editor buffer, whose on-disk
// contents may be stale relative to what is being edited. It self-heals
// through Ensure: given buffer text whose content hash no longer matches
// what was last indexed, Ensure re-parses synchronously. Queries alone do
// not trigger a re-parse.
package dynamicindex

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/p-sternik/codeindex/pkg/bgindex"
	"github.com/p-sternik/codeindex/pkg/parser"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// contentHasher is implemented by model.FileIndexResult producers; kept as
// a narrow interface so tests can stub it without a real parser.
type contentHasher func(text string) string

// Index is the Dynamic Index. It reuses bgindex.Index's map/actor
// machinery verbatim — an open buffer is indexed exactly like a
// background file, the only difference is the trigger (buffer edit vs
// scheduled reindex) and the self-healing Ensure call below.
type Index struct {
	*bgindex.Index

	parser parser.Parser
	hash   contentHasher

	bufferHash map[uri.URI]string
}

// New creates a Dynamic Index using store as its persistence (typically an
// in-memory or scratch ShardStore distinct from the Background Index's,
// since open-buffer content should not be confused with on-disk content).
func New(store shardstore.ShardStore, p parser.Parser, hash contentHasher, log zerolog.Logger) *Index {
	return &Index{
		Index:      bgindex.New(store, log),
		parser:     p,
		hash:       hash,
		bufferHash: make(map[uri.URI]string),
	}
}

// UpdateBuffer re-parses text for u and updates the dynamic index,
// recording the content hash so a later Ensure call can detect staleness.
func (idx *Index) UpdateBuffer(ctx context.Context, u uri.URI, text string) error {
	result, err := idx.parser.Parse(ctx, u, text)
	if err != nil {
		return err
	}

	if result.ContentHash == "" {
		result.ContentHash = idx.hash(text)
	}

	if _, err := idx.Index.UpdateFile(ctx, u, result); err != nil {
		return err
	}

	idx.bufferHash[u] = result.ContentHash

	return nil
}

// CloseBuffer removes u from the dynamic index; queries fall back to the
// Background/Static index for that file once closed.
func (idx *Index) CloseBuffer(ctx context.Context, u uri.URI) error {
	delete(idx.bufferHash, u)

	return idx.Index.RemoveFile(ctx, u)
}

// Ensure re-parses u if text's hash no longer matches what was last
// indexed for it. It is the self-healing path: a caller that suspects its
// cached dynamic-index entry might be stale calls Ensure before reading.
func (idx *Index) Ensure(ctx context.Context, u uri.URI, text string) error {
	current := idx.hash(text)
	if idx.bufferHash[u] == current {
		return nil
	}

	return idx.UpdateBuffer(ctx, u, text)
}

// HasBuffer reports whether u currently has open-buffer content indexed.
func (idx *Index) HasBuffer(u uri.URI) bool {
	_, ok := idx.bufferHash[u]

	return ok
}

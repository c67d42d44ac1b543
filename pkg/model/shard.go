package model

import (
	"time"

	"github.com/p-sternik/codeindex/pkg/uri"
)

// ShardVersion is the current on-disk/wire shard format version. Any field
// addition that changes semantics must bump this constant; there is no
// in-place migration between versions (spec §9) — a stored shard carrying
// any other version is reported as shardstore.ErrCorrupt when read; the
// rest of the store is left as it is.
const ShardVersion = 7

// FileShard is the unit of persistence: everything parsed out of exactly
// one source file. A shard exclusively owns its symbols and references —
// they never appear in any other shard.
type FileShard struct {
	URI           uri.URI
	ContentHash   string
	LastIndexedAt time.Time
	MTime         time.Time
	ShardVersion  int

	Symbols           []Symbol
	References        []Reference
	Imports           []ImportInfo
	ReExports         []ReExportInfo
	PendingReferences []PendingReference

	// SkipReason is set when the parser failed or the file exceeded
	// maxIndexedFileSize; Symbols/References are then empty by design and
	// the scheduler will not keep retrying the file on mtime staleness
	// alone.
	SkipReason string
}

// FileMetadata is the compact per-uri summary used by the Metadata Summary
// artifact for O(1) startup fan-out, without touching every shard.
type FileMetadata struct {
	URI           uri.URI
	ContentHash   string
	MTime         time.Time
	SymbolCount   int
	LastIndexedAt time.Time
}

// Summarize projects a shard down to its metadata entry.
func (s FileShard) Summarize() FileMetadata {
	return FileMetadata{
		URI:           s.URI,
		ContentHash:   s.ContentHash,
		MTime:         s.MTime,
		SymbolCount:   len(s.Symbols),
		LastIndexedAt: s.LastIndexedAt,
	}
}

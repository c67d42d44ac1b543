package model

// FileIndexResult is what parse(uri, text) produces. It is a pure function
// result: the parser never calls back into any index, so results can be
// computed concurrently on a worker pool and applied to the index
// single-threaded (spec §9, "worker-pool results are plain values").
type FileIndexResult struct {
	Symbols           []Symbol
	References        []Reference
	Imports           []ImportInfo
	ReExports         []ReExportInfo
	PendingReferences []PendingReference
	ContentHash       string

	// SkipReason is set instead of returning an error when the file was
	// intentionally not parsed (too large, excluded, or a parser failure
	// that should not be retried every cycle).
	SkipReason string
}

// ToShard builds the persisted shard representation of this result.
func (r FileIndexResult) ToShard() FileShard {
	return FileShard{
		ContentHash:       r.ContentHash,
		ShardVersion:      ShardVersion,
		Symbols:           r.Symbols,
		References:        r.References,
		Imports:           r.Imports,
		ReExports:         r.ReExports,
		PendingReferences: r.PendingReferences,
		SkipReason:        r.SkipReason,
	}
}

// Package shardstore persists one FileShard per indexed source file,
// content-addressed by uri. Two backends implement the same interface: a
// bucketed local-filesystem store (pkg/shardstore/file) and a SQL-backed
// store (pkg/shardstore/sql) built on uptrace/bun.
package shardstore

import (
	"context"
	"errors"

	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/uri"
)

var (
	// ErrNotFound is returned when no shard exists for a uri.
	ErrNotFound = errors.New("shard: not found")

	// ErrCorrupt is returned when a stored shard fails to decode, or
	// decodes but carries a ShardVersion that does not match
	// model.ShardVersion. The caller's recovery is always the same:
	// delete the corrupt entry and treat the file as never indexed.
	ErrCorrupt = errors.New("shard: corrupt or stale version")
)

// ShardStore is the persistence contract the Background Index, the
// Indexing Scheduler, and the Deferred Resolver share. Every method takes
// the file uri as its correlation key; implementations are responsible for
// their own internal serialization of concurrent writes to the same uri
// (the file backend uses pkg/lock.WithLock; the SQL backend uses database
// transactions).
type ShardStore interface {
	// Get returns the shard for uri, or ErrNotFound if none exists.
	// ErrCorrupt is returned (never silently swallowed) when a shard is
	// present but unreadable or was written by an incompatible version;
	// the caller is expected to treat this the same as ErrNotFound and
	// re-index the file.
	Get(ctx context.Context, u uri.URI) (model.FileShard, error)

	// Put writes shard for uri, replacing any existing shard. The write
	// is atomic from the point of view of any concurrent Get: readers
	// observe either the old or the new shard, never a partial one.
	Put(ctx context.Context, u uri.URI, shard model.FileShard) error

	// Delete removes the shard for uri. Deleting a uri that has no shard
	// is not an error.
	Delete(ctx context.Context, u uri.URI) error

	// Walk calls fn once per stored shard's uri. Implementations may walk
	// in any order. Walk stops and returns fn's error the first time fn
	// returns a non-nil error.
	Walk(ctx context.Context, fn func(u uri.URI) error) error

	// Close releases any resources (open files, connection pools) held by
	// the store.
	Close() error
}

// RelationalShardStore is an optional capability a ShardStore backend may
// offer when it can answer "which shards reference name" without loading
// and scanning every shard. The SQL backend implements this via an indexed
// reference-names table; the file backend does not. Outside the SQL
// backend's own tests, nothing in this module calls ShardsReferencingName.
type RelationalShardStore interface {
	ShardStore

	// ShardsReferencingName returns the uris of every shard whose
	// reference-name set contains name.
	ShardsReferencingName(ctx context.Context, name string) ([]uri.URI, error)
}

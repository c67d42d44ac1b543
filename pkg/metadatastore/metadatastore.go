// Package metadatastore persists the compact per-file summary used at
// startup to decide which files are stale without opening every shard.
package metadatastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	"github.com/p-sternik/codeindex/pkg/uri"
)

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}

	return time.Unix(sec, 0).UTC()
}

// MetadataStore is the Metadata Summary contract. It is deliberately much
// smaller than shardstore.ShardStore: callers that need full symbol data
// fall back to rebuilding this store by walking the ShardStore (see
// Rebuild).
type MetadataStore interface {
	// Load returns every stored FileMetadata entry. A missing or corrupt
	// store returns (nil, nil): callers are expected to treat that as "no
	// summary available yet" and call Rebuild, not an error condition.
	Load(ctx context.Context) (map[uri.URI]model.FileMetadata, error)

	// Save replaces the entire stored summary.
	Save(ctx context.Context, entries map[uri.URI]model.FileMetadata) error

	// Close releases any resources held by the store.
	Close() error
}

// Rebuild reconstructs a metadata summary by walking every shard in store.
// It is the fallback path used when Load reports no summary (first run,
// deleted file, or decode failure).
func Rebuild(ctx context.Context, store shardstore.ShardStore) (map[uri.URI]model.FileMetadata, error) {
	entries := make(map[uri.URI]model.FileMetadata)

	err := store.Walk(ctx, func(u uri.URI) error {
		shard, err := store.Get(ctx, u)
		if err != nil {
			if errors.Is(err, shardstore.ErrNotFound) || errors.Is(err, shardstore.ErrCorrupt) {
				return nil
			}

			return err
		}

		entries[u] = shard.Summarize()

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// FileStore is a MetadataStore backed by a single JSON file. It is
// intentionally not content-addressed or sharded like the shardstore.file
// store: the summary is one compact document meant to be read whole at
// startup.
type FileStore struct {
	path string

	mu sync.Mutex
}

// NewFileStore returns a FileStore persisting to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements MetadataStore.
func (f *FileStore) Load(context.Context) (map[uri.URI]model.FileMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading metadata summary %q: %w", f.path, err)
	}

	var entries map[uri.URI]model.FileMetadata
	if err := json.Unmarshal(data, &entries); err != nil {
		// Corrupt summary: the caller rebuilds from the shard store, so we
		// do not propagate this as a fatal error.
		return nil, nil //nolint:nilerr
	}

	return entries, nil
}

// Save implements MetadataStore, writing via a temp-file-then-rename so a
// reader never observes a partially written summary.
func (f *FileStore) Save(_ context.Context, entries map[uri.URI]model.FileMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, f.path)
}

// Close implements MetadataStore.
func (f *FileStore) Close() error { return nil }

// sqlRow is the bun model behind the SQL-backed MetadataStore.
type sqlRow struct {
	bun.BaseModel `bun:"table:file_metadata,alias:fm"`

	URI           string `bun:"uri,pk"`
	ContentHash   string `bun:"content_hash,notnull"`
	MTime         int64  `bun:"mtime,notnull"`
	SymbolCount   int    `bun:"symbol_count,notnull"`
	LastIndexedAt int64  `bun:"last_indexed_at,notnull"`
}

// SQLStore is a MetadataStore backed by the same *bun.DB as
// pkg/shardstore/sql, for deployments that chose the SQL shard backend and
// want the metadata summary to live alongside it rather than as a loose
// file.
type SQLStore struct {
	db *bun.DB
}

// NewSQLStore wraps db, creating the file_metadata table if needed.
func NewSQLStore(ctx context.Context, db *bun.DB) (*SQLStore, error) {
	if _, err := db.NewCreateTable().Model((*sqlRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("creating file_metadata schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Load implements MetadataStore.
func (s *SQLStore) Load(ctx context.Context) (map[uri.URI]model.FileMetadata, error) {
	var rows []sqlRow

	if err := s.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, nil //nolint:nilerr
	}

	entries := make(map[uri.URI]model.FileMetadata, len(rows))
	for _, r := range rows {
		u := uri.URI(r.URI)
		entries[u] = model.FileMetadata{
			URI:           u,
			ContentHash:   r.ContentHash,
			SymbolCount:   r.SymbolCount,
			MTime:         unixToTime(r.MTime),
			LastIndexedAt: unixToTime(r.LastIndexedAt),
		}
	}

	return entries, nil
}

// Save implements MetadataStore by replacing the table contents wholesale
// inside a single transaction.
func (s *SQLStore) Save(ctx context.Context, entries map[uri.URI]model.FileMetadata) error {
	rows := make([]*sqlRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, &sqlRow{
			URI:           e.URI.String(),
			ContentHash:   e.ContentHash,
			MTime:         e.MTime.Unix(),
			SymbolCount:   e.SymbolCount,
			LastIndexedAt: e.LastIndexedAt.Unix(),
		})
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*sqlRow)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		_, err := tx.NewInsert().Model(&rows).Exec(ctx)

		return err
	})
}

// Close implements MetadataStore.
func (s *SQLStore) Close() error { return nil }

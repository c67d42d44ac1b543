// Package sql implements shardstore.ShardStore on top of uptrace/bun,
// giving operators a SQL-backed alternative (SQLite or PostgreSQL; Put's
// upsert uses ON CONFLICT syntax, which MySQL does not accept) to the
// bucketed file store in pkg/shardstore/file. It additionally
// implements shardstore.RelationalShardStore, answering
// "which shards reference name" with an indexed query instead of a full
// shard walk.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// shardRow is the bun model backing the shards table. The parsed symbols,
// references, imports, re-exports and pending references travel as an
// opaque gob payload (shardstore.Encode/Decode); the name-indexed tables
// below exist purely so ShardsReferencingName can avoid decoding every row.
type shardRow struct {
	bun.BaseModel `bun:"table:shards,alias:sh"`

	URI           string    `bun:"uri,pk"`
	ContentHash   string    `bun:"content_hash,notnull"`
	LastIndexedAt time.Time `bun:"last_indexed_at,notnull"`
	MTime         time.Time `bun:"mtime,notnull"`
	Payload       []byte    `bun:"payload"`
}

type shardReferenceNameRow struct {
	bun.BaseModel `bun:"table:shard_reference_names,alias:srn"`

	URI  string `bun:"uri,pk"`
	Name string `bun:"name,pk"`
}

type shardSymbolNameRow struct {
	bun.BaseModel `bun:"table:shard_symbol_names,alias:ssn"`

	URI  string `bun:"uri,pk"`
	Name string `bun:"name,pk"`
}

// Store is a shardstore.ShardStore and shardstore.RelationalShardStore
// backed by a *bun.DB.
type Store struct {
	db *bun.DB
}

// New wraps db, creating the shard tables if they do not already exist.
func New(ctx context.Context, db *bun.DB) (*Store, error) {
	s := &Store{db: db}

	for _, model := range []any{
		(*shardRow)(nil),
		(*shardReferenceNameRow)(nil),
		(*shardSymbolNameRow)(nil),
	} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return nil, fmt.Errorf("creating shard schema: %w", err)
		}
	}

	return s, nil
}

// Get implements shardstore.ShardStore.
func (s *Store) Get(ctx context.Context, u uri.URI) (model.FileShard, error) {
	row := new(shardRow)

	err := s.db.NewSelect().Model(row).Where("uri = ?", u.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FileShard{}, shardstore.ErrNotFound
		}

		return model.FileShard{}, err
	}

	shard, err := shardstore.Decode(row.Payload)
	if err != nil {
		return model.FileShard{}, err
	}

	shard.URI = u

	return shard, nil
}

// Put implements shardstore.ShardStore, replacing the shard row and its
// name-index rows inside a single transaction so ShardsReferencingName
// never observes a shard without its reference names or vice versa.
func (s *Store) Put(ctx context.Context, u uri.URI, shard model.FileShard) error {
	shard.URI = u

	payload, err := shardstore.Encode(shard)
	if err != nil {
		return err
	}

	row := &shardRow{
		URI:           u.String(),
		ContentHash:   shard.ContentHash,
		LastIndexedAt: shard.LastIndexedAt,
		MTime:         shard.MTime,
		Payload:       payload,
	}

	// TODO: the ON CONFLICT clause below is Postgres/SQLite syntax; a MySQL
	// bun.Dialect needs "ON DUPLICATE KEY UPDATE" instead.
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(row).
			On("CONFLICT (uri) DO UPDATE").
			Set("content_hash = EXCLUDED.content_hash").
			Set("last_indexed_at = EXCLUDED.last_indexed_at").
			Set("mtime = EXCLUDED.mtime").
			Set("payload = EXCLUDED.payload").
			Exec(ctx); err != nil {
			return fmt.Errorf("upserting shard row: %w", err)
		}

		if _, err := tx.NewDelete().Model((*shardReferenceNameRow)(nil)).
			Where("uri = ?", u.String()).Exec(ctx); err != nil {
			return fmt.Errorf("clearing reference names: %w", err)
		}

		if _, err := tx.NewDelete().Model((*shardSymbolNameRow)(nil)).
			Where("uri = ?", u.String()).Exec(ctx); err != nil {
			return fmt.Errorf("clearing symbol names: %w", err)
		}

		seenRefs := make(map[string]struct{}, len(shard.References))
		refRows := make([]*shardReferenceNameRow, 0, len(shard.References))

		for _, ref := range shard.References {
			if _, ok := seenRefs[ref.SymbolName]; ok {
				continue
			}

			seenRefs[ref.SymbolName] = struct{}{}
			refRows = append(refRows, &shardReferenceNameRow{URI: u.String(), Name: ref.SymbolName})
		}

		if len(refRows) > 0 {
			if _, err := tx.NewInsert().Model(&refRows).Exec(ctx); err != nil {
				return fmt.Errorf("inserting reference names: %w", err)
			}
		}

		seenSyms := make(map[string]struct{}, len(shard.Symbols))
		symRows := make([]*shardSymbolNameRow, 0, len(shard.Symbols))

		for _, sym := range shard.Symbols {
			if _, ok := seenSyms[sym.Name]; ok {
				continue
			}

			seenSyms[sym.Name] = struct{}{}
			symRows = append(symRows, &shardSymbolNameRow{URI: u.String(), Name: sym.Name})
		}

		if len(symRows) > 0 {
			if _, err := tx.NewInsert().Model(&symRows).Exec(ctx); err != nil {
				return fmt.Errorf("inserting symbol names: %w", err)
			}
		}

		return nil
	})
}

// Delete implements shardstore.ShardStore.
func (s *Store) Delete(ctx context.Context, u uri.URI) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*shardRow)(nil)).Where("uri = ?", u.String()).Exec(ctx); err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*shardReferenceNameRow)(nil)).Where("uri = ?", u.String()).Exec(ctx); err != nil {
			return err
		}

		_, err := tx.NewDelete().Model((*shardSymbolNameRow)(nil)).Where("uri = ?", u.String()).Exec(ctx)

		return err
	})
}

// Walk implements shardstore.ShardStore.
func (s *Store) Walk(ctx context.Context, fn func(u uri.URI) error) error {
	var uris []string

	if err := s.db.NewSelect().Model((*shardRow)(nil)).Column("uri").Scan(ctx, &uris); err != nil {
		return err
	}

	for _, u := range uris {
		if err := fn(uri.URI(u)); err != nil {
			return err
		}
	}

	return nil
}

// ShardsReferencingName implements shardstore.RelationalShardStore.
func (s *Store) ShardsReferencingName(ctx context.Context, name string) ([]uri.URI, error) {
	var uris []string

	err := s.db.NewSelect().Model((*shardReferenceNameRow)(nil)).
		Column("uri").
		Where("name = ?", name).
		Scan(ctx, &uris)
	if err != nil {
		return nil, err
	}

	result := make([]uri.URI, len(uris))
	for i, u := range uris {
		result[i] = uri.URI(u)
	}

	return result, nil
}

// Close implements shardstore.ShardStore.
func (s *Store) Close() error {
	return s.db.Close()
}

package cmd

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/rs/zerolog"
	glob "github.com/ryanuber/go-glob"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/p-sternik/codeindex/pkg/bgindex"
	"github.com/p-sternik/codeindex/pkg/config"
	"github.com/p-sternik/codeindex/pkg/lock"
	"github.com/p-sternik/codeindex/pkg/lock/local"
	"github.com/p-sternik/codeindex/pkg/lock/redis"
	"github.com/p-sternik/codeindex/pkg/mergedindex"
	"github.com/p-sternik/codeindex/pkg/parser"
	"github.com/p-sternik/codeindex/pkg/resolver"
	"github.com/p-sternik/codeindex/pkg/scheduler"
	"github.com/p-sternik/codeindex/pkg/shardstore"
	"github.com/p-sternik/codeindex/pkg/shardstore/file"
	shardsql "github.com/p-sternik/codeindex/pkg/shardstore/sql"
	"github.com/p-sternik/codeindex/pkg/uri"
)

// indexStack bundles the pieces every subcommand needs: the merged query
// façade for reads, and the scheduler/resolver pair that drives writes.
// Dynamic and Static tiers are not wired here — this CLI only ever serves
// the Background Index directly off disk; an editor integration embedding
// these packages would add its own Dynamic Index over an open-buffer
// store.
type indexStack struct {
	Merged     *mergedindex.Index
	Background *bgindex.Index
	Scheduler  *scheduler.Scheduler
	Resolver   *resolver.Resolver
	Close      func() error
}

// buildIndexStack wires a Background Index, its ShardStore (file or SQL,
// per buildShardStore), a
// Scheduler configured to trigger the Deferred Resolver after every bulk
// run, and a merged query façade over them — the shared bottom half of
// serve, reindex, dead-code, and inspect.
func buildIndexStack(ctx context.Context, cfg config.Config, log zerolog.Logger) (*indexStack, error) {
	if err := os.MkdirAll(cfg.CacheDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory %q: %w", cfg.CacheDirectory, err)
	}

	locker, err := buildLocker(ctx, cfg.Lock, log)
	if err != nil {
		return nil, fmt.Errorf("building locker: %w", err)
	}

	store, closeStore, err := buildShardStore(ctx, cfg, locker, log)
	if err != nil {
		return nil, fmt.Errorf("opening shard store: %w", err)
	}

	bg := bgindex.New(store, log)
	go bg.Run(ctx)

	p := parser.NewFake()

	sched := scheduler.New(bg, p, cfg.MaxConcurrentIndexJobs, cfg.MaxIndexedFileSize, log)
	res := resolver.New(bg, locker)

	sched.OnBulkComplete = func(ctx context.Context, correlationID string) error {
		result, err := res.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("resolving pending references: %w", err)
		}

		log.Info().
			Str("correlation_id", correlationID).
			Int("groups_found", result.GroupsFound).
			Int("resolved", result.Resolved).
			Int("fallback_resolved", result.FallbackResolved).
			Dur("elapsed", result.Elapsed).
			Msg("deferred resolution complete")

		return nil
	}

	merged := mergedindex.New(nil, bg, nil)

	return &indexStack{
		Merged:     merged,
		Background: bg,
		Scheduler:  sched,
		Resolver:   res,
		Close:      closeStore,
	}, nil
}

// buildShardStore selects the ShardStore implementation for the
// Background Index. "sql" opens a *bun.DB against cfg.ShardStore.SQLDSN
// using the dialect matching cfg.ShardStore.SQLDriver and wraps it in
// pkg/shardstore/sql; anything else (including the empty string) opens
// the bucketed pkg/shardstore/file store under cfg.CacheDirectory.
func buildShardStore(
	ctx context.Context,
	cfg config.Config,
	locker lock.Locker,
	log zerolog.Logger,
) (shardstore.ShardStore, func() error, error) {
	if cfg.ShardStore.Backend != "sql" {
		opts := file.Options{CacheSize: cfg.MaxCacheSize}

		if cfg.WriteBuffer.Enabled {
			opts.CoalesceWindow = time.Duration(cfg.WriteBuffer.DelayMs) * time.Millisecond
		} else {
			opts.CoalesceWindow = -1
		}

		store, err := file.NewWithOptions(cfg.CacheDirectory, opts, locker, log)
		if err != nil {
			return nil, nil, fmt.Errorf("opening file shard store at %q: %w", cfg.CacheDirectory, err)
		}

		return store, store.Close, nil
	}

	var (
		sqlDB   *sql.DB
		dialect schema.Dialect
		err     error
	)

	switch cfg.ShardStore.SQLDriver {
	case "mysql":
		sqlDB, err = otelsql.Open("mysql", cfg.ShardStore.SQLDSN, otelsql.WithAttributes(semconv.DBSystemMySQL))
		dialect = mysqldialect.New()
	case "postgres":
		sqlDB, err = otelsql.Open("pgx", cfg.ShardStore.SQLDSN, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
		dialect = pgdialect.New()
	default:
		sqlDB, err = otelsql.Open("sqlite3", cfg.ShardStore.SQLDSN, otelsql.WithAttributes(semconv.DBSystemSqlite))
		dialect = sqlitedialect.New()
	}

	if err != nil {
		return nil, nil, fmt.Errorf("opening %s database: %w", cfg.ShardStore.SQLDriver, err)
	}

	db := bun.NewDB(sqlDB, dialect)

	store, err := shardsql.New(ctx, db)
	if err != nil {
		_ = sqlDB.Close()

		return nil, nil, fmt.Errorf("preparing sql shard store: %w", err)
	}

	return store, store.Close, nil
}

// buildLocker selects the Locker implementation backing the shard store
// and Deferred Resolver. "redis" spreads locking across cfg.RedisAddrs
// using the Redlock algorithm so multiple codeindex instances can share
// a cache directory on a network filesystem; anything else (including
// the empty string) falls back to an in-process local.Locker.
func buildLocker(ctx context.Context, cfg config.Lock, log zerolog.Logger) (lock.Locker, error) {
	if cfg.Backend != "redis" {
		return local.NewLocker(), nil
	}

	redisCfg := redis.Config{
		Addrs:     cfg.RedisAddrs,
		KeyPrefix: cfg.RedisKeyPrefix,
	}
	if redisCfg.KeyPrefix == "" {
		redisCfg.KeyPrefix = "codeindex:lock:"
	}

	l, err := redis.NewLocker(ctx, redisCfg, lock.DefaultRetryConfig(), cfg.RedisAllowDegraded)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis at %v: %w", cfg.RedisAddrs, err)
	}

	log.Info().Strs("redis_addrs", cfg.RedisAddrs).Msg("using redis-backed distributed locker")

	return l, nil
}

// contentHash returns the hex-encoded SHA-256 of raw file text. No code in
// this package calls it.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])
}

// listWorkspaceFiles walks root and returns every regular file not matched
// by any of excludePatterns, as URIs ready for scheduler.BulkIndex.
// Patterns containing "**" are matched with github.com/ryanuber/go-glob;
// simple patterns use path/filepath.Match against the path relative to
// root.
func listWorkspaceFiles(root string, excludePatterns []string) ([]uri.URI, error) {
	var files []uri.URI

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		if matchesAnyExcludePattern(rel, excludePatterns) {
			return nil
		}

		files = append(files, uri.New(path))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace %q: %w", root, err)
	}

	return files, nil
}

func matchesAnyExcludePattern(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(pattern, "**") {
			// A leading "**/" must also match at the workspace root, so rel
			// is tried with a leading separator as well.
			if glob.Glob(pattern, rel) || glob.Glob(pattern, "/"+rel) {
				return true
			}

			continue
		}

		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}

	return false
}

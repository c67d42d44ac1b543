// Package config holds the indexer's runtime configuration: the one
// struct every subcommand in cmd/codeindex builds from CLI flags, env
// vars, and an optional config file (via urfave/cli-altsrc), and then
// passes down into the scheduler, watcher, and dead-code analyzer.
package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	minConcurrentIndexJobs = 1
	maxConcurrentIndexJobs = 16

	minDebounceDelay = 100 * time.Millisecond
	maxDebounceDelay = 5 * time.Second

	defaultMaxConcurrentIndexJobs = 8
	defaultMaxIndexedFileSize     = 5 * 1024 * 1024 // 5MiB
	defaultMaxCacheSize           = 50              // shard LRU entry capacity
	defaultDebounceDelay          = 400 * time.Millisecond

	minMaxCacheSize = 1
)

// WriteBuffer controls the shard store's write-coalescing behavior.
type WriteBuffer struct {
	Enabled bool
	DelayMs int
}

// ShardStore selects the backend buildIndexStack wires up for shard
// persistence. Backend "file" (the default) uses the content-addressed,
// directory-bucketed store in pkg/shardstore/file. Backend "sql" uses
// pkg/shardstore/sql over the given driver/DSN, trading the file store's
// write-coalescing for a single queryable database any number of
// codeindex instances can share.
type ShardStore struct {
	Backend string

	SQLDriver string // "sqlite", "mysql", or "postgres"
	SQLDSN    string
}

// Lock selects the locker buildIndexStack wires up for the shard store
// and the Deferred Resolver. Backend "local" (the default) uses an
// in-process sync.Mutex and only makes sense for a single codeindex
// instance; "redis" uses the Redlock algorithm across RedisAddrs so
// multiple codeindex instances can share one cache directory over a
// network filesystem.
type Lock struct {
	Backend string

	RedisAddrs         []string
	RedisKeyPrefix     string
	RedisAllowDegraded bool
}

// Config is the full set of indexer settings.
type Config struct {
	CacheDirectory string

	ExcludePatterns []string

	MaxConcurrentIndexJobs int
	MaxIndexedFileSize     int64
	// MaxCacheSize is the capacity of the shard store's in-memory LRU
	// mirror, in entries (not bytes) — see pkg/shardstore/file.Store.
	MaxCacheSize int

	WriteBuffer WriteBuffer

	DebounceDelay time.Duration

	IncludeTests bool

	EntryPointGlobs   []string
	CheckBarrierFiles bool
	BarrierFileGlobs  []string

	ShardStore ShardStore
	Lock       Lock

	// ReindexCronSchedule is a standard five-field cron expression
	// (e.g. "0 */6 * * *"). When non-empty, serve adds a cron job that
	// re-walks workspace-root and bulk-indexes it on that schedule, on
	// top of the filesystem watcher, to catch changes the watcher
	// missed (external bulk edits, a stale watch after a rename storm).
	// Empty disables the job.
	ReindexCronSchedule string
}

// Default returns a Config with every field set to its documented
// default, for callers (tests, `codeindex inspect`) that do not need to
// wire up the full CLI flag set.
func Default(cacheDirectory string) Config {
	return Config{
		CacheDirectory:         cacheDirectory,
		MaxConcurrentIndexJobs: defaultMaxConcurrentIndexJobs,
		MaxIndexedFileSize:     defaultMaxIndexedFileSize,
		MaxCacheSize:           defaultMaxCacheSize,
		WriteBuffer:            WriteBuffer{Enabled: true, DelayMs: 100},
		DebounceDelay:          defaultDebounceDelay,
		IncludeTests:           true,
		ShardStore:             ShardStore{Backend: "file"},
		Lock:                   Lock{Backend: "local"},
	}
}

// Validate clamps out-of-range values to their documented bounds and
// returns an error only for settings that cannot be sanitized: an empty
// cache directory, a redis lock backend without addresses, a sql shard
// store with an unknown driver or no DSN, or a malformed cron schedule.
func (c *Config) Validate() error {
	if c.CacheDirectory == "" {
		return fmt.Errorf("cacheDirectory must not be empty")
	}

	if c.MaxConcurrentIndexJobs < minConcurrentIndexJobs {
		c.MaxConcurrentIndexJobs = minConcurrentIndexJobs
	}

	if c.MaxConcurrentIndexJobs > maxConcurrentIndexJobs {
		c.MaxConcurrentIndexJobs = maxConcurrentIndexJobs
	}

	if c.DebounceDelay < minDebounceDelay {
		c.DebounceDelay = minDebounceDelay
	}

	if c.DebounceDelay > maxDebounceDelay {
		c.DebounceDelay = maxDebounceDelay
	}

	if c.MaxCacheSize < minMaxCacheSize {
		c.MaxCacheSize = defaultMaxCacheSize
	}

	if c.Lock.Backend == "" {
		c.Lock.Backend = "local"
	}

	if c.Lock.Backend == "redis" && len(c.Lock.RedisAddrs) == 0 {
		return fmt.Errorf("lock.backend is %q but no redis addresses were configured", c.Lock.Backend)
	}

	if c.ShardStore.Backend == "" {
		c.ShardStore.Backend = "file"
	}

	if c.ShardStore.Backend == "sql" {
		switch c.ShardStore.SQLDriver {
		case "sqlite", "mysql", "postgres":
		default:
			return fmt.Errorf("shardStore.backend is %q but sqlDriver %q is not one of sqlite, mysql, postgres",
				c.ShardStore.Backend, c.ShardStore.SQLDriver)
		}

		if c.ShardStore.SQLDSN == "" {
			return fmt.Errorf("shardStore.backend is %q but no sqlDSN was configured", c.ShardStore.Backend)
		}
	}

	if c.ReindexCronSchedule != "" {
		if _, err := cron.ParseStandard(c.ReindexCronSchedule); err != nil {
			return fmt.Errorf("reindexCronSchedule %q is not a valid cron expression: %w", c.ReindexCronSchedule, err)
		}
	}

	return nil
}

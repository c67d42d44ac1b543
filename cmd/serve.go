package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/p-sternik/codeindex/pkg/config"
	"github.com/p-sternik/codeindex/pkg/deadcode"
	"github.com/p-sternik/codeindex/pkg/helper"
	"github.com/p-sternik/codeindex/pkg/prometheus"
	"github.com/p-sternik/codeindex/pkg/scheduler"
	"github.com/p-sternik/codeindex/pkg/server"
	"github.com/p-sternik/codeindex/pkg/uri"
	"github.com/p-sternik/codeindex/pkg/watcher"
)

func workspaceFlags(flagSources flagSourcesFn) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "workspace-root",
			Usage:    "Root directory of the workspace to index",
			Sources:  flagSources("workspace.root", "WORKSPACE_ROOT"),
			Required: true,
		},
		&cli.StringFlag{
			Name:    "cache-directory",
			Usage:   "Directory used to persist the shard store",
			Sources: flagSources("cache.directory", "CACHE_DIRECTORY"),
		},
		&cli.StringSliceFlag{
			Name:    "exclude-pattern",
			Usage:   "Glob pattern (relative to workspace-root, ** supported) excluded from indexing; may be repeated",
			Sources: flagSources("index.exclude-patterns", "EXCLUDE_PATTERNS"),
		},
		&cli.IntFlag{
			Name:    "max-concurrent-index-jobs",
			Usage:   "Worker-pool size for bulk indexing, clamped to [1, 16]",
			Sources: flagSources("index.max-concurrent-jobs", "MAX_CONCURRENT_INDEX_JOBS"),
		},
		&cli.StringFlag{
			Name: "max-indexed-file-size",
			//nolint:lll
			Usage:   "Files larger than this are recorded as skipped rather than parsed. Units such as 5K, 10M, 1G are accepted; supported units: B, K, M, G, T",
			Sources: flagSources("index.max-indexed-file-size", "MAX_INDEXED_FILE_SIZE"),
			Validator: func(s string) error {
				if s == "" {
					return nil
				}

				_, err := helper.ParseSize(s)

				return err
			},
		},
		&cli.IntFlag{
			Name:    "max-cache-size",
			Usage:   "Capacity, in entries, of the shard store's in-memory LRU mirror",
			Sources: flagSources("index.max-cache-size", "MAX_CACHE_SIZE"),
		},
		&cli.StringFlag{
			Name:    "shard-store-backend",
			Usage:   `Shard persistence backend: "file" (default, bucketed on cache-directory) or "sql"`,
			Sources: flagSources("shardstore.backend", "SHARD_STORE_BACKEND"),
			Value:   "file",
		},
		&cli.StringFlag{
			Name:    "shard-store-sql-driver",
			Usage:   `Driver for shard-store-backend=sql: "sqlite", "mysql", or "postgres"`,
			Sources: flagSources("shardstore.sql-driver", "SHARD_STORE_SQL_DRIVER"),
		},
		&cli.StringFlag{
			Name:    "shard-store-sql-dsn",
			Usage:   "Data source name for shard-store-backend=sql",
			Sources: flagSources("shardstore.sql-dsn", "SHARD_STORE_SQL_DSN"),
		},
		&cli.StringFlag{
			Name:    "lock-backend",
			Usage:   `Locker backend for the shard store and deferred resolver: "local" or "redis"`,
			Sources: flagSources("lock.backend", "LOCK_BACKEND"),
			Value:   "local",
		},
		&cli.StringSliceFlag{
			Name:    "lock-redis-addr",
			Usage:   "Redis server address for lock-backend=redis (Redlock HA across multiple nodes); may be repeated",
			Sources: flagSources("lock.redis-addrs", "LOCK_REDIS_ADDRS"),
		},
		&cli.BoolFlag{
			Name:    "lock-redis-allow-degraded",
			Usage:   "Fall back to an in-process local lock when Redis is unreachable instead of failing",
			Sources: flagSources("lock.redis-allow-degraded", "LOCK_REDIS_ALLOW_DEGRADED"),
		},
		&cli.StringFlag{
			Name:    "reindex-schedule",
			Usage:   `Standard cron expression (e.g. "0 */6 * * *") for a periodic full re-index on top of the watcher; empty disables it`,
			Sources: flagSources("index.reindex-schedule", "REINDEX_SCHEDULE"),
		},
		&cli.BoolFlag{
			Name:    "write-buffer-enabled",
			Usage:   "Coalesce rapid same-uri shard writes within write-buffer-delay-ms into a single disk write; false writes through immediately",
			Sources: flagSources("shardstore.write-buffer-enabled", "WRITE_BUFFER_ENABLED"),
			Value:   true,
		},
		&cli.IntFlag{
			Name:    "write-buffer-delay-ms",
			Usage:   "Coalescing window, in milliseconds, for write-buffer-enabled",
			Sources: flagSources("shardstore.write-buffer-delay-ms", "WRITE_BUFFER_DELAY_MS"),
		},
	}
}

func configFromCommand(cmd *cli.Command) config.Config {
	cacheDir := cmd.String("cache-directory")
	if cacheDir == "" {
		cacheDir = cmd.String("workspace-root") + "/.codeindex"
	}

	cfg := config.Default(cacheDir)
	cfg.ExcludePatterns = cmd.StringSlice("exclude-pattern")

	if v := cmd.Int("max-concurrent-index-jobs"); v > 0 {
		cfg.MaxConcurrentIndexJobs = int(v)
	}

	if s := cmd.String("max-indexed-file-size"); s != "" {
		if v, err := helper.ParseSize(s); err == nil {
			cfg.MaxIndexedFileSize = int64(v)
		}
	}

	if v := cmd.Int("max-cache-size"); v > 0 {
		cfg.MaxCacheSize = int(v)
	}

	cfg.Lock = config.Lock{
		Backend:            cmd.String("lock-backend"),
		RedisAddrs:         cmd.StringSlice("lock-redis-addr"),
		RedisAllowDegraded: cmd.Bool("lock-redis-allow-degraded"),
	}

	cfg.ShardStore = config.ShardStore{
		Backend:   cmd.String("shard-store-backend"),
		SQLDriver: cmd.String("shard-store-sql-driver"),
		SQLDSN:    cmd.String("shard-store-sql-dsn"),
	}

	cfg.ReindexCronSchedule = cmd.String("reindex-schedule")

	cfg.WriteBuffer.Enabled = cmd.Bool("write-buffer-enabled")
	if v := cmd.Int("write-buffer-delay-ms"); v > 0 {
		cfg.WriteBuffer.DelayMs = int(v)
	}

	return cfg
}

func serveCommand(flagSources flagSourcesFn) *cli.Command {
	flags := append(workspaceFlags(flagSources),
		&cli.StringFlag{
			Name:    "server-addr",
			Usage:   "The address the HTTP query surface listens on",
			Sources: flagSources("server.addr", "SERVER_ADDR"),
			Value:   ":8501",
		},
		&cli.BoolFlag{
			Name:    "watch",
			Usage:   "Watch workspace-root for filesystem changes and keep the index up to date",
			Sources: flagSources("server.watch", "SERVER_WATCH"),
			Value:   true,
		},
	)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Run a bulk index pass then serve the query surface over HTTP",
		Action: serveAction(),
		Flags:  flags,
	}
}

func serveAction() cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		logger := zerolog.Ctx(ctx).With().Str("cmd", "serve").Logger()
		ctx = logger.WithContext(ctx)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return autoMaxProcs(ctx, 30*time.Second, logger)
		})

		cfg := configFromCommand(cmd)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		root := cmd.String("workspace-root")

		stack, err := buildIndexStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		files, err := listWorkspaceFiles(root, cfg.ExcludePatterns)
		if err != nil {
			return err
		}

		logger.Info().Int("files", len(files)).Str("root", root).Msg("starting initial bulk index")

		if err := stack.Scheduler.BulkIndex(ctx, files, scheduler.ListFiles); err != nil {
			return fmt.Errorf("initial bulk index failed: %w", err)
		}

		var reindexCron *cron.Cron

		if cfg.ReindexCronSchedule != "" {
			reindexCron = cron.New()

			_, err := reindexCron.AddFunc(cfg.ReindexCronSchedule, func() {
				files, err := listWorkspaceFiles(root, cfg.ExcludePatterns)
				if err != nil {
					logger.Error().Err(err).Msg("scheduled re-index failed to walk workspace")

					return
				}

				logger.Info().Int("files", len(files)).Msg("starting scheduled full re-index")

				if err := stack.Scheduler.BulkIndex(ctx, files, scheduler.ListFiles); err != nil {
					logger.Error().Err(err).Msg("scheduled re-index failed")
				}
			})
			if err != nil {
				return fmt.Errorf("scheduling reindex-schedule %q: %w", cfg.ReindexCronSchedule, err)
			}

			reindexCron.Start()
			defer func() { <-reindexCron.Stop().Done() }()
		}

		var w *watcher.Watcher

		if cmd.Bool("watch") {
			w, err = watcher.New(root, cfg.DebounceDelay, func(ctx context.Context, u uri.URI, kind string) {
				if kind == "remove" {
					if err := stack.Scheduler.RemoveFile(ctx, u); err != nil {
						logger.Error().Err(err).Str("uri", u.String()).Msg("failed to remove file from index")
					}

					return
				}

				text, _, readErr := scheduler.ListFiles(u)
				if readErr != nil {
					logger.Warn().Err(readErr).Str("uri", u.String()).Msg("skipping unreadable file change")

					return
				}

				if _, err := stack.Scheduler.IndexFile(ctx, u, text); err != nil {
					logger.Error().Err(err).Str("uri", u.String()).Msg("failed to index changed file")
				}
			}, logger)
			if err != nil {
				return fmt.Errorf("starting filesystem watcher: %w", err)
			}

			g.Go(func() error { return w.Run(ctx) })
		}

		var dc *deadcode.Analyzer

		if cfg.CheckBarrierFiles || len(cfg.EntryPointGlobs) > 0 {
			dc = deadcode.New(stack.Background, deadcode.Config{
				EntryPointGlobs:  cfg.EntryPointGlobs,
				BarrierFileGlobs: cfg.BarrierFileGlobs,
			})
		}

		srv := server.New(stack.Merged, stack.Scheduler, stack.Resolver, dc, logger)

		var promShutdown func(context.Context) error

		if cmd.Root().Bool("prometheus-enabled") {
			gatherer, shutdown, err := prometheus.SetupPrometheusMetrics(ctx, cmd.Root().Name, Version)
			if err != nil {
				return fmt.Errorf("setting up Prometheus metrics: %w", err)
			}

			promShutdown = shutdown

			srv.SetPrometheusGatherer(gatherer)

			logger.Info().Msg("Prometheus metrics enabled at /metrics")
		}

		defer func() {
			if promShutdown != nil {
				if err := promShutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("error shutting down Prometheus metrics")
				}
			}
		}()

		httpServer := &http.Server{
			BaseContext:       func(net.Listener) context.Context { return ctx },
			Addr:              cmd.String("server-addr"),
			Handler:           otelhttp.NewHandler(srv, "codeindex.server"),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			<-ctx.Done()

			return httpServer.Shutdown(context.Background())
		})

		logger.Info().Str("server_addr", cmd.String("server-addr")).Msg("server started")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("error starting the HTTP listener: %w", err)
		}

		cancel()

		return g.Wait()
	}
}

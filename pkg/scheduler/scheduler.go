// Package scheduler drives indexing work against the Background Index: a
// single file on an editor save, or a bulk pass over an entire workspace.
// Bulk passes fan out across a bounded worker pool (golang.org/x/sync
// errgroup + semaphore) and report progress at a
// throttled rate so a slow terminal does not become the bottleneck.
package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/p-sternik/codeindex/pkg/bgindex"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/parser"
	"github.com/p-sternik/codeindex/pkg/uri"
)

const (
	// progressInterval and progressEveryNFiles bound how often Progress
	// fires during a bulk run: at most once per interval, or once every N
	// files, whichever comes first.
	progressInterval    = 500 * time.Millisecond
	progressEveryNFiles = 10

	defaultMaxConcurrency = 8
	minConcurrency        = 1
	maxConcurrency        = 16
)

// Progress is reported to the optional OnProgress callback during a bulk
// run. CorrelationID identifies one bulk run end-to-end in logs.
type Progress struct {
	CorrelationID string
	FilesDone     int
	FilesTotal    int
}

// Scheduler runs indexing jobs against a Background Index.
type Scheduler struct {
	index  *bgindex.Index
	parser parser.Parser
	log    zerolog.Logger

	maxConcurrentIndexJobs int
	maxIndexedFileSize     int64

	// OnProgress, if set, is called at most every progressInterval or
	// every progressEveryNFiles files, whichever is sooner. It must not
	// block.
	OnProgress func(Progress)

	// OnBulkComplete, if set, is called once a bulk run finishes with
	// isBulkMode true, so the caller can decide to run the Deferred
	// Resolver (binding Container.member references is only worth the
	// cost after a bulk pass, not after every single-file edit).
	OnBulkComplete func(ctx context.Context, correlationID string) error
}

// New creates a Scheduler. maxConcurrentIndexJobs is clamped to [1, 16];
// 0 selects the default of 8.
func New(index *bgindex.Index, p parser.Parser, maxConcurrentIndexJobs int, maxIndexedFileSize int64, log zerolog.Logger) *Scheduler {
	if maxConcurrentIndexJobs == 0 {
		maxConcurrentIndexJobs = defaultMaxConcurrency
	}

	if maxConcurrentIndexJobs < minConcurrency {
		maxConcurrentIndexJobs = minConcurrency
	}

	if maxConcurrentIndexJobs > maxConcurrency {
		maxConcurrentIndexJobs = maxConcurrency
	}

	return &Scheduler{
		index:                  index,
		parser:                 p,
		log:                    log.With().Str("component", "scheduler").Logger(),
		maxConcurrentIndexJobs: maxConcurrentIndexJobs,
		maxIndexedFileSize:     maxIndexedFileSize,
	}
}

// IndexFile indexes a single file synchronously. This is the path taken on
// an editor save: isBulkMode is always false here, so the caller is
// expected to run the Deferred Resolver itself if the edit introduced new
// pending references worth re-resolving (typically skipped — single-file
// edits rarely complete a whole group declaration).
func (s *Scheduler) IndexFile(ctx context.Context, u uri.URI, text string) (model.FileMetadata, error) {
	result, err := s.parseOne(ctx, u, text)
	if err != nil {
		return model.FileMetadata{}, err
	}

	return s.index.UpdateFile(ctx, u, result)
}

// RemoveFile removes a deleted file from the index.
func (s *Scheduler) RemoveFile(ctx context.Context, u uri.URI) error {
	return s.index.RemoveFile(ctx, u)
}

// ReadFunc reads a file's contents and mtime. Bulk runs take this instead
// of a fixed root+filesystem so callers can drive the scheduler off a
// pre-filtered file list (respecting excludePatterns) without the
// scheduler itself knowing about glob matching.
type ReadFunc func(u uri.URI) (text string, mtime time.Time, err error)

// BulkIndex indexes every file in files concurrently, bounded by
// maxConcurrentIndexJobs, validating each file's mtime against what is
// already indexed before re-parsing it (files whose mtime is not newer than
// the recorded one are skipped without invoking the parser; no content
// hash is compared). isBulkMode is
// always true for this entry point; on success OnBulkComplete is invoked
// so the Deferred Resolver can run over the whole batch at once.
func (s *Scheduler) BulkIndex(ctx context.Context, files []uri.URI, read ReadFunc) error {
	correlationID := uuid.NewString()

	log := s.log.With().Str("correlation_id", correlationID).Logger()
	log.Info().Int("files", len(files)).Msg("starting bulk index")

	sem := semaphore.NewWeighted(int64(s.maxConcurrentIndexJobs))
	g, gctx := errgroup.WithContext(ctx)

	var (
		done       int
		lastReport time.Time
	)

	report := func() {
		if s.OnProgress == nil {
			return
		}

		if done%progressEveryNFiles == 0 || time.Since(lastReport) >= progressInterval || done == len(files) {
			lastReport = time.Now()
			s.OnProgress(Progress{CorrelationID: correlationID, FilesDone: done, FilesTotal: len(files)})
		}
	}

	for _, u := range files {
		u := u

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			if err := gctx.Err(); err != nil {
				return err
			}

			text, mtime, err := read(u)
			if err != nil {
				log.Warn().Err(err).Str("uri", u.String()).Msg("skipping unreadable file")

				return nil
			}

			if int64(len(text)) > s.maxIndexedFileSize && s.maxIndexedFileSize > 0 {
				_, err := s.index.UpdateFile(gctx, u, model.FileIndexResult{SkipReason: "exceeds maxIndexedFileSize"})

				return err
			}

			stale, err := s.isStale(gctx, u, mtime)
			if err != nil {
				return err
			}

			if !stale {
				done++
				report()

				return nil
			}

			result, err := s.parseOne(gctx, u, text)
			if err != nil {
				return err
			}

			if _, err := s.index.UpdateFile(gctx, u, result); err != nil {
				return err
			}

			done++
			report()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("bulk index complete")

	if s.OnBulkComplete != nil {
		return s.OnBulkComplete(ctx, correlationID)
	}

	return nil
}

// isStale reports whether u is missing from the index or its on-disk mtime
// is newer than what the index has recorded. Only mtimes are compared: a
// newer mtime always leads to a re-parse, whether or not the content
// changed.
func (s *Scheduler) isStale(ctx context.Context, u uri.URI, mtime time.Time) (bool, error) {
	meta, found, err := s.index.FileMetadata(ctx, u)
	if err != nil {
		return false, err
	}

	if !found {
		return true, nil
	}

	return mtime.After(meta.MTime), nil
}

func (s *Scheduler) parseOne(ctx context.Context, u uri.URI, text string) (model.FileIndexResult, error) {
	result, err := s.parser.Parse(ctx, u, text)
	if err != nil {
		return model.FileIndexResult{SkipReason: err.Error()}, nil //nolint:nilerr
	}

	return result, nil
}

// ListFiles is a small ReadFunc-compatible helper for the common case of
// indexing files directly off the local filesystem.
func ListFiles(u uri.URI) (string, time.Time, error) {
	path := u.String()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, err
	}

	return string(data), info.ModTime(), nil
}

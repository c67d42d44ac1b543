// Package watcher drives the scheduler from filesystem change events,
// using fsnotify to watch a workspace recursively. Rapid successive writes
// to the same file are debounced; an editor "save" event bypasses the
// debounce so the index reflects a save immediately.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/p-sternik/codeindex/pkg/uri"
)

const (
	// debounceMin/debounceMax bound the per-uri debounce window: an
	// editor's "modified" events for one save often arrive as several
	// rapid writes, so the watcher waits for quiet before indexing.
	debounceMin = 300 * time.Millisecond
	debounceMax = 600 * time.Millisecond
)

// Handler is called once per settled change. kind is "write", "create", or
// "remove"; a rename is reported as "remove" of the old path.
type Handler func(ctx context.Context, u uri.URI, kind string)

// Watcher recursively watches a root directory and debounces change
// events per file before invoking a Handler.
type Watcher struct {
	fsw     *fsnotify.Watcher
	root    string
	handler Handler
	debounceDelay time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	indexing map[string]struct{}
}

// New creates a Watcher rooted at root. debounceDelay is clamped to
// [debounceMin, debounceMax]; 0 selects debounceMin.
func New(root string, debounceDelay time.Duration, handler Handler, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if debounceDelay == 0 {
		debounceDelay = debounceMin
	}

	if debounceDelay < debounceMin {
		debounceDelay = debounceMin
	}

	if debounceDelay > debounceMax {
		debounceDelay = debounceMax
	}

	w := &Watcher{
		fsw:           fsw,
		root:          root,
		handler:       handler,
		debounceDelay: debounceDelay,
		log:           log.With().Str("component", "watcher").Logger(),
		timers:        make(map[string]*time.Timer),
		indexing:      make(map[string]struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()

		return nil, err
	}

	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return w.fsw.Add(path)
		}

		return nil
	})
}

// Run processes fsnotify events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}

			w.log.Error().Err(err).Msg("filesystem watch error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			_ = w.fsw.Add(event.Name)
		}

		return
	}

	switch {
	case event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0:
		w.cancelDebounce(event.Name)
		w.handler(ctx, uri.New(event.Name), "remove")
	case event.Op&fsnotify.Write != 0 || event.Op&fsnotify.Create != 0:
		kind := "write"
		if event.Op&fsnotify.Create != 0 {
			kind = "create"
		}

		w.debounce(ctx, event.Name, kind)
	}
}

// NotifySave bypasses the debounce window for an explicit editor save,
// indexing immediately.
func (w *Watcher) NotifySave(ctx context.Context, u uri.URI) {
	w.cancelDebounce(u.String())
	w.markIndexing(u.String())
	w.handler(ctx, u, "write")
	w.unmarkIndexing(u.String())
}

func (w *Watcher) debounce(ctx context.Context, path, kind string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}

	w.timers[path] = time.AfterFunc(w.debounceDelay, func() {
		w.markIndexing(path)
		defer w.unmarkIndexing(path)

		w.handler(ctx, uri.New(path), kind)

		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) markIndexing(path string) {
	w.mu.Lock()
	w.indexing[path] = struct{}{}
	w.mu.Unlock()
}

func (w *Watcher) unmarkIndexing(path string) {
	w.mu.Lock()
	delete(w.indexing, path)
	w.mu.Unlock()
}

// IsIndexing reports whether the Handler is currently running for path as
// a result of a watch event or NotifySave. The watcher itself does not
// consult it.
func (w *Watcher) IsIndexing(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.indexing[path]

	return ok
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Package watcher catalogs zip archives dropped into a local directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last write to an archive
// before it is handed on.
const DefaultDebounce = 2 * time.Second

// Arrival is an archive that stopped changing.
type Arrival struct {
	Path string // absolute file path
	Key  string // slash-separated path relative to the watched root
}

// Handler is called once per settled archive.
type Handler func(ctx context.Context, a Arrival) error

// Config holds watcher configuration.
type Config struct {
	Root     string
	Debounce time.Duration
}

// Watcher watches a directory tree for new or rewritten .zip files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	root      string
	debounce  time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running sync.WaitGroup
}

// New creates a watcher rooted at cfg.Root.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("watch root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		root:      root,
		debounce:  cfg.Debounce,
		timers:    make(map[string]*time.Timer),
	}, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string { return w.root }

// Start registers the directory tree and processes events until ctx is
// canceled. Archives already present are not replayed; use a scan for that.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching drop directory", "path", w.root, "debounce", w.debounce)

	go w.eventLoop(ctx)
	return nil
}

// Stop closes the watcher, drops pending archives and waits for running
// handlers.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()

	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	w.running.Wait()
	return err
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.cancel(event.Name)
		return
	case event.Op.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	case !event.Op.Has(fsnotify.Write):
		return
	}

	if !isArchive(event.Name) {
		return
	}
	w.logger.Debug("archive changed", "path", event.Name, "op", event.Op.String())
	w.schedule(ctx, event.Name)
}

// schedule (re)starts the quiet-period timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.fire(ctx, path) })
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) fire(ctx context.Context, path string) {
	w.mu.Lock()
	if _, ok := w.timers[path]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	w.running.Add(1)
	w.mu.Unlock()
	defer w.running.Done()

	if ctx.Err() != nil {
		return
	}

	key, err := w.keyFor(path)
	if err != nil {
		w.logger.Warn("archive outside watch root", "path", path, "error", err)
		return
	}

	w.logger.Info("archive settled", "path", path, "key", key)
	if err := w.handler(ctx, Arrival{Path: path, Key: key}); err != nil {
		w.logger.Error("cataloging dropped archive failed", "key", key, "error", err)
	}
}

// keyFor maps a file path to its storage key under the root.
func (w *Watcher) keyFor(path string) (string, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not below %s", path, w.root)
	}
	return filepath.ToSlash(rel), nil
}

// pendingCount returns the number of archives waiting for their quiet period.
func (w *Watcher) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

func isArchive(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".zip")
}

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a catalog file whenever it changes on disk.
type Watcher struct {
	path     string
	apply    func(*Catalog) error
	debounce time.Duration
	logger   *slog.Logger
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// NewWatcher creates a watcher for the catalog at path. apply receives every catalog that
// loads successfully after a change; a catalog that fails to load is logged and skipped.
func NewWatcher(path string, apply func(*Catalog) error, options ...WatchOption) *Watcher {
	w := &Watcher{
		path:     path,
		apply:    apply,
		debounce: 200 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("package", "go-mcp-device"), slog.String("component", "catalog"))
	return w
}

// WithWatchDebounce sets how long the watcher waits for further changes before reloading.
func WithWatchDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatchLogger sets the logger of the watcher.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Run watches until ctx is cancelled. The directory of the file is watched rather than the
// file itself, so editors that replace the file on save are followed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch catalog directory %q: %w", filepath.Dir(abs), err)
	}
	w.logger.Info("watching catalog", slog.String("path", abs))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", slog.String("err", err.Error()))
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	c, err := Load(w.path)
	if err != nil {
		w.logger.Error("failed to reload catalog", slog.String("err", err.Error()))
		return
	}
	if err := w.apply(c); err != nil {
		w.logger.Error("failed to apply catalog", slog.String("err", err.Error()))
		return
	}
	w.logger.Info("catalog reloaded",
		slog.Int("tools", len(c.Tools)),
		slog.Int("resources", len(c.Resources)),
	)
}

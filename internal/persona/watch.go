package persona

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher re-imports a personas file whenever it changes.
type Watcher struct {
	path     string
	prov     Provisioner
	debounce time.Duration
	logger   *slog.Logger
	// imported is called after every import attempt; tests hook it.
	imported func(names []string, err error)
}

func NewWatcher(path string, prov Provisioner) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		prov:     prov,
		debounce: defaultDebounce,
		logger:   slog.Default(),
	}
}

// Run imports the file once, then watches it until ctx is cancelled. The
// parent directory is watched so editors that replace the file on save are
// picked up. Import errors are logged and the previous prompts stay in place.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching personas file", "path", w.path)
	w.reimport(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("personas watcher error", "error", err)
		case <-timer.C:
			w.reimport(ctx)
		}
	}
}

func (w *Watcher) reimport(ctx context.Context) {
	names, err := Import(ctx, w.path, w.prov)
	if err != nil {
		w.logger.Error("importing personas", "path", w.path, "error", err)
	} else {
		w.logger.Info("personas imported", "path", w.path, "count", len(names))
	}
	if w.imported != nil {
		w.imported(names, err)
	}
}

// Package dirwatch follows the files of one directory and reports changes in
// debounced batches.
package dirwatch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/modhost/internal/logging"
)

const defaultDebounce = 200 * time.Millisecond

var ErrAlreadyRunning = errors.New("dirwatch: Run called more than once")

// Config holds the parameters of a Watcher.
type Config struct {
	// Dir is the watched directory. Subdirectories are not followed.
	Dir string
	// Match selects the file names (base names) that are reported. Nil
	// reports every file.
	Match func(name string) bool
	// Debounce is the quiet period after the last event before a batch is
	// reported.
	Debounce time.Duration
	Logger   logging.Logger
}

// Watcher reports changed file names of a directory.
type Watcher struct {
	cfg     Config
	fsw     *fsnotify.Watcher
	logger  logging.Logger
	started atomic.Bool
}

// New starts watching cfg.Dir.
func New(cfg Config) (*Watcher, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("dirwatch: resolve %s: %w", cfg.Dir, err)
	}
	cfg.Dir = dir
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dirwatch: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("dirwatch: watch %s: %w", dir, err)
	}
	return &Watcher{cfg: cfg, fsw: fsw, logger: logging.OrNop(cfg.Logger)}, nil
}

// Dir returns the absolute watched directory.
func (w *Watcher) Dir() string { return w.cfg.Dir }

// Run reports batches of changed names to onChange until ctx is cancelled.
// onChange runs on the Run goroutine, so batches never overlap.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, changed []string)) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("Failed to close directory watcher", "dir", w.cfg.Dir, "error", err)
		}
	}()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("dirwatch: event channel closed unexpectedly")
			}
			if filepath.Dir(evt.Name) != w.cfg.Dir {
				continue
			}
			name := filepath.Base(evt.Name)
			if w.cfg.Match != nil && !w.cfg.Match(name) {
				continue
			}
			pending[name] = struct{}{}
			timer.Reset(w.cfg.Debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := slices.Sorted(maps.Keys(pending))
			clear(pending)
			onChange(ctx, changed)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("dirwatch: error channel closed unexpectedly")
			}
			w.logger.Warn("Directory watcher error", "dir", w.cfg.Dir, "error", err)
		}
	}
}

// Close stops a watcher whose Run was never called.
func (w *Watcher) Close() error {
	if w.started.Load() {
		return nil
	}
	return w.fsw.Close()
}

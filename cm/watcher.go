package cm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modhost/internal/dirwatch"
	"github.com/GoCodeAlone/modhost/internal/logging"
)

var configExtensions = []string{".yaml", ".yml", ".toml", ".json"}

// Watcher feeds configuration files of a directory into an Admin. A file
// named "<pid>.<ext>" holds the properties of pid, "<factoryPid>~<name>.<ext>"
// those of a factory configuration. Removing a file deletes the
// configuration.
type Watcher struct {
	admin    *Admin
	dir      string
	fs       afero.Fs
	debounce time.Duration
	logger   logging.Logger

	mu     sync.Mutex
	loaded map[string]string // file name -> pid
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithFs reads files from fs instead of the OS file system. Run still
// watches the OS directory.
func WithFs(fs afero.Fs) WatcherOption {
	return func(w *Watcher) { w.fs = fs }
}

// WithDebounce sets the quiet period before changed files are read.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logging.OrNop(logger) }
}

// NewWatcher creates a watcher of dir feeding admin.
func NewWatcher(admin *Admin, dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		admin:  admin,
		dir:    dir,
		fs:     afero.NewOsFs(),
		logger: logging.Nop{},
		loaded: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsConfigFile reports whether name has a configuration file extension.
func IsConfigFile(name string) bool {
	return slices.Contains(configExtensions, strings.ToLower(filepath.Ext(name)))
}

// Load reads every configuration file of the directory once.
func (w *Watcher) Load() error {
	entries, err := afero.ReadDir(w.fs, w.dir)
	if err != nil {
		return fmt.Errorf("read configuration directory %s: %w", w.dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsConfigFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return w.Sync(names)
}

// Sync applies the current content of the named files: existing files
// update their configuration, missing ones delete it. It returns the joined
// errors of files that could not be applied.
func (w *Watcher) Sync(names []string) error {
	var errs []error
	for _, name := range names {
		if err := w.apply(name); err != nil {
			w.logger.Error("Failed to apply configuration file", "file", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Watcher) apply(name string) error {
	pid := strings.TrimSuffix(name, filepath.Ext(name))
	path := filepath.Join(w.dir, name)

	exists, err := afero.Exists(w.fs, path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if !exists {
		if _, ok := w.loaded[name]; !ok {
			return nil
		}
		delete(w.loaded, name)
		if err := w.admin.Delete(pid); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		w.logger.Info("Configuration removed", "pid", pid, "file", name)
		return nil
	}

	data, err := afero.ReadFile(w.fs, path)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	props, err := Decode(data, filepath.Ext(name))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := w.admin.Update(pid, props); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	w.loaded[name] = pid
	w.logger.Info("Configuration loaded", "pid", pid, "file", name)
	return nil
}

// Run loads the directory and follows its changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	dw, err := dirwatch.New(dirwatch.Config{
		Dir:      w.dir,
		Match:    IsConfigFile,
		Debounce: w.debounce,
		Logger:   w.logger,
	})
	if err != nil {
		return err
	}
	if err := w.Load(); err != nil {
		w.logger.Warn("Initial configuration load incomplete", "dir", w.dir, "error", err)
	}
	return dw.Run(ctx, func(_ context.Context, changed []string) {
		_ = w.Sync(changed)
	})
}

// Decode parses a configuration file body. ext selects the format.
func Decode(data []byte, ext string) (map[string]any, error) {
	props := make(map[string]any)
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &props); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&props); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&props); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		normalizeNumbers(props)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return props, nil
}

// normalizeNumbers turns json.Number into int64 or float64.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalize(v)
	}
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		normalizeNumbers(x)
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
	}
	return v
}

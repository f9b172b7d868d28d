// Package deploy installs, updates and uninstalls modules from the archives
// found in a directory. A module archive is a .zip file or a directory
// holding MODULE-INF.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/GoCodeAlone/modhost/internal/dirwatch"
	"github.com/GoCodeAlone/modhost/internal/logging"
	"github.com/GoCodeAlone/modhost/manifest"
)

// Host is the module runtime the deployer drives.
type Host interface {
	Install(ctx context.Context, location string) (int64, error)
	Update(ctx context.Context, id int64) error
	Uninstall(ctx context.Context, id int64) error
	Start(ctx context.Context, id int64) error
	// Refresh purges revisions replaced or removed by the deployer.
	Refresh(ctx context.Context) error
}

type deployment struct {
	id      int64
	modTime time.Time
	size    int64
}

// Deployer mirrors a directory into a Host.
type Deployer struct {
	host      Host
	dir       string
	fs        afero.Fs
	debounce  time.Duration
	autostart bool
	logger    logging.Logger

	mu       sync.Mutex
	deployed map[string]*deployment // base name -> deployment
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Deployer) { d.logger = logging.OrNop(logger) }
}

// WithFs reads the directory from fs instead of the OS file system.
func WithFs(fs afero.Fs) Option {
	return func(d *Deployer) { d.fs = fs }
}

// WithDebounce sets the quiet period before changes are applied.
func WithDebounce(dur time.Duration) Option {
	return func(d *Deployer) { d.debounce = dur }
}

// WithoutAutostart installs new archives without starting them.
func WithoutAutostart() Option {
	return func(d *Deployer) { d.autostart = false }
}

// New creates a deployer of dir.
func New(host Host, dir string, opts ...Option) *Deployer {
	d := &Deployer{
		host:      host,
		dir:       dir,
		fs:        afero.NewOsFs(),
		autostart: true,
		logger:    logging.Nop{},
		deployed:  make(map[string]*deployment),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dir returns the deploy directory.
func (d *Deployer) Dir() string { return d.dir }

// Deployed returns the module id installed from the named entry.
func (d *Deployer) Deployed(name string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.deployed[name]
	if !ok {
		return 0, false
	}
	return dep.id, true
}

// Scan applies the current content of the directory: new archives are
// installed, changed ones updated and vanished ones uninstalled.
func (d *Deployer) Scan(ctx context.Context) error {
	entries, err := afero.ReadDir(d.fs, d.dir)
	if err != nil {
		return fmt.Errorf("read deploy directory %s: %w", d.dir, err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
		seen[e.Name()] = true
	}
	d.mu.Lock()
	for name := range d.deployed {
		if !seen[name] {
			names = append(names, name)
		}
	}
	d.mu.Unlock()
	return d.Sync(ctx, names)
}

// Sync applies the named entries of the directory.
func (d *Deployer) Sync(ctx context.Context, names []string) error {
	var errs []error
	refresh := false
	for _, name := range names {
		changed, err := d.apply(ctx, name)
		if err != nil {
			d.logger.Error("Failed to deploy", "entry", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		refresh = refresh || changed
	}
	if refresh {
		if err := d.host.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("refresh: %w", err))
		}
	}
	return errors.Join(errs...)
}

// apply deploys one entry. It reports whether an existing module was
// updated or uninstalled.
func (d *Deployer) apply(ctx context.Context, name string) (bool, error) {
	path := filepath.Join(d.dir, name)
	info, err := d.fs.Stat(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	archive := err == nil && d.isArchive(path, info)

	d.mu.Lock()
	dep, known := d.deployed[name]
	d.mu.Unlock()

	switch {
	case !archive && !known:
		return false, nil
	case !archive:
		d.forget(name)
		if err := d.host.Uninstall(ctx, dep.id); err != nil {
			return true, err
		}
		d.logger.Info("Module undeployed", "entry", name, "module", dep.id)
		return true, nil
	case known:
		if info.ModTime().Equal(dep.modTime) && info.Size() == dep.size {
			return false, nil
		}
		d.remember(name, dep.id, info)
		if err := d.host.Update(ctx, dep.id); err != nil {
			return true, err
		}
		d.logger.Info("Module redeployed", "entry", name, "module", dep.id)
		return true, nil
	}

	id, err := d.host.Install(ctx, path)
	if err != nil {
		return false, err
	}
	d.remember(name, id, info)
	d.logger.Info("Module deployed", "entry", name, "module", id)
	if d.autostart {
		if err := d.host.Start(ctx, id); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (d *Deployer) isArchive(path string, info fs.FileInfo) bool {
	if strings.HasPrefix(info.Name(), ".") {
		return false
	}
	if info.IsDir() {
		ok, _ := afero.DirExists(d.fs, filepath.Join(path, manifest.Dir))
		return ok
	}
	return strings.EqualFold(filepath.Ext(info.Name()), ".zip")
}

func (d *Deployer) remember(name string, id int64, info fs.FileInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deployed[name] = &deployment{id: id, modTime: info.ModTime(), size: info.Size()}
}

func (d *Deployer) forget(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.deployed, name)
}

// Run scans the directory and follows its changes until ctx is cancelled.
func (d *Deployer) Run(ctx context.Context) error {
	w, err := dirwatch.New(dirwatch.Config{
		Dir:      d.dir,
		Debounce: d.debounce,
		Logger:   d.logger,
	})
	if err != nil {
		return err
	}
	if err := d.Scan(ctx); err != nil {
		d.logger.Warn("Initial deploy scan incomplete", "dir", d.dir, "error", err)
	}
	return w.Run(ctx, func(ctx context.Context, changed []string) {
		if err := d.Sync(ctx, changed); err != nil {
			d.logger.Warn("Deploy sync incomplete", "dir", d.dir, "error", err)
		}
	})
}

package modhost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/GoCodeAlone/modhost/archive"
	"github.com/GoCodeAlone/modhost/lifecycle"
	"github.com/GoCodeAlone/modhost/manifest"
	"github.com/GoCodeAlone/modhost/scr"
	"github.com/GoCodeAlone/modhost/wiring"
)

// Install installs a module from location. data holds a zip archive; when
// nil the archive is read from location, which may also be a directory.
// Installing a location again returns the module already installed there.
func (fw *Framework) Install(ctx context.Context, location string, data io.Reader) (*Module, error) {
	if m := fw.byLocation(location); m != nil {
		return m, nil
	}
	a, err := openArchive(location, data)
	if err != nil {
		return nil, fmt.Errorf("installing %s: %w", location, err)
	}
	m, err := fw.InstallArchive(ctx, location, a)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return m, nil
}

func openArchive(location string, data io.Reader) (*archive.Archive, error) {
	if data == nil {
		return archive.FromPath(location)
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	return archive.FromReader(location, bytes.NewReader(b), int64(len(b)))
}

// InstallArchive installs a module whose content is already open. The
// framework owns a from then on.
func (fw *Framework) InstallArchive(ctx context.Context, location string, a *archive.Archive) (*Module, error) {
	if err := fw.checkOpen(); err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNilArchive
	}
	man, err := loadManifest(a)
	if err != nil {
		return nil, fmt.Errorf("installing %s: %w", location, err)
	}

	fw.mu.Lock()
	for _, o := range fw.modules {
		if o.location == location {
			fw.mu.Unlock()
			return o, nil
		}
		if o.Name() == man.Name && o.Version().Equal(man.Version) {
			fw.mu.Unlock()
			return nil, fmt.Errorf("%w: %s %s (module %d)", ErrDuplicateModule, man.Name, man.Version, o.id)
		}
	}
	fw.nextID++
	id := fw.nextID
	rev, err := fw.graph.Add(id, man)
	if err != nil {
		fw.nextID--
		fw.mu.Unlock()
		return nil, fmt.Errorf("installing %s: %w", location, err)
	}
	m := &Module{
		id:       id,
		location: location,
		state:    lifecycle.Installed,
		rev:      rev,
		manifest: man,
		archive:  a,
	}
	fw.modules[id] = m
	fw.revisions[rev] = a
	fw.mu.Unlock()

	fw.logger.Info("Module installed", "module", id, "name", man.Name, "version", man.Version.String(), "location", location)
	fw.emit(ctx, m, lifecycle.EventTypeModuleInstalled, 0, lifecycle.Installed)
	return m, nil
}

func loadManifest(a *archive.Archive) (*manifest.Manifest, error) {
	man, err := manifest.Load(a)
	if err != nil {
		return nil, err
	}
	if err := man.Validate(); err != nil {
		return nil, err
	}
	return man, nil
}

// Update replaces the content of a module. data holds the new zip archive;
// when nil the content is read again from the module's location. An active
// module is stopped, updated and started again. The previous revision stays
// in the graph, removal pending, while other modules are wired to it.
func (fw *Framework) Update(ctx context.Context, id int64, data io.Reader) error {
	if err := fw.checkOpen(); err != nil {
		return err
	}
	m, err := fw.module(id)
	if err != nil {
		return err
	}
	a, err := openArchive(m.location, data)
	if err != nil {
		return fmt.Errorf("updating module %d: %w", id, err)
	}
	man, err := loadManifest(a)
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("updating module %d: %w", id, err)
	}

	var restart, lazy bool
	err = fw.callStop(ctx, m, func(ctx context.Context) error {
		m.mu.Lock()
		st := m.state
		restart = st == lifecycle.Active || (st == lifecycle.Starting && m.lazy)
		lazy = st == lifecycle.Starting && m.lazy
		m.mu.Unlock()
		if restart {
			if err := fw.stop(ctx, m, true); err != nil {
				fw.logger.Warn("Module stopped with error before update", "module", id, "error", err)
			}
		}

		rev, err := fw.graph.Add(id, man)
		if err != nil {
			return err
		}
		m.mu.Lock()
		old, from := m.rev, m.state
		m.rev, m.manifest, m.archive = rev, man, a
		m.state = lifecycle.Installed
		m.mu.Unlock()
		fw.mu.Lock()
		fw.revisions[rev] = a
		fw.mu.Unlock()

		fw.retire(ctx, old)
		fw.logger.Info("Module updated", "module", id, "name", man.Name, "version", man.Version.String())
		fw.emit(ctx, m, lifecycle.EventTypeModuleUpdated, from, lifecycle.Installed)
		return nil
	})
	if err != nil {
		_ = a.Close()
		return err
	}
	if restart {
		opts := []StartOption{Transient()}
		if lazy {
			opts = append(opts, UseActivationPolicy())
		}
		return fw.StartModule(ctx, id, opts...)
	}
	return nil
}

// Uninstall stops and removes a module. A start of the module in progress
// is aborted: its caller receives a state change error and the module ends
// UNINSTALLED. Otherwise the removal runs on the module's lifecycle queue.
// The module's revision stays in the graph, removal pending, while other
// modules are wired to it.
func (fw *Framework) Uninstall(ctx context.Context, id int64) error {
	if err := fw.checkOpen(); err != nil {
		return err
	}
	m, err := fw.module(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	starting := m.state == lifecycle.Starting && !m.lazy
	m.mu.Unlock()
	if starting {
		return fw.uninstall(ctx, m)
	}
	return fw.reportFailure(ctx, m, fw.pool.CallStop(ctx, uninstallTarget{m}, func(ctx context.Context) error {
		m.mu.Lock()
		settled := m.state == lifecycle.Active || (m.state == lifecycle.Starting && m.lazy)
		m.mu.Unlock()
		if settled {
			if err := fw.stop(ctx, m, true); err != nil {
				fw.logger.Warn("Module stopped with error before uninstall", "module", id, "error", err)
			}
		}
		return fw.uninstall(ctx, m)
	}))
}

// uninstallTarget queues on the module's lifecycle queue without being
// aborted by the uninstall it carries out.
type uninstallTarget struct{ *Module }

func (uninstallTarget) Uninstalled() bool { return false }

func (fw *Framework) uninstall(ctx context.Context, m *Module) error {
	m.mu.Lock()
	from := m.state
	if from == lifecycle.Uninstalled {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrModuleUninstalled, m.id)
	}
	m.state = lifecycle.Uninstalled
	m.uninstalled.Store(true)
	m.autostart = false
	rev := m.rev
	m.mu.Unlock()

	if err := fw.components.RemoveOwner(ctx, m.id, scr.ReasonModuleStopped); err != nil {
		fw.logger.Warn("Removing components of uninstalled module", "module", m.id, "error", err)
	}
	fw.registry.UnregisterAll(m.id)
	fw.registry.ReleaseAll(m.id)

	fw.mu.Lock()
	delete(fw.modules, m.id)
	fw.mu.Unlock()
	fw.retire(ctx, rev)

	fw.logger.Info("Module uninstalled", "module", m.id, "name", m.Name())
	fw.emit(ctx, m, lifecycle.EventTypeModuleUninstalled, from, lifecycle.Uninstalled)
	return nil
}

// retire removes a replaced or uninstalled revision from the graph, or
// marks it removal pending while other revisions still depend on it.
func (fw *Framework) retire(ctx context.Context, rev wiring.RevisionID) {
	if fw.inUse(rev) {
		if err := fw.graph.MarkRemovalPending(rev); err != nil {
			fw.logger.Warn("Marking revision removal pending", "revision", rev, "error", err)
		}
		fw.logger.Debug("Revision removal pending", "revision", rev)
		return
	}
	if err := fw.graph.Unresolve(rev); err != nil {
		fw.logger.Warn("Unresolving revision", "revision", rev, "error", err)
	}
	fw.purge(rev)
	fw.syncStates(ctx)
}

// inUse reports whether other resolved revisions depend on rev.
func (fw *Framework) inUse(rev wiring.RevisionID) bool {
	if host, ok := fw.graph.Host(rev); ok && fw.graph.IsResolved(host) {
		return true
	}
	frags := fw.graph.Fragments(rev)
	for _, dep := range fw.graph.Dependents(rev) {
		if !slices.Contains(frags, dep) && fw.graph.IsResolved(dep) {
			return true
		}
	}
	return false
}

func (fw *Framework) purge(rev wiring.RevisionID) {
	if err := fw.graph.Purge(rev); err != nil {
		fw.logger.Warn("Purging revision", "revision", rev, "error", err)
		return
	}
	fw.mu.Lock()
	a := fw.revisions[rev]
	delete(fw.revisions, rev)
	fw.mu.Unlock()
	if a != nil {
		if err := a.Close(); err != nil {
			fw.logger.Debug("Closing archive", "revision", rev, "error", err)
		}
	}
}

func (fw *Framework) module(id int64) (*Module, error) {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	m, ok := fw.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrModuleNotFound, id)
	}
	return m, nil
}

func (fw *Framework) byLocation(location string) *Module {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	for _, m := range fw.modules {
		if m.location == location {
			return m
		}
	}
	return nil
}

func (fw *Framework) moduleByRevision(rev wiring.RevisionID) (*Module, bool) {
	r, ok := fw.graph.Revision(rev)
	if !ok {
		return nil, false
	}
	m, err := fw.module(r.Module)
	if err != nil || m.Revision() != rev {
		return nil, false
	}
	return m, true
}

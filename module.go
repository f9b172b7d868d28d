package modhost

import (
	"sync"
	"sync/atomic"

	"github.com/GoCodeAlone/modhost/archive"
	"github.com/GoCodeAlone/modhost/lifecycle"
	"github.com/GoCodeAlone/modhost/manifest"
	"github.com/GoCodeAlone/modhost/version"
	"github.com/GoCodeAlone/modhost/wiring"
)

// Module is an installed module. Its state changes only through the
// framework's lifecycle operations.
type Module struct {
	id       int64
	location string

	mu        sync.Mutex
	state     lifecycle.State
	rev       wiring.RevisionID
	manifest  *manifest.Manifest
	archive   *archive.Archive
	autostart bool
	// lazyPolicy records that the persistent start asked for the declared
	// activation policy.
	lazyPolicy bool
	// lazy is set while the module waits in STARTING for a trigger.
	lazy      bool
	activator ModuleActivator
	mctx      *ModuleContext

	uninstalled atomic.Bool
}

// ModuleInfo is a snapshot of a module.
type ModuleInfo struct {
	ID        int64             `json:"id"`
	Location  string            `json:"location"`
	Name      string            `json:"name"`
	Version   version.Version   `json:"version"`
	State     lifecycle.State   `json:"state"`
	Revision  wiring.RevisionID `json:"revision"`
	Fragment  bool              `json:"fragment"`
	Autostart bool              `json:"autostart"`
	Lazy      bool              `json:"lazy"`
}

// ID returns the module id. Ids are never reused.
func (m *Module) ID() int64 { return m.id }

// Location returns the location the module was installed from.
func (m *Module) Location() string { return m.location }

// Uninstalled reports whether the module has been uninstalled.
func (m *Module) Uninstalled() bool { return m.uninstalled.Load() }

// State returns the current lifecycle state.
func (m *Module) State() lifecycle.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Name returns the symbolic name of the current revision.
func (m *Module) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest.Name
}

// Version returns the version of the current revision.
func (m *Module) Version() version.Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest.Version
}

// Manifest returns the descriptor of the current revision.
func (m *Module) Manifest() *manifest.Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest
}

// Revision returns the id of the current revision in the wiring graph.
func (m *Module) Revision() wiring.RevisionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rev
}

// IsFragment reports whether the module attaches to a host.
func (m *Module) IsFragment() bool {
	return m.Manifest().IsFragment()
}

// Info returns a snapshot of the module.
func (m *Module) Info() ModuleInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ModuleInfo{
		ID:        m.id,
		Location:  m.location,
		Name:      m.manifest.Name,
		Version:   m.manifest.Version,
		State:     m.state,
		Revision:  m.rev,
		Fragment:  m.manifest.IsFragment(),
		Autostart: m.autostart,
		Lazy:      m.lazy,
	}
}

// awaitingActivation reports whether a trigger may activate the module.
func (m *Module) awaitingActivation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == lifecycle.Resolved || (m.state == lifecycle.Starting && m.lazy)
}

// setState changes the state unless the module was uninstalled, and returns
// the previous state.
func (m *Module) setState(to lifecycle.State) (from lifecycle.State, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from = m.state
	if from == lifecycle.Uninstalled {
		return from, false
	}
	m.state = to
	return from, true
}

func (m *Module) lazyPolicyRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lazyPolicy
}

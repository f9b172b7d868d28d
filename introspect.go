package modhost

import (
	"maps"
	"slices"

	"github.com/GoCodeAlone/modhost/wiring"
)

// Modules returns the installed modules in ascending id order.
func (fw *Framework) Modules() []*Module {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(fw.modules))
	out := make([]*Module, 0, len(ids))
	for _, id := range ids {
		out = append(out, fw.modules[id])
	}
	return out
}

// Module returns an installed module.
func (fw *Framework) Module(id int64) (*Module, error) {
	return fw.module(id)
}

// ModuleByName returns the installed modules with the given symbolic name,
// highest version first.
func (fw *Framework) ModuleByName(name string) []*Module {
	var out []*Module
	for _, m := range fw.Modules() {
		if m.Name() == name {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b *Module) int { return b.Version().Compare(a.Version()) })
	return out
}

// Wires lists the package wires of a module's current revision.
func (fw *Framework) Wires(id int64) ([]wiring.Wire, error) {
	m, err := fw.module(id)
	if err != nil {
		return nil, err
	}
	return fw.graph.Wires(m.Revision()), nil
}

// ModuleWires lists the required-module wires of a module's current
// revision.
func (fw *Framework) ModuleWires(id int64) ([]wiring.ModuleWire, error) {
	m, err := fw.module(id)
	if err != nil {
		return nil, err
	}
	return fw.graph.ModuleWires(m.Revision()), nil
}

// ExportedPackages lists the packages a module currently offers.
func (fw *Framework) ExportedPackages(id int64) ([]wiring.Capability, error) {
	m, err := fw.module(id)
	if err != nil {
		return nil, err
	}
	return fw.graph.Exports(m.Revision()), nil
}

// ImportedPackages lists the package requirements of a module.
func (fw *Framework) ImportedPackages(id int64) ([]wiring.Requirement, error) {
	m, err := fw.module(id)
	if err != nil {
		return nil, err
	}
	return fw.graph.Imports(m.Revision()), nil
}

// UnresolvedRequirements lists the requirements that kept a module from
// resolving the last time resolution was attempted.
func (fw *Framework) UnresolvedRequirements(id int64) ([]wiring.Requirement, error) {
	m, err := fw.module(id)
	if err != nil {
		return nil, err
	}
	return fw.graph.Unresolved(m.Revision()), nil
}

// Dependents lists the modules wired to a module.
func (fw *Framework) Dependents(id int64) ([]*Module, error) {
	m, err := fw.module(id)
	if err != nil {
		return nil, err
	}
	var out []*Module
	for _, rev := range fw.graph.Dependents(m.Revision()) {
		if d, ok := fw.moduleByRevision(rev); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// RemovalPending lists revisions of updated or uninstalled modules kept
// until the next refresh.
func (fw *Framework) RemovalPending() []wiring.Revision {
	var out []wiring.Revision
	for _, id := range fw.graph.RemovalPending() {
		if r, ok := fw.graph.Revision(id); ok {
			out = append(out, r)
		}
	}
	return out
}

package modhost

import (
	"context"

	"github.com/GoCodeAlone/modhost/filter"
	"github.com/GoCodeAlone/modhost/lifecycle"
	"github.com/GoCodeAlone/modhost/loader"
	"github.com/GoCodeAlone/modhost/registry"
	"github.com/GoCodeAlone/modhost/scr"
)

// SystemOwner owns services and components registered by the framework
// user rather than by a module.
const SystemOwner int64 = 0

// LoadUnit resolves a code unit on behalf of a module. An INSTALLED module
// is resolved first. Finding the unit may activate modules waiting on a
// trigger package before LoadUnit returns.
func (fw *Framework) LoadUnit(ctx context.Context, id int64, qualifiedName string) (*loader.Location, error) {
	m, err := fw.loadable(ctx, id)
	if err != nil {
		return nil, err
	}
	return fw.resolver.Resolve(ctx, m.Revision(), qualifiedName)
}

// FindResource resolves a resource path on behalf of a module. It never
// activates modules.
func (fw *Framework) FindResource(ctx context.Context, id int64, path string) (*loader.Location, error) {
	m, err := fw.loadable(ctx, id)
	if err != nil {
		return nil, err
	}
	return fw.resolver.FindResource(ctx, m.Revision(), path)
}

func (fw *Framework) loadable(ctx context.Context, id int64) (*Module, error) {
	m, err := fw.module(id)
	if err != nil {
		return nil, err
	}
	if m.State() == lifecycle.Installed {
		if err := fw.resolve(ctx, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterComponent registers a component description for owner, which is
// a module id or SystemOwner. Enabled descriptions start tracking at once.
func (fw *Framework) RegisterComponent(ctx context.Context, owner int64, desc *scr.Description) (*scr.Component, error) {
	if owner != SystemOwner {
		if _, err := fw.module(owner); err != nil {
			return nil, err
		}
	}
	return fw.components.Register(ctx, owner, desc)
}

// EnableComponent enables a registered component.
func (fw *Framework) EnableComponent(ctx context.Context, name string) error {
	return fw.components.Enable(ctx, name)
}

// DisableComponent disables a registered component.
func (fw *Framework) DisableComponent(ctx context.Context, name string) error {
	return fw.components.Disable(ctx, name)
}

// RegisterService registers a service owned by SystemOwner.
func (fw *Framework) RegisterService(interfaces []string, service any, props map[string]any) (*registry.Registration, error) {
	return fw.registry.Register(SystemOwner, interfaces, service, props)
}

// GetService obtains the service behind ref for SystemOwner.
func (fw *Framework) GetService(ref *registry.Reference) (any, error) {
	return fw.registry.GetService(SystemOwner, ref)
}

// LocateService obtains the best service registered under iface whose
// properties match the target filter expression, which may be empty.
func (fw *Framework) LocateService(iface, target string) (any, error) {
	f, err := filter.Compile(target)
	if err != nil {
		return nil, err
	}
	ref, err := fw.registry.Best(iface, f)
	if err != nil {
		return nil, err
	}
	return fw.registry.GetService(SystemOwner, ref)
}

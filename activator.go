package modhost

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GoCodeAlone/modhost/cm"
	"github.com/GoCodeAlone/modhost/filter"
	"github.com/GoCodeAlone/modhost/loader"
	"github.com/GoCodeAlone/modhost/registry"
)

// ModuleActivator is the code run when a module starts and stops. The
// manifest names it in its activator field; the name must have been
// registered with Framework.RegisterActivator.
type ModuleActivator interface {
	// Start is called while the module is STARTING. An error leaves the
	// module RESOLVED and unregisters everything it registered.
	Start(ctx context.Context, mc *ModuleContext) error

	// Stop is called while the module is STOPPING. Services the module
	// registered are unregistered afterwards whatever Stop returns.
	Stop(ctx context.Context, mc *ModuleContext) error
}

// ActivatorFactory creates a fresh activator for each activation.
type ActivatorFactory func() ModuleActivator

// ActivatorFuncs builds an activator from two functions; either may be nil.
type ActivatorFuncs struct {
	OnStart func(ctx context.Context, mc *ModuleContext) error
	OnStop  func(ctx context.Context, mc *ModuleContext) error
}

func (a ActivatorFuncs) Start(ctx context.Context, mc *ModuleContext) error {
	if a.OnStart == nil {
		return nil
	}
	return a.OnStart(ctx, mc)
}

func (a ActivatorFuncs) Stop(ctx context.Context, mc *ModuleContext) error {
	if a.OnStop == nil {
		return nil
	}
	return a.OnStop(ctx, mc)
}

type activators struct {
	mu        sync.RWMutex
	factories map[string]ActivatorFactory
}

func (a *activators) register(name string, f ActivatorFactory) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateActivator, name)
	}
	a.factories[name] = f
	return nil
}

func (a *activators) create(name string) (ModuleActivator, error) {
	a.mu.RLock()
	f, ok := a.factories[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivator, name)
	}
	return f(), nil
}

// ModuleContext is the view of the framework handed to an activator. It is
// valid from Start until the module has stopped.
type ModuleContext struct {
	fw     *Framework
	module *Module
	valid  atomic.Bool
}

func newModuleContext(fw *Framework, m *Module) *ModuleContext {
	mc := &ModuleContext{fw: fw, module: m}
	mc.valid.Store(true)
	return mc
}

func (mc *ModuleContext) check() error {
	if !mc.valid.Load() {
		return fmt.Errorf("%w: module %d", ErrInvalidContext, mc.module.id)
	}
	return nil
}

// Module returns the module being activated.
func (mc *ModuleContext) Module() *Module { return mc.module }

// Logger returns the framework logger.
func (mc *ModuleContext) Logger() Logger { return mc.fw.logger }

// RegisterService registers service under interfaces on behalf of the
// module. The registration ends when the module stops.
func (mc *ModuleContext) RegisterService(interfaces []string, service any, props map[string]any) (*registry.Registration, error) {
	if err := mc.check(); err != nil {
		return nil, err
	}
	return mc.fw.registry.Register(mc.module.id, interfaces, service, props)
}

// ServiceReferences lists services for iface matching the target filter
// expression, best first.
func (mc *ModuleContext) ServiceReferences(iface, target string) ([]*registry.Reference, error) {
	f, err := filter.Compile(target)
	if err != nil {
		return nil, err
	}
	return mc.fw.registry.References(iface, f), nil
}

// GetService obtains the service behind ref for the module.
func (mc *ModuleContext) GetService(ref *registry.Reference) (any, error) {
	if err := mc.check(); err != nil {
		return nil, err
	}
	return mc.fw.registry.GetService(mc.module.id, ref)
}

// UngetService releases a service obtained with GetService.
func (mc *ModuleContext) UngetService(ref *registry.Reference) bool {
	return mc.fw.registry.UngetService(mc.module.id, ref)
}

// LocateService obtains the best service for iface matching target.
func (mc *ModuleContext) LocateService(iface, target string) (any, error) {
	refs, err := mc.ServiceReferences(iface, target)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: %s", registry.ErrServiceNotFound, iface)
	}
	return mc.GetService(refs[0])
}

// LoadUnit resolves a code unit from the module's class space.
func (mc *ModuleContext) LoadUnit(ctx context.Context, qualifiedName string) (*loader.Location, error) {
	return mc.fw.LoadUnit(ctx, mc.module.id, qualifiedName)
}

// FindResource resolves a resource from the module's class space.
func (mc *ModuleContext) FindResource(ctx context.Context, path string) (*loader.Location, error) {
	return mc.fw.FindResource(ctx, mc.module.id, path)
}

// Configuration returns the configuration stored under pid.
func (mc *ModuleContext) Configuration(pid string) (cm.Configuration, bool) {
	return mc.fw.configs.Get(pid)
}

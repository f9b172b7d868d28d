package scr

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/GoCodeAlone/modhost/cm"
	"github.com/GoCodeAlone/modhost/registry"
)

// configuration is one activated instance of a component.
type configuration struct {
	pid          string
	props        cm.Dictionary
	instance     any
	registration *registry.Registration
	bound        map[string][]*binding
}

type binding struct {
	ref     *registry.Reference
	service any
}

func (cfg *configuration) boundTo(name string, ref *registry.Reference) bool {
	return slices.ContainsFunc(cfg.bound[name], func(b *binding) bool { return b.ref == ref })
}

// activate creates, binds and activates the configuration pid, then
// registers its services. On failure everything done so far is undone.
func (c *Component) activate(ctx context.Context, pid string) {
	cfg := &configuration{
		pid:   pid,
		props: c.properties(pid),
		bound: make(map[string][]*binding),
	}
	if err := c.construct(ctx, cfg); err != nil {
		c.unbindAll(cfg)
		err = fmt.Errorf("%w: %s (pid %q): %w", ErrActivation, c.desc.Name, pid, err)
		c.setErr(err)
		c.rt.logger.Error("Component activation failed", "component", c.desc.Name, "pid", pid, "error", err)
		c.event(EventActivationFailed, pid, ReasonUnspecified, err)
		return
	}

	c.mu.Lock()
	c.configs[pid] = cfg
	c.err = nil
	c.mu.Unlock()
	c.rt.logger.Info("Component activated", "component", c.desc.Name, "pid", pid)
	c.event(EventActivated, pid, ReasonUnspecified, nil)
}

func (c *Component) construct(ctx context.Context, cfg *configuration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	cfg.instance = c.hooks.newInstance()
	for _, t := range c.trackers {
		if err := t.bindInitial(cfg); err != nil {
			return err
		}
	}
	if c.hooks.activate != nil {
		if err := c.hooks.activate(cfg.instance, c.newContext(ctx, cfg, cfg.props, ReasonUnspecified)); err != nil {
			return err
		}
	}
	if c.desc.Provides() {
		reg, err := c.rt.registry.Register(c.owner, c.desc.Services, cfg.instance, serviceProperties(cfg.props))
		if err != nil {
			c.callDeactivate(ctx, cfg, ReasonUnspecified)
			return err
		}
		cfg.registration = reg
	}
	return nil
}

// serviceProperties drops the properties the registry manages itself.
func serviceProperties(props cm.Dictionary) map[string]any {
	out := maps.Clone(props)
	delete(out, registry.PropID)
	delete(out, registry.PropObjectClass)
	delete(out, registry.PropOwner)
	return out
}

// dispose unregisters, deactivates and unbinds the configuration pid.
func (c *Component) dispose(ctx context.Context, pid string, reason Reason) {
	cfg, ok := c.configs[pid]
	if !ok {
		return
	}
	c.mu.Lock()
	delete(c.configs, pid)
	c.mu.Unlock()

	if cfg.registration != nil {
		cfg.registration.Unregister()
	}
	c.callDeactivate(ctx, cfg, reason)
	c.unbindAll(cfg)
	c.rt.logger.Info("Component deactivated", "component", c.desc.Name, "pid", pid, "reason", reason)
	c.event(EventDeactivated, pid, reason, nil)
}

func (c *Component) callDeactivate(ctx context.Context, cfg *configuration, reason Reason) {
	if c.hooks.deactivate == nil {
		return
	}
	err := safeLifecycle(c.hooks.deactivate, cfg.instance, c.newContext(ctx, cfg, cfg.props, reason))
	if err != nil {
		c.rt.logger.Warn("Component deactivate hook failed", "component", c.desc.Name, "pid", cfg.pid, "error", err)
	}
}

func (c *Component) unbindAll(cfg *configuration) {
	for i := len(c.trackers) - 1; i >= 0; i-- {
		t := c.trackers[i]
		bound := slices.Clone(cfg.bound[t.desc.Name])
		for j := len(bound) - 1; j >= 0; j-- {
			t.unbind(cfg, bound[j])
		}
		delete(cfg.bound, t.desc.Name)
	}
}

// modify hands new configuration properties to a live configuration, or
// reactivates it when the component has no modified hook.
func (c *Component) modify(ctx context.Context, pid string, _ cm.Dictionary) {
	cfg := c.configs[pid]
	if c.hooks.modified == nil {
		c.reactivate(ctx, pid, ReasonConfigurationModified)
		return
	}
	props := c.properties(pid)
	if err := safeLifecycle(c.hooks.modified, cfg.instance, c.newContext(ctx, cfg, props, ReasonConfigurationModified)); err != nil {
		c.rt.logger.Warn("Component modified hook failed, reactivating", "component", c.desc.Name, "pid", pid, "error", err)
		c.reactivate(ctx, pid, ReasonConfigurationModified)
		return
	}
	c.mu.Lock()
	cfg.props = props
	c.mu.Unlock()
	if cfg.registration != nil {
		if err := cfg.registration.SetProperties(serviceProperties(props)); err != nil {
			c.rt.logger.Warn("Failed to update service properties", "component", c.desc.Name, "pid", pid, "error", err)
		}
	}
	c.rt.logger.Debug("Component configuration modified", "component", c.desc.Name, "pid", pid)
}

func (c *Component) reactivate(ctx context.Context, pid string, reason Reason) {
	c.dispose(ctx, pid, reason)
	if _, known := c.pids[pid]; known && c.isSatisfied() {
		c.activate(ctx, pid)
	}
}

func safeLifecycle(fn LifecycleHook, instance any, cc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(instance, cc)
}

func safeBind(fn BindHook, instance any, b Binding) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(instance, b)
}

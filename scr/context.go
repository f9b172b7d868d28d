package scr

import (
	"context"

	"github.com/GoCodeAlone/modhost/cm"
)

// Context is handed to lifecycle hooks.
type Context struct {
	ctx    context.Context
	comp   *Component
	cfg    *configuration
	props  cm.Dictionary
	reason Reason
}

func (c *Component) newContext(ctx context.Context, cfg *configuration, props cm.Dictionary, reason Reason) *Context {
	return &Context{ctx: ctx, comp: c, cfg: cfg, props: props, reason: reason}
}

// Context returns the context of the running job. Runtime calls made with
// it from a hook are queued instead of waited for.
func (cc *Context) Context() context.Context { return cc.ctx }

// Name returns the component name.
func (cc *Context) Name() string { return cc.comp.desc.Name }

// PID returns the configuration pid, empty without configuration.
func (cc *Context) PID() string { return cc.cfg.pid }

// Owner returns the id of the owning module.
func (cc *Context) Owner() int64 { return cc.comp.owner }

// Properties returns the component properties merged with the
// configuration.
func (cc *Context) Properties() cm.Dictionary { return cc.props.Clone() }

// Reason is the deactivation reason inside a deactivate hook.
func (cc *Context) Reason() Reason { return cc.reason }

// LocateService returns the first service bound to reference name.
func (cc *Context) LocateService(name string) (any, bool) {
	bound := cc.cfg.bound[name]
	if len(bound) == 0 {
		return nil, false
	}
	return bound[0].service, true
}

// LocateServices returns every service bound to reference name.
func (cc *Context) LocateServices(name string) []any {
	var out []any
	for _, b := range cc.cfg.bound[name] {
		out = append(out, b.service)
	}
	return out
}

// EnableComponent enables another component of the runtime.
func (cc *Context) EnableComponent(name string) error {
	return cc.comp.rt.Enable(cc.ctx, name)
}

// DisableComponent disables another component of the runtime.
func (cc *Context) DisableComponent(name string) error {
	return cc.comp.rt.Disable(cc.ctx, name)
}

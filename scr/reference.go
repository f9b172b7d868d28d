package scr

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/GoCodeAlone/modhost/filter"
	"github.com/GoCodeAlone/modhost/registry"
)

// tracker follows the services matching one reference of a component.
type tracker struct {
	comp       *Component
	desc       *ReferenceDescription
	hooks      refHooks
	filter     *filter.Filter
	candidates []*registry.Reference
	ok         bool
	closed     bool
	remove     func()
}

func newTracker(c *Component, d *ReferenceDescription) *tracker {
	// Validate compiled the target already.
	f, _ := filter.Compile(d.Target)
	t := &tracker{comp: c, desc: d, hooks: c.hooks.refs[d.Name], filter: f}
	reg := c.rt.registry
	t.remove = reg.AddListener(d.Interface, f, func(ev registry.ServiceEvent) {
		_ = c.rt.submit(context.Background(), func(ctx context.Context) { t.sync(ctx, ev) }, false)
	})
	t.candidates = reg.References(d.Interface, f)
	t.ok = t.satisfiedBy(t.candidates)
	if !t.ok {
		c.addUnresolved(1)
	}
	return t
}

func (t *tracker) satisfiedBy(refs []*registry.Reference) bool {
	return !t.desc.Cardinality.Mandatory() || len(refs) > 0
}

func (t *tracker) close() {
	t.closed = true
	if t.remove != nil {
		t.remove()
	}
}

// sync recomputes the matching services after a service event and applies
// the difference.
func (t *tracker) sync(ctx context.Context, ev registry.ServiceEvent) {
	c := t.comp
	if t.closed || c.State() == StateDisabled {
		return
	}
	cur := c.rt.registry.References(t.desc.Interface, t.filter)
	if ev.Type == registry.Unregistering {
		// still listed while its listeners run
		cur = without(cur, []*registry.Reference{ev.Reference})
	}
	added := without(cur, t.candidates)
	removed := without(t.candidates, cur)
	t.candidates = cur

	was := t.ok
	t.ok = t.satisfiedBy(cur)
	switch {
	case was && !t.ok:
		c.adjust(ctx, 1, ReasonReferenceUnsatisfied)
		return
	case !was && t.ok:
		c.adjust(ctx, -1, ReasonUnspecified)
		return
	}
	if !c.isSatisfied() {
		return
	}
	for _, pid := range slices.Sorted(maps.Keys(c.configs)) {
		if cfg, ok := c.configs[pid]; ok {
			t.apply(ctx, cfg, added, removed, ev)
		}
	}
}

func without(a, b []*registry.Reference) []*registry.Reference {
	var out []*registry.Reference
	for _, r := range a {
		if !slices.Contains(b, r) {
			out = append(out, r)
		}
	}
	return out
}

func (t *tracker) apply(ctx context.Context, cfg *configuration, added, removed []*registry.Reference, ev registry.ServiceEvent) {
	name := t.desc.Name
	if ev.Type == registry.Modified && t.hooks.updated != nil && cfg.boundTo(name, ev.Reference) {
		b := Binding{Reference: name, ServiceRef: ev.Reference, Properties: t.comp.rt.registry.Properties(ev.Reference)}
		for _, bb := range cfg.bound[name] {
			if bb.ref == ev.Reference {
				b.Service = bb.service
			}
		}
		if err := safeBind(t.hooks.updated, cfg.instance, b); err != nil {
			t.comp.rt.logger.Warn("Reference updated hook failed", "component", t.comp.desc.Name, "reference", name, "error", err)
		}
	}

	var lost []*binding
	for _, b := range cfg.bound[name] {
		if slices.Contains(removed, b.ref) {
			lost = append(lost, b)
		}
	}

	if t.desc.Policy == Static {
		if len(lost) > 0 {
			t.comp.reactivate(ctx, cfg.pid, ReasonReferenceUnsatisfied)
		}
		return
	}

	if t.desc.Cardinality.Multiple() {
		for _, ref := range added {
			t.bindLive(cfg, ref)
		}
		for _, b := range lost {
			t.unbind(cfg, b)
		}
		return
	}

	switch {
	case len(lost) > 0:
		if len(t.candidates) > 0 {
			t.bindLive(cfg, t.candidates[0])
		}
		for _, b := range lost {
			t.unbind(cfg, b)
		}
	case len(cfg.bound[name]) == 0 && len(t.candidates) > 0:
		t.bindLive(cfg, t.candidates[0])
	}
}

// bindInitial binds the current candidates to a configuration being
// activated. Unary references take the best candidate.
func (t *tracker) bindInitial(cfg *configuration) error {
	refs := t.candidates
	if !t.desc.Cardinality.Multiple() && len(refs) > 1 {
		refs = refs[:1]
	}
	for _, ref := range refs {
		if err := t.bind(cfg, ref); err != nil {
			return fmt.Errorf("bind %s: %w", t.desc.Name, err)
		}
	}
	return nil
}

func (t *tracker) bindLive(cfg *configuration, ref *registry.Reference) {
	if err := t.bind(cfg, ref); err != nil {
		t.comp.rt.logger.Warn("Reference bind failed", "component", t.comp.desc.Name, "reference", t.desc.Name, "service", ref.ID(), "error", err)
	}
}

func (t *tracker) bind(cfg *configuration, ref *registry.Reference) error {
	reg := t.comp.rt.registry
	svc, err := reg.GetService(t.comp.owner, ref)
	if err != nil {
		// Unregistered since the candidates were computed; its event follows.
		return nil
	}
	b := &binding{ref: ref, service: svc}
	if t.hooks.bind != nil {
		err := safeBind(t.hooks.bind, cfg.instance, Binding{
			Reference:  t.desc.Name,
			Service:    svc,
			ServiceRef: ref,
			Properties: reg.Properties(ref),
		})
		if err != nil {
			reg.UngetService(t.comp.owner, ref)
			return err
		}
	}
	cfg.bound[t.desc.Name] = append(cfg.bound[t.desc.Name], b)
	return nil
}

func (t *tracker) unbind(cfg *configuration, b *binding) {
	reg := t.comp.rt.registry
	if t.hooks.unbind != nil {
		err := safeBind(t.hooks.unbind, cfg.instance, Binding{
			Reference:  t.desc.Name,
			Service:    b.service,
			ServiceRef: b.ref,
			Properties: reg.Properties(b.ref),
		})
		if err != nil {
			t.comp.rt.logger.Warn("Reference unbind failed", "component", t.comp.desc.Name, "reference", t.desc.Name, "error", err)
		}
	}
	reg.UngetService(t.comp.owner, b.ref)
	cfg.bound[t.desc.Name] = slices.DeleteFunc(cfg.bound[t.desc.Name], func(x *binding) bool { return x == b })
}

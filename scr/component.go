package scr

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/GoCodeAlone/modhost/cm"
	"github.com/GoCodeAlone/modhost/registry"
)

// State is the satisfaction state of a component.
type State int

const (
	// StateDisabled components track nothing.
	StateDisabled State = iota
	// StateTracking components are enabled and have not been satisfied yet.
	StateTracking
	// StateSatisfied components have every mandatory constraint met and run
	// one configuration per configuration pid.
	StateSatisfied
	// StateUnsatisfied components lost a constraint after being satisfied.
	StateUnsatisfied
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateTracking:
		return "tracking"
	case StateSatisfied:
		return "satisfied"
	case StateUnsatisfied:
		return "unsatisfied"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Component is a registered component description and its runtime state.
type Component struct {
	rt    *Runtime
	id    int64
	owner int64
	desc  *Description
	hooks *hooks

	// Mutated only by queue jobs; mu guards reads from other goroutines.
	mu            sync.Mutex
	state         State
	unresolved    int
	missingConfig bool
	pids          map[string]cm.Dictionary
	configs       map[string]*configuration
	trackers      []*tracker
	stopConfig    func()
	err           error

	satisfiedCalls   int
	unsatisfiedCalls int
}

func newComponent(rt *Runtime, id, owner int64, d *Description, h *hooks) *Component {
	return &Component{
		rt:      rt,
		id:      id,
		owner:   owner,
		desc:    d,
		hooks:   h,
		configs: make(map[string]*configuration),
	}
}

// Name returns the component name.
func (c *Component) Name() string { return c.desc.Name }

// ID returns the runtime-assigned component id.
func (c *Component) ID() int64 { return c.id }

// Owner returns the id of the owning module.
func (c *Component) Owner() int64 { return c.owner }

// Description returns a copy of the description.
func (c *Component) Description() *Description { return c.desc.Clone() }

// State returns the satisfaction state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UnresolvedConstraints returns the number of mandatory constraints not
// met. It is 0 exactly while the component is satisfied.
func (c *Component) UnresolvedConstraints() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unresolved
}

// Err returns the last activation or dependency error.
func (c *Component) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ConfigurationInfo describes an active component configuration.
type ConfigurationInfo struct {
	PID        string
	Properties cm.Dictionary
	Service    *registry.Reference
	Instance   any
}

// Configurations returns the active configurations ordered by pid.
func (c *Component) Configurations() []ConfigurationInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConfigurationInfo, 0, len(c.configs))
	for _, cfg := range c.configs {
		info := ConfigurationInfo{PID: cfg.pid, Properties: cfg.props.Clone(), Instance: cfg.instance}
		if cfg.registration != nil {
			info.Service = cfg.registration.Reference()
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b ConfigurationInfo) int {
		switch {
		case a.PID < b.PID:
			return -1
		case a.PID > b.PID:
			return 1
		}
		return 0
	})
	return out
}

func (c *Component) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Component) event(t EventType, pid string, reason Reason, err error) {
	c.rt.emit(Event{Type: t, Component: c.desc.Name, Owner: c.owner, PID: pid, Reason: reason, Err: err})
}

// enable starts tracking configuration and references. The counter holds
// one extra count until every constraint has been counted.
func (c *Component) enable(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateDisabled {
		c.mu.Unlock()
		return
	}
	c.state = StateTracking
	c.unresolved = 1
	c.missingConfig = false
	c.err = nil
	c.pids = make(map[string]cm.Dictionary)
	c.mu.Unlock()

	c.rt.logger.Debug("Component enabled", "component", c.desc.Name)
	c.event(EventEnabled, "", ReasonUnspecified, nil)

	c.trackConfiguration()
	for i := range c.desc.References {
		c.trackers = append(c.trackers, newTracker(c, &c.desc.References[i]))
	}

	if c.adjust(ctx, -1, ReasonUnspecified) {
		return
	}
	if c.desc.Provides() {
		if err := c.checkCycles(); err != nil {
			c.setErr(err)
			c.rt.logger.Error("Component can never be satisfied", "component", c.desc.Name, "error", err)
			c.event(EventCycle, "", ReasonUnspecified, err)
		}
	}
}

func (c *Component) trackConfiguration() {
	if c.desc.ConfigurationPolicy == ConfigurationIgnore || c.rt.admin == nil {
		if c.desc.ConfigurationPolicy == ConfigurationRequire {
			c.missingConfig = true
			c.addUnresolved(1)
			return
		}
		c.pids[""] = nil
		return
	}

	c.stopConfig = c.rt.admin.AddListener(func(ev cm.Event) {
		if !c.wants(ev.Configuration) {
			return
		}
		_ = c.rt.submit(context.Background(), func(ctx context.Context) { c.configurationChanged(ctx, ev) }, false)
	})

	var existing []cm.Configuration
	if c.desc.Factory {
		existing = c.rt.admin.Factory(c.desc.PID())
	} else if cfg, ok := c.rt.admin.Get(c.desc.PID()); ok {
		existing = append(existing, cfg)
	}
	for _, cfg := range existing {
		c.pids[cfg.PID] = cfg.Properties
	}
	switch {
	case len(existing) > 0:
	case c.desc.ConfigurationPolicy == ConfigurationRequire:
		c.missingConfig = true
		c.addUnresolved(1)
	default:
		c.pids[""] = nil
	}
}

func (c *Component) wants(cfg cm.Configuration) bool {
	if c.desc.Factory {
		return cfg.FactoryPID == c.desc.PID()
	}
	return cfg.PID == c.desc.PID()
}

func (c *Component) addUnresolved(n int) {
	c.mu.Lock()
	c.unresolved += n
	c.mu.Unlock()
}

// adjust changes the counter by delta and runs satisfied or unsatisfied
// when it crosses 0. It reports whether the component is satisfied
// afterwards.
func (c *Component) adjust(ctx context.Context, delta int, reason Reason) bool {
	c.mu.Lock()
	if c.state == StateDisabled {
		c.mu.Unlock()
		return false
	}
	before := c.unresolved
	c.unresolved += delta
	if c.unresolved < 0 {
		c.rt.logger.Error("Component constraint counter underflow", "component", c.desc.Name, "value", c.unresolved)
		c.unresolved = 0
	}
	after := c.unresolved
	if before > 0 && after == 0 {
		c.state = StateSatisfied
		c.satisfiedCalls++
	} else if before == 0 && after > 0 {
		c.state = StateUnsatisfied
		c.unsatisfiedCalls++
	}
	c.mu.Unlock()

	switch {
	case before > 0 && after == 0:
		c.satisfied(ctx)
	case before == 0 && after > 0:
		c.unsatisfied(ctx, reason)
	}
	return after == 0
}

// satisfied creates a configuration for every known pid that has none.
func (c *Component) satisfied(ctx context.Context) {
	c.rt.logger.Debug("Component satisfied", "component", c.desc.Name)
	c.event(EventSatisfied, "", ReasonUnspecified, nil)
	for _, pid := range slices.Sorted(maps.Keys(c.pids)) {
		if _, ok := c.configs[pid]; !ok {
			c.activate(ctx, pid)
		}
	}
}

func (c *Component) unsatisfied(ctx context.Context, reason Reason) {
	c.rt.logger.Debug("Component unsatisfied", "component", c.desc.Name, "reason", reason)
	c.disposeAll(ctx, reason)
	c.event(EventUnsatisfied, "", reason, nil)
}

func (c *Component) disposeAll(ctx context.Context, reason Reason) {
	for _, pid := range slices.Sorted(maps.Keys(c.configs)) {
		c.dispose(ctx, pid, reason)
	}
}

func (c *Component) disable(ctx context.Context, reason Reason) {
	c.mu.Lock()
	if c.state == StateDisabled {
		c.mu.Unlock()
		return
	}
	c.state = StateDisabled
	c.unresolved = 0
	c.mu.Unlock()

	if c.stopConfig != nil {
		c.stopConfig()
		c.stopConfig = nil
	}
	for _, t := range c.trackers {
		t.close()
	}
	c.disposeAll(ctx, reason)
	c.trackers = nil
	c.pids = nil

	c.rt.logger.Debug("Component disabled", "component", c.desc.Name, "reason", reason)
	c.event(EventDisabled, "", reason, nil)
}

func (c *Component) isSatisfied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSatisfied
}

func (c *Component) configurationChanged(ctx context.Context, ev cm.Event) {
	if c.State() == StateDisabled {
		return
	}
	pid := ev.Configuration.PID
	switch ev.Type {
	case cm.Updated:
		props := ev.Configuration.Properties
		if _, known := c.pids[pid]; known {
			c.pids[pid] = props
			if _, active := c.configs[pid]; active {
				c.modify(ctx, pid, props)
			}
			return
		}
		if _, placeholder := c.pids[""]; placeholder {
			delete(c.pids, "")
			c.dispose(ctx, "", ReasonConfigurationModified)
		}
		c.pids[pid] = props
		if c.missingConfig {
			c.missingConfig = false
			c.adjust(ctx, -1, ReasonUnspecified)
			return
		}
		if c.isSatisfied() {
			c.activate(ctx, pid)
		}

	case cm.Deleted:
		if _, known := c.pids[pid]; !known {
			return
		}
		delete(c.pids, pid)
		c.dispose(ctx, pid, ReasonConfigurationDeleted)
		if len(c.pids) > 0 {
			return
		}
		if c.desc.ConfigurationPolicy == ConfigurationRequire {
			c.missingConfig = true
			c.adjust(ctx, 1, ReasonConfigurationDeleted)
			return
		}
		c.pids[""] = nil
		if c.isSatisfied() {
			c.activate(ctx, "")
		}
	}
}

// properties merges the description properties with the configuration.
func (c *Component) properties(pid string) cm.Dictionary {
	props := cm.Dictionary(c.desc.Properties).Clone()
	maps.Copy(props, c.pids[pid])
	props[PropComponentName] = c.desc.Name
	props[PropComponentID] = c.id
	return props
}

// Component properties added to every configuration.
const (
	PropComponentName = "component.name"
	PropComponentID   = "component.id"
)

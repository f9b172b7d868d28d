// Package scr runs declarative components: it tracks the services and the
// configuration a component needs, and activates one component
// configuration per configuration pid once every mandatory constraint is
// met.
//
// All state changes run as jobs on one serial queue per Runtime. Service
// and configuration events raised while a job runs are queued behind it, so
// activation never recurses into another component's bookkeeping.
package scr

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/GoCodeAlone/modhost/cm"
	"github.com/GoCodeAlone/modhost/internal/logging"
	"github.com/GoCodeAlone/modhost/registry"
)

// Reason explains why a component configuration was deactivated.
type Reason int

const (
	ReasonUnspecified Reason = iota
	ReasonDisabled
	ReasonReferenceUnsatisfied
	ReasonConfigurationModified
	ReasonConfigurationDeleted
	ReasonDisposed
	ReasonModuleStopped
)

func (r Reason) String() string {
	switch r {
	case ReasonDisabled:
		return "disabled"
	case ReasonReferenceUnsatisfied:
		return "reference unsatisfied"
	case ReasonConfigurationModified:
		return "configuration modified"
	case ReasonConfigurationDeleted:
		return "configuration deleted"
	case ReasonDisposed:
		return "disposed"
	case ReasonModuleStopped:
		return "module stopped"
	default:
		return "unspecified"
	}
}

// EventType classifies a component Event.
type EventType string

const (
	EventEnabled          EventType = "component.enabled"
	EventDisabled         EventType = "component.disabled"
	EventSatisfied        EventType = "component.satisfied"
	EventUnsatisfied      EventType = "component.unsatisfied"
	EventActivated        EventType = "component.activated"
	EventDeactivated      EventType = "component.deactivated"
	EventActivationFailed EventType = "component.activation-failed"
	EventCycle            EventType = "component.cycle"
)

// Event reports a component state change.
type Event struct {
	Type      EventType
	Component string
	Owner     int64
	PID       string
	Reason    Reason
	Err       error
}

// Runtime holds the registered components.
type Runtime struct {
	registry *registry.Registry
	admin    *cm.Admin
	impls    *Implementations
	logger   logging.Logger
	listener func(Event)

	mu         sync.RWMutex
	components map[string]*Component
	order      []*Component
	nextID     int64

	qmu      sync.Mutex
	queue    []*job
	draining bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithEventListener receives every component event, synchronously.
func WithEventListener(fn func(Event)) Option {
	return func(rt *Runtime) { rt.listener = fn }
}

// New creates a runtime tracking services in reg and configurations in
// admin.
func New(reg *registry.Registry, admin *cm.Admin, impls *Implementations, opts ...Option) *Runtime {
	rt := &Runtime{
		registry:   reg,
		admin:      admin,
		impls:      impls,
		logger:     logging.Nop{},
		components: make(map[string]*Component),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

type job struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

type drainKey struct{}

// submit queues fn. When no job is running the caller drains the queue
// itself. With wait set, a caller from outside the queue blocks until fn
// has run; callers from inside a job never wait.
func (rt *Runtime) submit(ctx context.Context, fn func(context.Context), wait bool) error {
	j := &job{fn: fn, done: make(chan struct{})}
	rt.qmu.Lock()
	rt.queue = append(rt.queue, j)
	if rt.draining {
		rt.qmu.Unlock()
		if !wait || ctx.Value(drainKey{}) == rt {
			return nil
		}
		select {
		case <-j.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	rt.draining = true
	rt.qmu.Unlock()

	rt.drain(context.WithValue(context.WithoutCancel(ctx), drainKey{}, rt))
	return nil
}

func (rt *Runtime) drain(ctx context.Context) {
	for {
		rt.qmu.Lock()
		if len(rt.queue) == 0 {
			rt.draining = false
			rt.qmu.Unlock()
			return
		}
		j := rt.queue[0]
		rt.queue = rt.queue[1:]
		rt.qmu.Unlock()

		rt.exec(ctx, j)
	}
}

func (rt *Runtime) exec(ctx context.Context, j *job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("Component job panicked", "panic", r)
		}
	}()
	j.fn(ctx)
}

func (rt *Runtime) emit(ev Event) {
	if rt.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("Component event listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	rt.listener(ev)
}

// Register adds a component owned by module owner and enables it when the
// description says so. Hooks are resolved here; a description naming a hook
// its implementation lacks is rejected.
func (rt *Runtime) Register(ctx context.Context, owner int64, desc *Description) (*Component, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	d := desc.Clone()
	h, err := rt.impls.resolve(d)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	if _, ok := rt.components[d.Name]; ok {
		rt.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateComponent, d.Name)
	}
	rt.nextID++
	c := newComponent(rt, rt.nextID, owner, d, h)
	rt.components[d.Name] = c
	rt.order = append(rt.order, c)
	rt.mu.Unlock()

	rt.logger.Debug("Component registered", "component", d.Name, "owner", owner)
	if d.Enabled {
		if err := rt.submit(ctx, func(ctx context.Context) { c.enable(ctx) }, true); err != nil {
			return c, err
		}
	}
	return c, nil
}

// Enable starts tracking the constraints of a component. Enabling an
// enabled component does nothing.
func (rt *Runtime) Enable(ctx context.Context, name string) error {
	c, ok := rt.Component(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	return rt.submit(ctx, func(ctx context.Context) { c.enable(ctx) }, true)
}

// Disable deactivates every configuration of a component and stops
// tracking. Disabling a disabled component does nothing.
func (rt *Runtime) Disable(ctx context.Context, name string) error {
	c, ok := rt.Component(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	return rt.submit(ctx, func(ctx context.Context) { c.disable(ctx, ReasonDisabled) }, true)
}

// RemoveOwner disables and forgets every component of owner, most recently
// registered first.
func (rt *Runtime) RemoveOwner(ctx context.Context, owner int64, reason Reason) error {
	rt.mu.Lock()
	var owned []*Component
	rt.order = slices.DeleteFunc(rt.order, func(c *Component) bool {
		if c.owner != owner {
			return false
		}
		owned = append(owned, c)
		delete(rt.components, c.desc.Name)
		return true
	})
	rt.mu.Unlock()
	if len(owned) == 0 {
		return nil
	}
	slices.Reverse(owned)
	return rt.submit(ctx, func(ctx context.Context) {
		for _, c := range owned {
			c.disable(ctx, reason)
		}
	}, true)
}

// Close disposes every component.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	all := slices.Clone(rt.order)
	rt.order = nil
	clear(rt.components)
	rt.mu.Unlock()
	slices.Reverse(all)
	return rt.submit(ctx, func(ctx context.Context) {
		for _, c := range all {
			c.disable(ctx, ReasonDisposed)
		}
	}, true)
}

// Component returns a registered component.
func (rt *Runtime) Component(name string) (*Component, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	c, ok := rt.components[name]
	return c, ok
}

// Components returns the components in registration order.
func (rt *Runtime) Components() []*Component {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return slices.Clone(rt.order)
}

// OwnedBy returns the components of owner in registration order.
func (rt *Runtime) OwnedBy(owner int64) []*Component {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var out []*Component
	for _, c := range rt.order {
		if c.owner == owner {
			out = append(out, c)
		}
	}
	return out
}

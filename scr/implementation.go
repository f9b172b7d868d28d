package scr

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modhost/registry"
)

// LifecycleHook is an activate, deactivate or modified hook.
type LifecycleHook func(instance any, cc *Context) error

// BindHook is a bind, unbind or updated hook of a reference.
type BindHook func(instance any, b Binding) error

// Binding is a service handed to a reference hook.
type Binding struct {
	Reference  string
	Service    any
	ServiceRef *registry.Reference
	Properties map[string]any
}

// Implementation is the code behind a component description: a constructor
// and the hooks the description may name.
type Implementation struct {
	New       func() any
	Lifecycle map[string]LifecycleHook
	Binders   map[string]BindHook
}

// Implementations maps implementation names to their code.
type Implementations struct {
	mu    sync.RWMutex
	impls map[string]Implementation
}

// NewImplementations creates an empty table.
func NewImplementations() *Implementations {
	return &Implementations{impls: make(map[string]Implementation)}
}

// Register adds an implementation.
func (t *Implementations) Register(name string, impl Implementation) error {
	if impl.New == nil {
		return fmt.Errorf("%w: %s has no constructor", ErrInvalidDescription, name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.impls[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateImplementation, name)
	}
	t.impls[name] = impl
	return nil
}

// Lookup returns the implementation name.
func (t *Implementations) Lookup(name string) (Implementation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	impl, ok := t.impls[name]
	return impl, ok
}

// hooks are the hook functions a description names, resolved once.
type hooks struct {
	newInstance func() any
	activate    LifecycleHook
	deactivate  LifecycleHook
	modified    LifecycleHook
	refs        map[string]refHooks
}

type refHooks struct {
	bind, unbind, updated BindHook
}

func (t *Implementations) resolve(d *Description) (*hooks, error) {
	impl, ok := t.Lookup(d.Implementation)
	if !ok {
		return nil, fmt.Errorf("%w: %s (component %s)", ErrUnknownImplementation, d.Implementation, d.Name)
	}
	h := &hooks{newInstance: impl.New, refs: make(map[string]refHooks)}
	var err error
	lifecycle := func(name string) LifecycleHook {
		if name == "" || err != nil {
			return nil
		}
		fn, ok := impl.Lifecycle[name]
		if !ok {
			err = fmt.Errorf("%w: %s.%s (component %s)", ErrMissingHook, d.Implementation, name, d.Name)
		}
		return fn
	}
	binder := func(name string) BindHook {
		if name == "" || err != nil {
			return nil
		}
		fn, ok := impl.Binders[name]
		if !ok {
			err = fmt.Errorf("%w: %s.%s (component %s)", ErrMissingHook, d.Implementation, name, d.Name)
		}
		return fn
	}
	h.activate = lifecycle(d.Activate)
	h.deactivate = lifecycle(d.Deactivate)
	h.modified = lifecycle(d.Modified)
	for _, r := range d.References {
		h.refs[r.Name] = refHooks{bind: binder(r.Bind), unbind: binder(r.Unbind), updated: binder(r.Updated)}
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

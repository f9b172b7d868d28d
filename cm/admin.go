// Package cm is the configuration admin: it stores configurations keyed by
// persistent id (pid) and notifies listeners of changes.
//
// A factory configuration has a pid of the form "<factoryPid>~<name>"; every
// factory configuration of one factory pid configures its own component
// instance.
package cm

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/GoCodeAlone/modhost/internal/logging"
)

// Standard configuration properties set by the admin.
const (
	PropPID        = "service.pid"
	PropFactoryPID = "service.factoryPid"
)

// FactorySeparator separates the factory pid from the instance name.
const FactorySeparator = "~"

// Configuration is a snapshot of one stored configuration.
type Configuration struct {
	PID         string
	FactoryPID  string
	Properties  Dictionary
	ChangeCount int64
}

// EventType classifies an Event.
type EventType int

const (
	Updated EventType = iota + 1
	Deleted
)

func (t EventType) String() string {
	if t == Updated {
		return "UPDATED"
	}
	return "DELETED"
}

// Event reports a configuration change. Properties is nil for Deleted.
type Event struct {
	Type          EventType
	Configuration Configuration
}

// Listener receives configuration events.
type Listener func(Event)

// Admin holds configurations in memory.
type Admin struct {
	mu        sync.RWMutex
	configs   map[string]*Configuration
	listeners []*listenerEntry
	logger    logging.Logger
}

type listenerEntry struct{ fn Listener }

// Option configures an Admin.
type Option func(*Admin)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Admin) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an empty Admin.
func New(opts ...Option) *Admin {
	a := &Admin{configs: make(map[string]*Configuration), logger: logging.Nop{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SplitPID splits a factory configuration pid. ok is false for a singleton
// pid.
func SplitPID(pid string) (factoryPID, name string, ok bool) {
	return strings.Cut(pid, FactorySeparator)
}

// FactoryPID returns the pid of the factory configuration name of factoryPID.
func FactoryPID(factoryPID, name string) string {
	return factoryPID + FactorySeparator + name
}

func validatePID(pid string) error {
	if strings.TrimSpace(pid) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPID)
	}
	if f, n, ok := SplitPID(pid); ok && (f == "" || n == "" || strings.Contains(n, FactorySeparator)) {
		return fmt.Errorf("%w: %q", ErrInvalidPID, pid)
	}
	return nil
}

// Update creates or replaces the configuration pid.
func (a *Admin) Update(pid string, props map[string]any) error {
	if err := validatePID(pid); err != nil {
		return err
	}
	factory, _, _ := SplitPID(pid)

	d := Dictionary(props).Clone()
	d[PropPID] = pid
	if factory != pid {
		d[PropFactoryPID] = factory
	} else {
		factory = ""
	}

	a.mu.Lock()
	c, ok := a.configs[pid]
	if !ok {
		c = &Configuration{PID: pid, FactoryPID: factory}
		a.configs[pid] = c
	}
	c.Properties = d
	c.ChangeCount++
	snapshot := c.snapshot()
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()

	a.logger.Debug("Configuration updated", "pid", pid, "changeCount", snapshot.ChangeCount)
	a.deliver(listeners, Event{Type: Updated, Configuration: snapshot})
	return nil
}

// CreateFactoryConfiguration stores the factory configuration name of
// factoryPID and returns its pid.
func (a *Admin) CreateFactoryConfiguration(factoryPID, name string, props map[string]any) (string, error) {
	pid := FactoryPID(factoryPID, name)
	if err := a.Update(pid, props); err != nil {
		return "", err
	}
	return pid, nil
}

// Delete removes the configuration pid.
func (a *Admin) Delete(pid string) error {
	a.mu.Lock()
	c, ok := a.configs[pid]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, pid)
	}
	delete(a.configs, pid)
	snapshot := c.snapshot()
	snapshot.Properties = nil
	listeners := slices.Clone(a.listeners)
	a.mu.Unlock()

	a.logger.Debug("Configuration deleted", "pid", pid)
	a.deliver(listeners, Event{Type: Deleted, Configuration: snapshot})
	return nil
}

// Get returns the configuration pid.
func (a *Admin) Get(pid string) (Configuration, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.configs[pid]
	if !ok {
		return Configuration{}, false
	}
	return c.snapshot(), true
}

// List returns every configuration ordered by pid.
func (a *Admin) List() []Configuration {
	return a.list(func(*Configuration) bool { return true })
}

// Factory returns the configurations of factoryPID ordered by pid.
func (a *Admin) Factory(factoryPID string) []Configuration {
	return a.list(func(c *Configuration) bool { return c.FactoryPID == factoryPID })
}

func (a *Admin) list(keep func(*Configuration) bool) []Configuration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Configuration
	for _, c := range a.configs {
		if keep(c) {
			out = append(out, c.snapshot())
		}
	}
	slices.SortFunc(out, func(x, y Configuration) int { return strings.Compare(x.PID, y.PID) })
	return out
}

// AddListener subscribes fn to configuration events. Events are delivered
// synchronously by the goroutine that caused them. The returned function
// removes the listener.
func (a *Admin) AddListener(fn Listener) (remove func()) {
	e := &listenerEntry{fn: fn}
	a.mu.Lock()
	a.listeners = append(a.listeners, e)
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.listeners = slices.DeleteFunc(a.listeners, func(x *listenerEntry) bool { return x == e })
	}
}

func (a *Admin) deliver(listeners []*listenerEntry, ev Event) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("Configuration listener panicked", "pid", ev.Configuration.PID, "panic", r)
				}
			}()
			l.fn(ev)
		}()
	}
}

func (c *Configuration) snapshot() Configuration {
	s := *c
	s.Properties = c.Properties.Clone()
	return s
}

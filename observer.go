package modhost

import (
	"context"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer defines the interface for objects that want to be notified of
// framework events. Events use the CloudEvents specification.
type Observer interface {
	// OnEvent is called for every event the observer subscribed to.
	// Observers should return quickly; lifecycle operations of the module
	// the event is about wait for delivery.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// Subject defines the interface for objects that can be observed.
type Subject interface {
	// RegisterObserver adds an observer. With no eventTypes the observer
	// receives every event. Registering an id again replaces the earlier
	// registration.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. It is idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers an event to the interested observers in
	// registration order.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers describes the registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo provides information about a registered observer.
type ObserverInfo struct {
	// ID is the unique identifier of the observer
	ID string `json:"id"`

	// EventTypes are the event types this observer is subscribed to.
	// Empty slice means all events.
	EventTypes []string `json:"eventTypes"`

	// RegisteredAt indicates when the observer was registered
	RegisteredAt time.Time `json:"registeredAt"`
}

// EventType constants for the CloudEvents emitted by the framework.
// Following the CloudEvents specification, these use reverse domain notation.
const (
	// Module lifecycle events
	EventTypeModuleInstalled   = "com.modhost.module.installed"
	EventTypeModuleResolved    = "com.modhost.module.resolved"
	EventTypeModuleLazyStart   = "com.modhost.module.lazy-activation"
	EventTypeModuleStarting    = "com.modhost.module.starting"
	EventTypeModuleStarted     = "com.modhost.module.started"
	EventTypeModuleStopping    = "com.modhost.module.stopping"
	EventTypeModuleStopped     = "com.modhost.module.stopped"
	EventTypeModuleUpdated     = "com.modhost.module.updated"
	EventTypeModuleUnresolved  = "com.modhost.module.unresolved"
	EventTypeModuleUninstalled = "com.modhost.module.uninstalled"

	// Framework events
	EventTypeFrameworkStarted = "com.modhost.framework.started"
	EventTypeFrameworkStopped = "com.modhost.framework.stopped"
	EventTypeFrameworkRefresh = "com.modhost.framework.refreshed"
	EventTypeFrameworkError   = "com.modhost.framework.error"

	// Service events
	EventTypeServiceRegistered       = "com.modhost.service.registered"
	EventTypeServiceModified         = "com.modhost.service.modified"
	EventTypeServiceModifiedEndMatch = "com.modhost.service.modified-endmatch"
	EventTypeServiceUnregistering    = "com.modhost.service.unregistering"

	// Component events
	EventTypeComponentEnabled          = "com.modhost.component.enabled"
	EventTypeComponentDisabled         = "com.modhost.component.disabled"
	EventTypeComponentSatisfied        = "com.modhost.component.satisfied"
	EventTypeComponentUnsatisfied      = "com.modhost.component.unsatisfied"
	EventTypeComponentActivated        = "com.modhost.component.activated"
	EventTypeComponentDeactivated      = "com.modhost.component.deactivated"
	EventTypeComponentActivationFailed = "com.modhost.component.activation-failed"
	EventTypeComponentCycle            = "com.modhost.component.cycle"
)

// FunctionalObserver provides a simple way to create observers using functions.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates a new observer that uses the provided function
// to handle events.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements the Observer interface by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements the Observer interface by returning the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

// observerRegistration holds information about a registered observer
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// subject delivers CloudEvents to observers. Lifecycle events are delivered
// synchronously by the caller. Service and component events are raised while
// registry or component locks are held further up the stack, so they go
// through an ordered queue drained by one goroutine.
type subject struct {
	logger Logger

	mu        sync.RWMutex
	observers []*observerRegistration

	qmu     sync.Mutex
	queue   []cloudevents.Event
	running bool
	wake    chan struct{}
	quit    chan struct{}
	exited  chan struct{}
}

func newSubject(logger Logger) *subject {
	return &subject{logger: logger}
}

func (s *subject) register(observer Observer, eventTypes []string) error {
	if observer == nil {
		return ErrObserverNil
	}
	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	reg := &observerRegistration{observer: observer, eventTypes: types, registeredAt: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = slices.DeleteFunc(s.observers, func(r *observerRegistration) bool {
		return r.observer.ObserverID() == observer.ObserverID()
	})
	s.observers = append(s.observers, reg)
	s.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

func (s *subject) unregister(observer Observer) {
	if observer == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = slices.DeleteFunc(s.observers, func(r *observerRegistration) bool {
		return r.observer.ObserverID() == observer.ObserverID()
	})
}

func (s *subject) info() []ObserverInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ObserverInfo, 0, len(s.observers))
	for _, r := range s.observers {
		types := make([]string, 0, len(r.eventTypes))
		for t := range r.eventTypes {
			types = append(types, t)
		}
		slices.Sort(types)
		out = append(out, ObserverInfo{ID: r.observer.ObserverID(), EventTypes: types, RegisteredAt: r.registeredAt})
	}
	return out
}

func (s *subject) notify(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		s.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}
	s.mu.RLock()
	snapshot := slices.Clone(s.observers)
	s.mu.RUnlock()

	for _, r := range snapshot {
		if len(r.eventTypes) > 0 && !r.eventTypes[event.Type()] {
			continue
		}
		s.deliver(ctx, r.observer, event)
	}
	return nil
}

func (s *subject) deliver(ctx context.Context, o Observer, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Observer panicked", "observerID", o.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()
	if err := o.OnEvent(ctx, event); err != nil {
		s.logger.Warn("Observer error", "observerID", o.ObserverID(), "event", event.Type(), "error", err)
	}
}

func (s *subject) start() {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.wake = make(chan struct{}, 1)
	s.quit = make(chan struct{})
	s.exited = make(chan struct{})
	go s.loop(s.wake, s.quit, s.exited)
}

// enqueue delivers event from the queue goroutine, or inline when the
// queue is not running.
func (s *subject) enqueue(event cloudevents.Event) {
	s.qmu.Lock()
	if !s.running {
		s.qmu.Unlock()
		_ = s.notify(context.Background(), event)
		return
	}
	s.queue = append(s.queue, event)
	wake := s.wake
	s.qmu.Unlock()
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (s *subject) loop(wake, quit, exited chan struct{}) {
	defer close(exited)
	for {
		select {
		case <-wake:
			s.flush()
		case <-quit:
			s.flush()
			return
		}
	}
}

func (s *subject) flush() {
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			s.qmu.Unlock()
			return
		}
		event := s.queue[0]
		s.queue = s.queue[1:]
		s.qmu.Unlock()
		_ = s.notify(context.Background(), event)
	}
}

// close delivers what is queued and stops the queue goroutine.
func (s *subject) close() {
	s.qmu.Lock()
	if !s.running {
		s.qmu.Unlock()
		return
	}
	s.running = false
	quit, exited := s.quit, s.exited
	s.qmu.Unlock()
	close(quit)
	<-exited
}

// RegisterObserver adds an observer of framework events.
func (fw *Framework) RegisterObserver(observer Observer, eventTypes ...string) error {
	return fw.subject.register(observer, eventTypes)
}

// UnregisterObserver removes an observer. It is idempotent.
func (fw *Framework) UnregisterObserver(observer Observer) error {
	fw.subject.unregister(observer)
	return nil
}

// NotifyObservers delivers an event to the interested observers.
func (fw *Framework) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	return fw.subject.notify(ctx, event)
}

// GetObservers describes the registered observers.
func (fw *Framework) GetObservers() []ObserverInfo {
	return fw.subject.info()
}

var _ Subject = (*Framework)(nil)

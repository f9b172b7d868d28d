package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modhost/internal/logging"
)

// Dispatcher delivers events synchronously, in priority order, to the
// observers interested in them. Observers registered with equal priority are
// called in registration order.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []registeredObserver
	seq       int64
	running   bool
	config    *DispatchConfig
	store     EventStore
	logger    logging.Logger

	metricsMu sync.Mutex
	metrics   EventMetrics
}

type registeredObserver struct {
	observer EventObserver
	types    map[EventType]bool
	seq      int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithStore persists dispatched events when persistence is enabled.
func WithStore(store EventStore) DispatcherOption {
	return func(d *Dispatcher) { d.store = store }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(config *DispatchConfig, opts ...DispatcherOption) *Dispatcher {
	if config == nil {
		config = &DispatchConfig{EnableMetrics: true}
	}
	d := &Dispatcher{
		config:  config,
		logger:  logging.Nop{},
		metrics: EventMetrics{EventsByType: make(map[EventType]int64)},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.config.EnablePersistence && d.store == nil {
		d.store = NewStore(d.config.HistoryLimit)
	}
	return d
}

// NewEvent fills in the id and timestamp of an event.
func NewEvent(t EventType, module int64, name string) *Event {
	return &Event{
		ID:        newEventID(),
		Type:      t,
		Module:    module,
		Name:      name,
		Timestamp: time.Now(),
	}
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// Dispatch delivers event to every interested observer. Observer errors and
// panics are logged and counted; they are returned joined once every
// observer has run.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return ErrEventCannotBeNil
	}
	d.mu.RLock()
	running := d.running
	snapshot := make([]registeredObserver, len(d.observers))
	copy(snapshot, d.observers)
	d.mu.RUnlock()

	if !running {
		d.count(func(m *EventMetrics) { m.DispatchErrors++ })
		return ErrDispatcherNotRunning
	}
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if d.store != nil && d.config.EnablePersistence {
		if err := d.store.Store(ctx, event); err != nil {
			d.logger.Warn("Failed to store lifecycle event", "event", event.ID, "error", err)
		}
	}

	var errs []error
	for _, reg := range snapshot {
		if len(reg.types) > 0 && !reg.types[event.Type] {
			continue
		}
		if err := d.deliver(ctx, reg.observer, event); err != nil {
			errs = append(errs, err)
		}
	}

	d.count(func(m *EventMetrics) {
		m.TotalEvents++
		m.EventsByType[event.Type]++
		m.LastEventTime = event.Timestamp
	})
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, o EventObserver, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Observer panicked", "observerID", o.ID(), "event", event.Type, "panic", r)
			d.count(func(m *EventMetrics) { m.ObserverPanics++ })
			err = fmt.Errorf("observer %s panicked: %v", o.ID(), r)
		}
	}()
	if err := o.OnEvent(ctx, event); err != nil {
		d.logger.Error("Observer error", "observerID", o.ID(), "event", event.Type, "error", err)
		d.count(func(m *EventMetrics) { m.ObserverErrors++ })
		return fmt.Errorf("observer %s: %w", o.ID(), err)
	}
	return nil
}

func (d *Dispatcher) count(fn func(*EventMetrics)) {
	if !d.config.EnableMetrics {
		return
	}
	d.metricsMu.Lock()
	fn(&d.metrics)
	d.metricsMu.Unlock()
}

// RegisterObserver adds or replaces an observer.
func (d *Dispatcher) RegisterObserver(observer EventObserver) error {
	if observer == nil {
		return ErrObserverRequired
	}
	types := make(map[EventType]bool)
	for _, t := range observer.EventTypes() {
		types[t] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(observer.ID())
	d.seq++
	d.observers = append(d.observers, registeredObserver{observer: observer, types: types, seq: d.seq})
	sort.SliceStable(d.observers, func(i, j int) bool {
		pi, pj := d.observers[i].observer.Priority(), d.observers[j].observer.Priority()
		if pi != pj {
			return pi > pj
		}
		return d.observers[i].seq < d.observers[j].seq
	})
	d.setActiveObservers(len(d.observers))
	return nil
}

// UnregisterObserver removes an observer. Unknown ids are ignored.
func (d *Dispatcher) UnregisterObserver(observerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(observerID)
	d.setActiveObservers(len(d.observers))
	return nil
}

func (d *Dispatcher) removeLocked(id string) {
	out := d.observers[:0]
	for _, reg := range d.observers {
		if reg.observer.ID() != id {
			out = append(out, reg)
		}
	}
	d.observers = out
}

func (d *Dispatcher) setActiveObservers(n int) {
	d.count(func(m *EventMetrics) { m.ActiveObservers = int64(n) })
}

// GetObservers returns the observers in delivery order.
func (d *Dispatcher) GetObservers() []EventObserver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EventObserver, 0, len(d.observers))
	for _, reg := range d.observers {
		out = append(out, reg.observer)
	}
	return out
}

// Start enables delivery.
func (d *Dispatcher) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrDispatcherAlreadyRunning
	}
	d.running = true
	return nil
}

// Stop disables delivery. Stopping a stopped dispatcher is a no-op.
func (d *Dispatcher) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	return nil
}

// IsRunning returns true if the dispatcher is delivering events.
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Metrics returns a snapshot of the dispatch metrics.
func (d *Dispatcher) Metrics() EventMetrics {
	d.metricsMu.Lock()
	defer d.metricsMu.Unlock()
	m := d.metrics
	m.EventsByType = maps.Clone(d.metrics.EventsByType)
	return m
}

// Store returns the event store, or nil when persistence is disabled.
func (d *Dispatcher) Store() EventStore {
	if !d.config.EnablePersistence {
		return nil
	}
	return d.store
}

// BasicObserver adapts a function to EventObserver.
type BasicObserver struct {
	id         string
	eventTypes []EventType
	priority   int
	callback   func(context.Context, *Event) error
}

// NewBasicObserver creates a new basic observer
func NewBasicObserver(id string, eventTypes []EventType, priority int, callback func(context.Context, *Event) error) *BasicObserver {
	return &BasicObserver{
		id:         id,
		eventTypes: eventTypes,
		priority:   priority,
		callback:   callback,
	}
}

// OnEvent is called when a lifecycle event is dispatched
func (o *BasicObserver) OnEvent(ctx context.Context, event *Event) error {
	if o.callback != nil {
		return o.callback(ctx, event)
	}
	return nil
}

// ID returns the unique identifier for this observer
func (o *BasicObserver) ID() string {
	return o.id
}

// EventTypes returns the types of events this observer wants to receive
func (o *BasicObserver) EventTypes() []EventType {
	return o.eventTypes
}

// Priority returns the priority of this observer (higher = called first)
func (o *BasicObserver) Priority() int {
	return o.priority
}

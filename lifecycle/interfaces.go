// Package lifecycle defines module states, lifecycle events and their
// dispatching, and the pool of workers that runs lifecycle operations.
package lifecycle

import (
	"context"
	"time"
)

// EventDispatcher delivers lifecycle events to observers.
type EventDispatcher interface {
	// Dispatch delivers event to every interested observer before returning
	Dispatch(ctx context.Context, event *Event) error

	RegisterObserver(observer EventObserver) error
	UnregisterObserver(observerID string) error
	GetObservers() []EventObserver

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// EventObserver receives lifecycle events.
type EventObserver interface {
	OnEvent(ctx context.Context, event *Event) error

	// ID returns the unique identifier for this observer
	ID() string

	// EventTypes returns the types of events this observer wants to receive.
	// Empty means all.
	EventTypes() []EventType

	// Priority orders delivery; higher is called first
	Priority() int
}

// EventStore keeps a history of lifecycle events.
type EventStore interface {
	Store(ctx context.Context, event *Event) error
	Get(ctx context.Context, eventID string) (*Event, error)
	Query(ctx context.Context, criteria *QueryCriteria) ([]*Event, error)
	Delete(ctx context.Context, criteria *QueryCriteria) error
	GetEventHistory(ctx context.Context, module int64, since time.Time) ([]*Event, error)
}

// Event is a module lifecycle transition or a framework error.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Module    int64          `json:"module"`
	Name      string         `json:"name,omitempty"`
	Location  string         `json:"location,omitempty"`
	From      State          `json:"from,omitempty"`
	To        State          `json:"to,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventType names a lifecycle event.
type EventType string

const (
	EventTypeModuleInstalled   EventType = "module.installed"
	EventTypeModuleResolved    EventType = "module.resolved"
	EventTypeModuleLazyStart   EventType = "module.lazy-activation"
	EventTypeModuleStarting    EventType = "module.starting"
	EventTypeModuleStarted     EventType = "module.started"
	EventTypeModuleStopping    EventType = "module.stopping"
	EventTypeModuleStopped     EventType = "module.stopped"
	EventTypeModuleUpdated     EventType = "module.updated"
	EventTypeModuleUnresolved  EventType = "module.unresolved"
	EventTypeModuleUninstalled EventType = "module.uninstalled"
	EventTypeFrameworkStarted  EventType = "framework.started"
	EventTypeFrameworkStopped  EventType = "framework.stopped"
	EventTypeFrameworkRefresh  EventType = "framework.refreshed"
	EventTypeFrameworkError    EventType = "framework.error"
)

// QueryCriteria selects events from an EventStore. Zero fields match all.
type QueryCriteria struct {
	EventTypes []EventType `json:"event_types,omitempty"`
	Modules    []int64     `json:"modules,omitempty"`
	Since      *time.Time  `json:"since,omitempty"`
	Until      *time.Time  `json:"until,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	OrderDesc  bool        `json:"order_desc,omitempty"`
}

// DispatchConfig configures a Dispatcher.
type DispatchConfig struct {
	EnablePersistence bool `json:"enable_persistence"`
	EnableMetrics     bool `json:"enable_metrics"`
	// HistoryLimit bounds the number of stored events; 0 means unbounded
	HistoryLimit int `json:"history_limit"`
}

// EventMetrics summarizes dispatching.
type EventMetrics struct {
	TotalEvents     int64               `json:"total_events"`
	EventsByType    map[EventType]int64 `json:"events_by_type"`
	LastEventTime   time.Time           `json:"last_event_time"`
	ActiveObservers int64               `json:"active_observers"`
	DispatchErrors  int64               `json:"dispatch_errors"`
	ObserverErrors  int64               `json:"observer_errors"`
	ObserverPanics  int64               `json:"observer_panics"`
}

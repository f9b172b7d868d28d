package modhost

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/modhost/lifecycle"
	"github.com/GoCodeAlone/modhost/registry"
	"github.com/GoCodeAlone/modhost/scr"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience
type CloudEvent = cloudevents.Event

// EventSource is the source attribute of framework events; module events
// append "/module/<id>".
const EventSource = "modhost"

// NewCloudEvent creates a new CloudEvent with the specified parameters.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

// generateEventID generates a unique identifier for CloudEvents using UUIDv7.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails for any reason
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates that a CloudEvent conforms to the specification.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

// CloudEventType maps a lifecycle event type to its CloudEvent type.
func CloudEventType(t lifecycle.EventType) string {
	return "com.modhost." + string(t)
}

func moduleSource(id int64) string {
	if id == 0 {
		return EventSource
	}
	return fmt.Sprintf("%s/module/%d", EventSource, id)
}

// ModuleEventData is the data of module and framework CloudEvents.
type ModuleEventData struct {
	Module   int64          `json:"module,omitempty"`
	Name     string         `json:"name,omitempty"`
	Location string         `json:"location,omitempty"`
	From     string         `json:"from,omitempty"`
	To       string         `json:"to,omitempty"`
	Error    string         `json:"error,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// ServiceEventData is the data of service CloudEvents.
type ServiceEventData struct {
	ServiceID  int64    `json:"serviceId"`
	Owner      int64    `json:"owner"`
	Interfaces []string `json:"interfaces"`
}

// ComponentEventData is the data of component CloudEvents.
type ComponentEventData struct {
	Component string `json:"component"`
	Owner     int64  `json:"owner"`
	PID       string `json:"pid,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// lifecycleBridge forwards dispatched lifecycle events to observers.
type lifecycleBridge struct{ fw *Framework }

func (b lifecycleBridge) ID() string                        { return "modhost.cloudevents" }
func (b lifecycleBridge) EventTypes() []lifecycle.EventType { return nil }
func (b lifecycleBridge) Priority() int                     { return 0 }

func (b lifecycleBridge) OnEvent(ctx context.Context, ev *lifecycle.Event) error {
	data := ModuleEventData{
		Module:   ev.Module,
		Name:     ev.Name,
		Location: ev.Location,
		Error:    ev.Error,
		Data:     ev.Data,
	}
	if ev.From != 0 {
		data.From = ev.From.String()
	}
	if ev.To != 0 {
		data.To = ev.To.String()
	}
	ce := NewCloudEvent(CloudEventType(ev.Type), moduleSource(ev.Module), data, nil)
	ce.SetID(ev.ID)
	ce.SetTime(ev.Timestamp)
	return b.fw.subject.notify(ctx, ce)
}

// emit dispatches a module lifecycle event on the module's event queue.
func (fw *Framework) emit(ctx context.Context, m *Module, t lifecycle.EventType, from, to lifecycle.State) {
	ev := lifecycle.NewEvent(t, m.id, m.Name())
	ev.Location = m.location
	ev.From, ev.To = from, to
	fw.dispatch(ctx, ev)
}

func (fw *Framework) emitError(ctx context.Context, m *Module, err error) {
	ev := lifecycle.NewEvent(lifecycle.EventTypeFrameworkError, m.id, m.Name())
	ev.Location = m.location
	ev.Error = err.Error()
	fw.dispatch(ctx, ev)
}

func (fw *Framework) emitFramework(ctx context.Context, t lifecycle.EventType, data map[string]any) {
	ev := lifecycle.NewEvent(t, 0, EventSource)
	ev.Data = data
	fw.dispatch(ctx, ev)
}

func (fw *Framework) dispatch(ctx context.Context, ev *lifecycle.Event) {
	if err := fw.pool.DispatchEvent(ctx, ev); err != nil {
		fw.logger.Debug("Lifecycle event delivery failed", "event", ev.Type, "module", ev.Module, "error", err)
	}
}

var serviceEventTypes = map[registry.EventType]string{
	registry.Registered:       EventTypeServiceRegistered,
	registry.Modified:         EventTypeServiceModified,
	registry.ModifiedEndMatch: EventTypeServiceModifiedEndMatch,
	registry.Unregistering:    EventTypeServiceUnregistering,
}

func (fw *Framework) onServiceEvent(ev registry.ServiceEvent) {
	t, ok := serviceEventTypes[ev.Type]
	if !ok {
		return
	}
	ref := ev.Reference
	fw.subject.enqueue(NewCloudEvent(t, moduleSource(ref.Owner()), ServiceEventData{
		ServiceID:  ref.ID(),
		Owner:      ref.Owner(),
		Interfaces: ref.Interfaces(),
	}, nil))
}

func (fw *Framework) onComponentEvent(ev scr.Event) {
	data := ComponentEventData{
		Component: ev.Component,
		Owner:     ev.Owner,
		PID:       ev.PID,
	}
	if ev.Reason != scr.ReasonUnspecified {
		data.Reason = ev.Reason.String()
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
		fw.logger.Warn("Component error", "component", ev.Component, "event", ev.Type, "error", ev.Err)
	}
	fw.subject.enqueue(NewCloudEvent("com.modhost."+string(ev.Type), moduleSource(ev.Owner), data, nil))
}

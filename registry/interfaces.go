// Package registry is the service registry shared by modules and components.
//
// Services are registered under one or more interface names together with a
// property map. Lookups select services by interface name and an optional
// CEL filter over the properties; among matches the service with the highest
// service.ranking wins, ties going to the lowest service.id.
package registry

import (
	"maps"
	"slices"
)

// Standard service properties set by the registry.
const (
	PropID          = "service.id"
	PropRanking     = "service.ranking"
	PropObjectClass = "objectClass"
	PropOwner       = "service.owner"
)

// EventType classifies a ServiceEvent.
type EventType int

const (
	// Registered is sent after a service was registered.
	Registered EventType = iota + 1
	// Modified is sent after the properties of a matching service changed.
	Modified
	// ModifiedEndMatch is sent when a property change makes a service stop
	// matching the listener's filter.
	ModifiedEndMatch
	// Unregistering is sent before a service is removed.
	Unregistering
)

func (t EventType) String() string {
	switch t {
	case Registered:
		return "REGISTERED"
	case Modified:
		return "MODIFIED"
	case ModifiedEndMatch:
		return "MODIFIED_ENDMATCH"
	case Unregistering:
		return "UNREGISTERING"
	default:
		return "UNKNOWN"
	}
}

// ServiceEvent describes a change of one service.
type ServiceEvent struct {
	Type      EventType
	Reference *Reference
}

// Listener receives service events.
type Listener func(ServiceEvent)

// Reference identifies a registered service. References stay valid after the
// service is unregistered; lookups through them then fail.
type Reference struct {
	id         int64
	owner      int64
	interfaces []string
	service    any

	// guarded by the registry lock
	props        map[string]any
	ranking      int
	unregistered bool
}

// ID returns the service.id.
func (r *Reference) ID() int64 { return r.id }

// Owner returns the id of the registering module.
func (r *Reference) Owner() int64 { return r.owner }

// Interfaces returns the interface names the service was registered under.
func (r *Reference) Interfaces() []string { return slices.Clone(r.interfaces) }

func (r *Reference) String() string {
	return "service " + formatID(r.id) + " " + formatList(r.interfaces)
}

// less orders references by ranking desc, then id asc.
func less(a, b *Reference) int {
	if a.ranking != b.ranking {
		if a.ranking > b.ranking {
			return -1
		}
		return 1
	}
	switch {
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	}
	return 0
}

func cloneProps(p map[string]any) map[string]any {
	out := maps.Clone(p)
	if out == nil {
		out = make(map[string]any)
	}
	return out
}

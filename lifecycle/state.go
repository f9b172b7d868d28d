package lifecycle

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a module.
//
//	INSTALLED -> RESOLVED -> STARTING -> ACTIVE -> STOPPING -> RESOLVED
//	any state -> UNINSTALLED
type State int

const (
	Installed State = iota + 1
	Resolved
	Starting
	Active
	Stopping
	Uninstalled
)

var stateNames = map[State]string{
	Installed:   "INSTALLED",
	Resolved:    "RESOLVED",
	Starting:    "STARTING",
	Active:      "ACTIVE",
	Stopping:    "STOPPING",
	Uninstalled: "UNINSTALLED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState is the inverse of String.
func ParseState(s string) (State, error) {
	for st, n := range stateNames {
		if strings.EqualFold(n, s) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	if to == Uninstalled {
		return from != Uninstalled
	}
	switch from {
	case Installed:
		return to == Resolved
	case Resolved:
		return to == Starting || to == Installed
	case Starting:
		return to == Active || to == Resolved || to == Stopping
	case Active:
		return to == Stopping
	case Stopping:
		return to == Resolved
	default:
		return false
	}
}

package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrDispatcherNotRunning     = errors.New("dispatcher is not running")
	ErrDispatcherAlreadyRunning = errors.New("dispatcher is already running")
	ErrEventCannotBeNil         = errors.New("event cannot be nil")
	ErrEventNotFound            = errors.New("event not found")
	ErrObserverRequired         = errors.New("observer is required")
	ErrUnknownState             = errors.New("unknown lifecycle state")

	ErrStateChange        = errors.New("state change failed")
	ErrAborted            = errors.New("operation aborted: module uninstalled")
	ErrReentrantOperation = errors.New("re-entrant lifecycle operation on the same module")
	ErrPoolClosed         = errors.New("lifecycle pool is closed")
	ErrOperationPanicked  = errors.New("lifecycle operation panicked")
)

// Operation names a pooled lifecycle operation.
type Operation string

const (
	OpStart    Operation = "start"
	OpStop     Operation = "stop"
	OpDispatch Operation = "dispatch"
)

// StateChangeError is the failure of a start or stop. It matches
// ErrStateChange and its cause with errors.Is.
type StateChangeError struct {
	Module int64
	Op     Operation
	Err    error
}

func (e *StateChangeError) Error() string {
	return fmt.Sprintf("module %d: %s: %v", e.Module, e.Op, e.Err)
}

func (e *StateChangeError) Unwrap() []error {
	return []error{ErrStateChange, e.Err}
}

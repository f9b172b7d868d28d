package scr

import (
	"errors"
	"strings"
)

var (
	ErrUnknownComponent        = errors.New("unknown component")
	ErrDuplicateComponent      = errors.New("component already registered")
	ErrUnknownImplementation   = errors.New("unknown component implementation")
	ErrDuplicateImplementation = errors.New("implementation already registered")
	ErrMissingHook             = errors.New("implementation does not provide hook")
	ErrInvalidDescription      = errors.New("invalid component description")
	ErrCircularDependency      = errors.New("circular component dependency")
	ErrActivation              = errors.New("component activation failed")
)

// CycleError reports components whose mandatory references can only be
// satisfied by each other.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return ErrCircularDependency.Error() + ": " + strings.Join(e.Chain, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCircularDependency }

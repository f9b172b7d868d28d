package wiring

import "errors"

var (
	ErrUnknownRevision = errors.New("unknown revision")
	ErrUnresolved      = errors.New("unresolved requirements")
	ErrNoProvider      = errors.New("no provider for package")
	ErrNotDynamic      = errors.New("package is not dynamically importable")
	ErrInUse           = errors.New("revision still has dependents")
	ErrResolved        = errors.New("revision is resolved")
)

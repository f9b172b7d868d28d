package registry

import "errors"

var (
	ErrServiceNotFound  = errors.New("service not found")
	ErrUnregistered     = errors.New("service is unregistered")
	ErrNoInterfaces     = errors.New("service must be registered under at least one interface")
	ErrNilService       = errors.New("service cannot be nil")
	ErrReservedProperty = errors.New("property is managed by the registry")
)

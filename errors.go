package modhost

import (
	"errors"
)

// Framework errors
var (
	// Framework state errors
	ErrNotInitialized     = errors.New("framework is not initialized")
	ErrAlreadyInitialized = errors.New("framework is already initialized")
	ErrAlreadyStarted     = errors.New("framework is already started")
	ErrStopped            = errors.New("framework is stopped")

	// Module errors
	ErrModuleNotFound       = errors.New("module not found")
	ErrModuleUninstalled    = errors.New("module is uninstalled")
	ErrDuplicateModule      = errors.New("a module with the same name and version is installed")
	ErrFragmentNotStartable = errors.New("fragments cannot be started")
	ErrNilArchive           = errors.New("archive is nil")

	// Activator errors
	ErrUnknownActivator   = errors.New("unknown activator")
	ErrDuplicateActivator = errors.New("activator already registered")
	ErrActivatorPanicked  = errors.New("activator panicked")
	ErrInvalidContext     = errors.New("module context is no longer valid")

	// Observer errors
	ErrObserverNil = errors.New("observer is nil")
)

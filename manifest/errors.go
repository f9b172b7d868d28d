package manifest

import "errors"

var (
	ErrNoDescriptor       = errors.New("module descriptor not found")
	ErrUnsupportedFormat  = errors.New("unsupported descriptor format")
	ErrMissingName        = errors.New("module name is required")
	ErrDuplicateExport    = errors.New("package exported twice")
	ErrDuplicateImport    = errors.New("package imported twice")
	ErrConflictingExport  = errors.New("export conflicts with own import")
	ErrInvalidResolution  = errors.New("invalid import resolution")
	ErrInvalidActivation  = errors.New("invalid activation policy")
	ErrInvalidComponent   = errors.New("invalid component description")
	ErrFragmentDeclares   = errors.New("fragments cannot declare an activator or components")
	ErrInvalidPackageName = errors.New("invalid package name")
)

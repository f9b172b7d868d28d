package feeders

import "errors"

var (
	// ErrEnvInvalidStructure indicates that the target is not a pointer to a struct
	ErrEnvInvalidStructure = errors.New("env: invalid structure")
	// ErrEnvEmptyPrefixAndSuffix indicates that both prefix and suffix are empty
	ErrEnvEmptyPrefixAndSuffix = errors.New("env: prefix or suffix cannot be empty")
	// ErrUnsupportedFile indicates a configuration file with an unknown extension
	ErrUnsupportedFile = errors.New("unsupported configuration file")
	// ErrFieldCannotBeSet indicates an unexported or otherwise unsettable field
	ErrFieldCannotBeSet = errors.New("field cannot be set")
	// ErrSectionNotTable indicates a configuration section that is not a table
	ErrSectionNotTable = errors.New("configuration section is not a table")
)

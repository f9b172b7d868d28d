package cm

import "errors"

var (
	ErrInvalidPID        = errors.New("invalid configuration pid")
	ErrNotFound          = errors.New("configuration not found")
	ErrUnsupportedFormat = errors.New("unsupported configuration file format")
)

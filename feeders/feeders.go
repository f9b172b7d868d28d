// Package feeders provides golobby/config feeders for the runtime
// configuration: YAML, TOML and JSON files, optionally narrowed to one
// section, and affixed environment variables.
package feeders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golobby/config/v3"
)

// ForFile returns the file feeder matching the extension of path. A
// non-empty section restricts it to that dotted table of the document.
func ForFile(path, section string) (config.Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path, section), nil
	case ".toml":
		return NewTomlFeeder(path, section), nil
	case ".json":
		return NewJSONFeeder(path, section), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}

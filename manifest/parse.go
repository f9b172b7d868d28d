package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modhost/archive"
)

// Format is a descriptor encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// descriptorFiles lists the candidate descriptor names in lookup order.
var descriptorFiles = []struct {
	name   string
	format Format
}{
	{"module.yaml", FormatYAML},
	{"module.yml", FormatYAML},
	{"module.toml", FormatTOML},
	{"module.json", FormatJSON},
}

// FormatOf guesses the format from a file name.
func FormatOf(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// Parse decodes and validates a descriptor.
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decoding yaml descriptor: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, fmt.Errorf("decoding toml descriptor: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decoding toml descriptor: unknown keys %v", undecoded)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("decoding json descriptor: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads the descriptor of an archive.
func Load(a *archive.Archive) (*Manifest, error) {
	for _, d := range descriptorFiles {
		p := path.Join(Dir, d.name)
		data, err := a.ReadFile(p)
		if errors.Is(err, archive.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m, err := Parse(data, d.format)
		if err != nil {
			return nil, fmt.Errorf("%s!/%s: %w", a.Name(), p, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w in %s", ErrNoDescriptor, a.Name())
}

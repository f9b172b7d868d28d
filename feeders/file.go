package feeders

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/golobby/config/v3/pkg/feeder"
	"gopkg.in/yaml.v3"
)

// YamlFeeder feeds a structure from a YAML file. With a Section set, only
// that table of the document is fed.
type YamlFeeder struct {
	feeder.Yaml
	Section string
}

// NewYamlFeeder creates a YamlFeeder for path. An empty section feeds the
// whole document.
func NewYamlFeeder(path, section string) YamlFeeder {
	return YamlFeeder{Yaml: feeder.Yaml{Path: path}, Section: section}
}

// Feed implements config.Feeder.
func (f YamlFeeder) Feed(structure any) error {
	if f.Section == "" {
		return f.Yaml.Feed(structure)
	}
	return feedSection(f.Yaml.Feed, yaml.Marshal, yaml.Unmarshal, f.Path, f.Section, structure)
}

// TomlFeeder feeds a structure from a TOML file, optionally from one table.
type TomlFeeder struct {
	feeder.Toml
	Section string
}

// NewTomlFeeder creates a TomlFeeder for path.
func NewTomlFeeder(path, section string) TomlFeeder {
	return TomlFeeder{Toml: feeder.Toml{Path: path}, Section: section}
}

// Feed implements config.Feeder.
func (f TomlFeeder) Feed(structure any) error {
	if f.Section == "" {
		return f.Toml.Feed(structure)
	}
	return feedSection(f.Toml.Feed, toml.Marshal, toml.Unmarshal, f.Path, f.Section, structure)
}

// JSONFeeder feeds a structure from a JSON file, optionally from one object.
type JSONFeeder struct {
	feeder.Json
	Section string
}

// NewJSONFeeder creates a JSONFeeder for path.
func NewJSONFeeder(path, section string) JSONFeeder {
	return JSONFeeder{Json: feeder.Json{Path: path}, Section: section}
}

// Feed implements config.Feeder.
func (f JSONFeeder) Feed(structure any) error {
	if f.Section == "" {
		return f.Json.Feed(structure)
	}
	return feedSection(f.Json.Feed, json.Marshal, json.Unmarshal, f.Path, f.Section, structure)
}

// feedSection reads the whole document, walks the dotted section path and
// re-encodes the table it finds into structure. A missing section feeds
// nothing.
func feedSection(
	read func(any) error,
	marshal func(any) ([]byte, error),
	unmarshal func([]byte, any) error,
	path, section string,
	structure any,
) error {
	var doc map[string]any
	if err := read(&doc); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var node any = doc
	for _, key := range strings.Split(section, ".") {
		table, ok := node.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s in %s", ErrSectionNotTable, section, path)
		}
		if node, ok = table[key]; !ok {
			return nil
		}
	}
	if _, ok := node.(map[string]any); !ok {
		return fmt.Errorf("%w: %s in %s", ErrSectionNotTable, section, path)
	}
	data, err := marshal(node)
	if err != nil {
		return fmt.Errorf("encode section %s: %w", section, err)
	}
	if err := unmarshal(data, structure); err != nil {
		return fmt.Errorf("decode section %s: %w", section, err)
	}
	return nil
}

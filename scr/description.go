package scr

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/GoCodeAlone/modhost/filter"
	"github.com/GoCodeAlone/modhost/manifest"
)

// Cardinality bounds the number of services bound to a reference.
type Cardinality string

const (
	Optional          Cardinality = "0..1"
	Mandatory         Cardinality = "1..1"
	OptionalMultiple  Cardinality = "0..n"
	MandatoryMultiple Cardinality = "1..n"
)

// Mandatory reports whether at least one service is required.
func (c Cardinality) Mandatory() bool { return c == Mandatory || c == MandatoryMultiple }

// Multiple reports whether more than one service may be bound.
func (c Cardinality) Multiple() bool { return c == OptionalMultiple || c == MandatoryMultiple }

// ReferencePolicy controls how service changes reach an active component.
type ReferencePolicy string

const (
	// Static references are fixed for the life of an activated
	// configuration. Losing a bound service reactivates it; new services are
	// not picked up.
	Static ReferencePolicy = "static"
	// Dynamic references bind and unbind services on the live instance.
	Dynamic ReferencePolicy = "dynamic"
)

// ConfigurationPolicy controls whether a component needs configuration.
type ConfigurationPolicy string

const (
	ConfigurationOptional ConfigurationPolicy = "optional"
	ConfigurationRequire  ConfigurationPolicy = "require"
	ConfigurationIgnore   ConfigurationPolicy = "ignore"
)

// Description declares a component.
type Description struct {
	Name           string
	Implementation string

	// Hook names, looked up in the implementation's hook tables.
	Activate   string
	Deactivate string
	Modified   string

	ConfigurationPolicy ConfigurationPolicy
	// ConfigurationPID defaults to Name.
	ConfigurationPID string
	// Factory components get one configuration per factory configuration
	// of ConfigurationPID.
	Factory bool

	Services   []string
	Properties map[string]any
	Enabled    bool
	References []ReferenceDescription
}

// ReferenceDescription declares a dependency of a component on services.
type ReferenceDescription struct {
	Name        string
	Interface   string
	Cardinality Cardinality
	Policy      ReferencePolicy
	// Target is a CEL filter over the service properties.
	Target  string
	Bind    string
	Unbind  string
	Updated string
}

// PID returns the configuration pid of the component.
func (d *Description) PID() string {
	if d.ConfigurationPID != "" {
		return d.ConfigurationPID
	}
	return d.Name
}

// Provides reports whether the component registers services.
func (d *Description) Provides() bool { return len(d.Services) > 0 }

// Clone returns a deep copy with defaults applied.
func (d *Description) Clone() *Description {
	out := *d
	out.Services = slices.Clone(d.Services)
	out.Properties = maps.Clone(d.Properties)
	out.References = slices.Clone(d.References)
	out.applyDefaults()
	return &out
}

func (d *Description) applyDefaults() {
	if d.ConfigurationPolicy == "" {
		d.ConfigurationPolicy = ConfigurationOptional
	}
	for i := range d.References {
		r := &d.References[i]
		if r.Cardinality == "" {
			r.Cardinality = Mandatory
		}
		if r.Policy == "" {
			r.Policy = Static
		}
	}
}

// Validate checks the description on its own, without an implementation.
func (d *Description) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("missing name"))
	}
	if d.Implementation == "" {
		errs = append(errs, errors.New("missing implementation"))
	}
	switch d.ConfigurationPolicy {
	case "", ConfigurationOptional, ConfigurationRequire, ConfigurationIgnore:
	default:
		errs = append(errs, fmt.Errorf("unknown configuration policy %q", d.ConfigurationPolicy))
	}
	if d.Factory && d.ConfigurationPolicy != ConfigurationRequire {
		errs = append(errs, errors.New("factory components require configuration policy \"require\""))
	}
	seen := make(map[string]bool)
	for _, r := range d.References {
		if r.Name == "" || r.Interface == "" {
			errs = append(errs, fmt.Errorf("reference %q: name and interface are required", r.Name))
			continue
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("duplicate reference %q", r.Name))
		}
		seen[r.Name] = true
		switch r.Cardinality {
		case "", Optional, Mandatory, OptionalMultiple, MandatoryMultiple:
		default:
			errs = append(errs, fmt.Errorf("reference %q: unknown cardinality %q", r.Name, r.Cardinality))
		}
		switch r.Policy {
		case "", Static, Dynamic:
		default:
			errs = append(errs, fmt.Errorf("reference %q: unknown policy %q", r.Name, r.Policy))
		}
		if _, err := filter.Compile(r.Target); err != nil {
			errs = append(errs, fmt.Errorf("reference %q: %w", r.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidDescription, d.Name, err)
	}
	return nil
}

// FromManifest converts a component declared in a module descriptor.
func FromManifest(c manifest.Component) *Description {
	d := &Description{
		Name:                c.Name,
		Implementation:      c.Implementation,
		Activate:            c.Activate,
		Deactivate:          c.Deactivate,
		Modified:            c.Modified,
		ConfigurationPolicy: ConfigurationPolicy(c.ConfigurationPolicy),
		ConfigurationPID:    c.ConfigurationPID,
		Factory:             c.Factory,
		Services:            slices.Clone(c.Services),
		Properties:          maps.Clone(c.Properties),
		Enabled:             c.Enabled == nil || *c.Enabled,
	}
	for _, r := range c.References {
		d.References = append(d.References, ReferenceDescription{
			Name:        r.Name,
			Interface:   r.Interface,
			Cardinality: Cardinality(r.Cardinality),
			Policy:      ReferencePolicy(r.Policy),
			Target:      r.Target,
			Bind:        r.Bind,
			Unbind:      r.Unbind,
			Updated:     r.Updated,
		})
	}
	d.applyDefaults()
	return d
}

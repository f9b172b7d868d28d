// Package manifest reads module descriptors.
//
// A module archive carries its descriptor at MODULE-INF/module.yaml (or
// module.yml, module.toml, module.json):
//
//	name: com.acme.greeter
//	version: 1.2.0
//	activator: greeter
//	exports:
//	  - package: com.acme.greeter.api
//	    version: 1.2.0
//	imports:
//	  - package: com.acme.log
//	    version: "[1.0,2.0)"
//	activation:
//	  policy: lazy
//	  include: [com.acme.greeter.api]
//	components:
//	  - name: greeter
//	    implementation: greeter.impl
//	    services: [com.acme.greeter.api.Greeter]
package manifest

import (
	"github.com/GoCodeAlone/modhost/archive"
	"github.com/GoCodeAlone/modhost/version"
)

// Dir is the archive directory holding the descriptor.
const Dir = "MODULE-INF"

// Manifest is the declared shape of a module.
type Manifest struct {
	Name           string          `yaml:"name" toml:"name" json:"name"`
	Version        version.Version `yaml:"version" toml:"version" json:"version"`
	Activator      string          `yaml:"activator,omitempty" toml:"activator,omitempty" json:"activator,omitempty"`
	FragmentHost   *HostRef        `yaml:"fragmentHost,omitempty" toml:"fragmentHost,omitempty" json:"fragmentHost,omitempty"`
	Exports        []Export        `yaml:"exports,omitempty" toml:"exports,omitempty" json:"exports,omitempty"`
	Imports        []Import        `yaml:"imports,omitempty" toml:"imports,omitempty" json:"imports,omitempty"`
	DynamicImports []DynamicImport `yaml:"dynamicImports,omitempty" toml:"dynamicImports,omitempty" json:"dynamicImports,omitempty"`
	Requires       []Require       `yaml:"requires,omitempty" toml:"requires,omitempty" json:"requires,omitempty"`
	Activation     Activation      `yaml:"activation,omitempty" toml:"activation,omitempty" json:"activation,omitempty"`
	Components     []Component     `yaml:"components,omitempty" toml:"components,omitempty" json:"components,omitempty"`
}

// HostRef names the host of a fragment.
type HostRef struct {
	Name    string        `yaml:"name" toml:"name" json:"name"`
	Version version.Range `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`
}

// Export is a package offered to other modules.
type Export struct {
	Package    string            `yaml:"package" toml:"package" json:"package"`
	Version    version.Version   `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty" toml:"attributes,omitempty" json:"attributes,omitempty"`
	// ConsumerFilter restricts which modules may wire to the export. It sees
	// requester.name, requester.version and requester.id.
	ConsumerFilter string `yaml:"consumerFilter,omitempty" toml:"consumerFilter,omitempty" json:"consumerFilter,omitempty"`
}

// Resolution is the optionality of an import.
type Resolution string

const (
	ResolutionMandatory Resolution = "mandatory"
	ResolutionOptional  Resolution = "optional"
)

// Import is a package the module needs from someone else.
type Import struct {
	Package    string        `yaml:"package" toml:"package" json:"package"`
	Version    version.Range `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`
	Resolution Resolution    `yaml:"resolution,omitempty" toml:"resolution,omitempty" json:"resolution,omitempty"`
}

// Optional reports whether the import may stay unwired.
func (i Import) Optional() bool { return i.Resolution == ResolutionOptional }

// DynamicImport is a package pattern wired lazily on first use.
type DynamicImport struct {
	Package string        `yaml:"package" toml:"package" json:"package"`
	Version version.Range `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`
}

// Require pulls in every package exported by another module.
type Require struct {
	Module   string        `yaml:"module" toml:"module" json:"module"`
	Version  version.Range `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`
	Reexport bool          `yaml:"reexport,omitempty" toml:"reexport,omitempty" json:"reexport,omitempty"`
	Optional bool          `yaml:"optional,omitempty" toml:"optional,omitempty" json:"optional,omitempty"`
}

// ActivationPolicy controls when a started module runs its activator.
type ActivationPolicy string

const (
	ActivationEager ActivationPolicy = "eager"
	ActivationLazy  ActivationPolicy = "lazy"
)

// Activation lists the packages or unit names whose loading activates the
// owning module. Entries accept the patterns of archive.MatchPackage.
type Activation struct {
	Policy  ActivationPolicy `yaml:"policy,omitempty" toml:"policy,omitempty" json:"policy,omitempty"`
	Include []string         `yaml:"include,omitempty" toml:"include,omitempty" json:"include,omitempty"`
	Exclude []string         `yaml:"exclude,omitempty" toml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Lazy reports whether the module defers activation.
func (a Activation) Lazy() bool { return a.Policy == ActivationLazy }

// Triggers reports whether loading the unit qualifiedName from this module
// crosses its activation boundary. A lazy policy without includes triggers on
// any unit.
func (a Activation) Triggers(qualifiedName string) bool {
	if a.excluded(qualifiedName) {
		return false
	}
	if len(a.Include) == 0 {
		return a.Lazy()
	}
	return a.Lists(qualifiedName)
}

// Lists reports whether qualifiedName, or its package, is explicitly included
// and not excluded.
func (a Activation) Lists(qualifiedName string) bool {
	if a.excluded(qualifiedName) {
		return false
	}
	pkg := archive.PackageOf(qualifiedName)
	for _, in := range a.Include {
		if in == qualifiedName || archive.MatchPackage(in, pkg) {
			return true
		}
	}
	return false
}

func (a Activation) excluded(qualifiedName string) bool {
	pkg := archive.PackageOf(qualifiedName)
	for _, ex := range a.Exclude {
		if ex == qualifiedName || archive.MatchPackage(ex, pkg) {
			return true
		}
	}
	return false
}

// Component is a declarative component description.
type Component struct {
	Name                string         `yaml:"name" toml:"name" json:"name"`
	Implementation      string         `yaml:"implementation" toml:"implementation" json:"implementation"`
	Activate            string         `yaml:"activate,omitempty" toml:"activate,omitempty" json:"activate,omitempty"`
	Deactivate          string         `yaml:"deactivate,omitempty" toml:"deactivate,omitempty" json:"deactivate,omitempty"`
	Modified            string         `yaml:"modified,omitempty" toml:"modified,omitempty" json:"modified,omitempty"`
	ConfigurationPolicy string         `yaml:"configurationPolicy,omitempty" toml:"configurationPolicy,omitempty" json:"configurationPolicy,omitempty"`
	ConfigurationPID    string         `yaml:"configurationPid,omitempty" toml:"configurationPid,omitempty" json:"configurationPid,omitempty"`
	Factory             bool           `yaml:"factory,omitempty" toml:"factory,omitempty" json:"factory,omitempty"`
	Services            []string       `yaml:"services,omitempty" toml:"services,omitempty" json:"services,omitempty"`
	Properties          map[string]any `yaml:"properties,omitempty" toml:"properties,omitempty" json:"properties,omitempty"`
	Enabled             *bool          `yaml:"enabled,omitempty" toml:"enabled,omitempty" json:"enabled,omitempty"`
	References          []Reference    `yaml:"references,omitempty" toml:"references,omitempty" json:"references,omitempty"`
}

// Reference is a declared service dependency of a component.
type Reference struct {
	Name        string `yaml:"name" toml:"name" json:"name"`
	Interface   string `yaml:"interface" toml:"interface" json:"interface"`
	Cardinality string `yaml:"cardinality,omitempty" toml:"cardinality,omitempty" json:"cardinality,omitempty"`
	Policy      string `yaml:"policy,omitempty" toml:"policy,omitempty" json:"policy,omitempty"`
	Target      string `yaml:"target,omitempty" toml:"target,omitempty" json:"target,omitempty"`
	Bind        string `yaml:"bind,omitempty" toml:"bind,omitempty" json:"bind,omitempty"`
	Unbind      string `yaml:"unbind,omitempty" toml:"unbind,omitempty" json:"unbind,omitempty"`
	Updated     string `yaml:"updated,omitempty" toml:"updated,omitempty" json:"updated,omitempty"`
}

// IsFragment reports whether the module attaches to a host.
func (m *Manifest) IsFragment() bool { return m.FragmentHost != nil }

// ExportOf returns the export for pkg, if declared.
func (m *Manifest) ExportOf(pkg string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Package == pkg {
			return e, true
		}
	}
	return Export{}, false
}

// ImportOf returns the static import for pkg, if declared.
func (m *Manifest) ImportOf(pkg string) (Import, bool) {
	for _, i := range m.Imports {
		if i.Package == pkg {
			return i, true
		}
	}
	return Import{}, false
}

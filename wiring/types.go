// Package wiring maintains the graph of module revisions and the wires that
// connect package requirements to the capabilities satisfying them.
//
// Revisions live in an arena keyed by RevisionID. Wires and attachments
// reference revisions by id only, so cyclic module dependencies never form
// ownership cycles.
package wiring

import (
	"fmt"
	"strings"

	"github.com/GoCodeAlone/modhost/filter"
	"github.com/GoCodeAlone/modhost/manifest"
	"github.com/GoCodeAlone/modhost/version"
)

// RevisionID identifies one generation of a module. Ids ascend in
// registration order.
type RevisionID int64

// Resolution is the optionality of a package requirement.
type Resolution int

const (
	Mandatory Resolution = iota
	Optional
	Dynamic
)

func (r Resolution) String() string {
	switch r {
	case Mandatory:
		return "mandatory"
	case Optional:
		return "optional"
	case Dynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// Revision describes one generation of a module.
type Revision struct {
	ID       RevisionID
	Module   int64
	Name     string
	Version  version.Version
	Manifest *manifest.Manifest
}

// IsFragment reports whether the revision attaches to a host.
func (r Revision) IsFragment() bool { return r.Manifest.IsFragment() }

func (r Revision) String() string {
	return fmt.Sprintf("%s@%s#%d", r.Name, r.Version, r.ID)
}

// Capability is an exported package.
type Capability struct {
	Package  string
	Version  version.Version
	Provider RevisionID
	// Module is the module owning Provider; equal versions prefer the
	// lowest, first installed, module.
	Module     int64
	Attributes map[string]string
	// Declarer is the revision whose descriptor declared the export. It
	// differs from Provider for exports contributed by fragments.
	Declarer RevisionID
	filter   *filter.Filter
}

// ConsumerFilter returns the expression restricting who may wire to c.
func (c Capability) ConsumerFilter() string { return c.filter.String() }

func (c Capability) admits(requester Revision) bool {
	return c.filter.Match(map[string]any{
		"requester.name":    requester.Name,
		"requester.version": requester.Version.String(),
		"requester.id":      int64(requester.ID),
	})
}

func (c Capability) String() string {
	return fmt.Sprintf("%s;version=%s from #%d", c.Package, c.Version, c.Provider)
}

// Requirement is an imported package, or a dynamic import pattern.
type Requirement struct {
	Package    string
	Range      version.Range
	Resolution Resolution
}

func (r Requirement) matches(c Capability) bool {
	return c.Package == r.Package && r.Range.Includes(c.Version)
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s;version=%q;resolution=%s", r.Package, r.Range, r.Resolution)
}

// ModuleRequirement asks for the whole export set of another module.
type ModuleRequirement struct {
	Name     string
	Range    version.Range
	Reexport bool
	Optional bool
}

func (r ModuleRequirement) String() string {
	return fmt.Sprintf("module %s;version=%q", r.Name, r.Range)
}

// Wire binds a requirement of Requirer to a capability.
type Wire struct {
	Requirer    RevisionID
	Requirement Requirement
	Capability  Capability
}

// Provider is the revision serving the wired package.
func (w Wire) Provider() RevisionID { return w.Capability.Provider }

// SelfWire reports whether the requirer satisfies its own import.
func (w Wire) SelfWire() bool { return w.Requirer == w.Capability.Provider }

func (w Wire) String() string {
	return fmt.Sprintf("#%d %s -> %s", w.Requirer, w.Requirement.Package, w.Capability)
}

// ModuleWire binds a module requirement to a provider revision.
type ModuleWire struct {
	Requirer    RevisionID
	Requirement ModuleRequirement
	Provider    RevisionID
}

// ResolutionError reports why a revision could not be resolved.
type ResolutionError struct {
	Revision     Revision
	Requirements []Requirement
	Modules      []ModuleRequirement
	Reason       string
}

func (e *ResolutionError) Error() string {
	var parts []string
	for _, r := range e.Requirements {
		parts = append(parts, r.String())
	}
	for _, r := range e.Modules {
		parts = append(parts, r.String())
	}
	msg := fmt.Sprintf("%s: cannot resolve %s", ErrUnresolved, e.Revision)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if len(parts) > 0 {
		msg += ": missing " + strings.Join(parts, ", ")
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return ErrUnresolved }

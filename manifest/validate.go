package manifest

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
)

var (
	packagePattern        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	dynamicPackagePattern = regexp.MustCompile(`^(\*|[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*(\.\*)?)$`)

	cardinalities         = []string{"", "0..1", "1..1", "0..n", "1..n"}
	referencePolicies     = []string{"", "static", "dynamic"}
	configurationPolicies = []string{"", "optional", "require", "ignore"}
)

// Validate checks the descriptor for structural errors. All problems are
// reported together.
func (m *Manifest) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, ErrMissingName)
	}

	exported := make(map[string]Export, len(m.Exports))
	for _, e := range m.Exports {
		if !packagePattern.MatchString(e.Package) {
			errs = append(errs, fmt.Errorf("%w: export %q", ErrInvalidPackageName, e.Package))
		}
		if _, dup := exported[e.Package]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateExport, e.Package))
		}
		exported[e.Package] = e
	}

	imported := make(map[string]bool, len(m.Imports))
	for _, i := range m.Imports {
		if !packagePattern.MatchString(i.Package) {
			errs = append(errs, fmt.Errorf("%w: import %q", ErrInvalidPackageName, i.Package))
		}
		if imported[i.Package] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateImport, i.Package))
		}
		imported[i.Package] = true
		if i.Resolution != "" && i.Resolution != ResolutionMandatory && i.Resolution != ResolutionOptional {
			errs = append(errs, fmt.Errorf("%w: %s: %q", ErrInvalidResolution, i.Package, i.Resolution))
		}
		if e, ok := exported[i.Package]; ok && !i.Version.Includes(e.Version) {
			errs = append(errs, fmt.Errorf("%w: %s exported at %s but imported as %s",
				ErrConflictingExport, i.Package, e.Version, i.Version))
		}
	}

	for _, d := range m.DynamicImports {
		if !dynamicPackagePattern.MatchString(d.Package) {
			errs = append(errs, fmt.Errorf("%w: dynamic import %q", ErrInvalidPackageName, d.Package))
		}
	}

	switch m.Activation.Policy {
	case "", ActivationEager, ActivationLazy:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidActivation, m.Activation.Policy))
	}

	if m.IsFragment() && (m.Activator != "" || len(m.Components) > 0) {
		errs = append(errs, ErrFragmentDeclares)
	}

	names := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if err := c.validate(); err != nil {
			errs = append(errs, err)
		}
		if names[c.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate component %q", ErrInvalidComponent, c.Name))
		}
		names[c.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("module %q: %w", m.Name, errors.Join(errs...))
	}
	return nil
}

func (c Component) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidComponent)
	case c.Implementation == "":
		return fmt.Errorf("%w: %s: missing implementation", ErrInvalidComponent, c.Name)
	case !slices.Contains(configurationPolicies, c.ConfigurationPolicy):
		return fmt.Errorf("%w: %s: configuration policy %q", ErrInvalidComponent, c.Name, c.ConfigurationPolicy)
	case c.Factory && c.ConfigurationPolicy != "require":
		return fmt.Errorf("%w: %s: factory components require configuration", ErrInvalidComponent, c.Name)
	}
	refs := make(map[string]bool, len(c.References))
	for _, r := range c.References {
		switch {
		case r.Name == "" || r.Interface == "":
			return fmt.Errorf("%w: %s: reference needs name and interface", ErrInvalidComponent, c.Name)
		case refs[r.Name]:
			return fmt.Errorf("%w: %s: duplicate reference %q", ErrInvalidComponent, c.Name, r.Name)
		case !slices.Contains(cardinalities, r.Cardinality):
			return fmt.Errorf("%w: %s: reference %s: cardinality %q", ErrInvalidComponent, c.Name, r.Name, r.Cardinality)
		case !slices.Contains(referencePolicies, r.Policy):
			return fmt.Errorf("%w: %s: reference %s: policy %q", ErrInvalidComponent, c.Name, r.Name, r.Policy)
		}
		refs[r.Name] = true
	}
	return nil
}

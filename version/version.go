// Package version implements module and package versions and version ranges.
//
// Version format: MAJOR[.MINOR[.MICRO[.QUALIFIER]]]
//   - MAJOR, MINOR and MICRO are non-negative integers; missing parts are 0
//   - QUALIFIER is alphanumeric plus '-' and '_' and compares lexicographically
//
// A version without a qualifier sorts before the same version with one.
package version

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var qualifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Version is a comparable semantic version with an optional qualifier.
// The zero value is 0.0.0.
type Version struct {
	Major     int
	Minor     int
	Micro     int
	Qualifier string
}

// Empty is the 0.0.0 version used when a declaration omits its version.
var Empty = Version{}

// Parse parses a version string. An empty string yields Empty. The numeric
// core is parsed by semver, which fills missing parts with 0; semver
// pre-release and build suffixes are not part of the format.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Empty, nil
	}

	core, qualifier := s, ""
	if parts := strings.SplitN(s, ".", 4); len(parts) == 4 {
		core, qualifier = strings.Join(parts[:3], "."), parts[3]
		if !qualifierPattern.MatchString(qualifier) {
			return Empty, fmt.Errorf("%w: %q: bad qualifier %q", ErrInvalidVersion, s, qualifier)
		}
	}
	if strings.HasPrefix(core, "v") || strings.ContainsAny(core, "-+") {
		return Empty, fmt.Errorf("%w: %q: core must be MAJOR[.MINOR[.MICRO]]", ErrInvalidVersion, s)
	}
	sv, err := semver.NewVersion(core)
	if err != nil {
		return Empty, fmt.Errorf("%w: %q: %w", ErrInvalidVersion, s, err)
	}
	return Version{
		Major:     int(sv.Major()),
		Minor:     int(sv.Minor()),
		Micro:     int(sv.Patch()),
		Qualifier: qualifier,
	}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) core() *semver.Version {
	return semver.New(uint64(v.Major), uint64(v.Minor), uint64(v.Micro), "", "")
}

// Compare returns -1, 0 or 1. Cores compare numerically, then qualifiers
// lexicographically.
func (v Version) Compare(o Version) int {
	if c := v.core().Compare(o.core()); c != 0 {
		return c
	}
	return strings.Compare(v.Qualifier, o.Qualifier)
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o are the same version.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
	if v.Qualifier != "" {
		s += "." + v.Qualifier
	}
	return s
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

package version

import (
	"fmt"
	"strings"
)

// Range is an interval of versions. The zero value matches every version.
//
// Accepted notations:
//
//	[1.0,2.0)   1.0 <= v < 2.0
//	(1.0,2.0]   1.0 <  v <= 2.0
//	1.0         1.0 <= v
//	""          any version
type Range struct {
	Left      Version
	LeftOpen  bool
	Right     *Version // nil means unbounded
	RightOpen bool
}

// Any matches every version.
var Any = Range{}

// AtLeast returns the range [v, ∞).
func AtLeast(v Version) Range {
	return Range{Left: v}
}

// Between returns the range [left, right).
func Between(left, right Version) Range {
	return Range{Left: left, Right: &right, RightOpen: true}
}

// ParseRange parses range notation. An empty string yields Any.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Any, nil
	}

	first, last := s[0], s[len(s)-1]
	if first != '[' && first != '(' {
		v, err := Parse(s)
		if err != nil {
			return Any, fmt.Errorf("%w: %q: %w", ErrInvalidRange, s, err)
		}
		return AtLeast(v), nil
	}
	if last != ']' && last != ')' {
		return Any, fmt.Errorf("%w: %q: missing closing bracket", ErrInvalidRange, s)
	}

	bounds := strings.Split(s[1:len(s)-1], ",")
	if len(bounds) != 2 {
		return Any, fmt.Errorf("%w: %q: expected two bounds", ErrInvalidRange, s)
	}
	left, err := Parse(bounds[0])
	if err != nil {
		return Any, fmt.Errorf("%w: %q: %w", ErrInvalidRange, s, err)
	}
	r := Range{Left: left, LeftOpen: first == '('}
	if strings.TrimSpace(bounds[1]) != "" {
		right, err := Parse(bounds[1])
		if err != nil {
			return Any, fmt.Errorf("%w: %q: %w", ErrInvalidRange, s, err)
		}
		r.Right, r.RightOpen = &right, last == ')'
	}
	if r.IsEmpty() {
		return Any, fmt.Errorf("%w: %q: empty interval", ErrInvalidRange, s)
	}
	return r, nil
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(s string) Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Includes reports whether v lies inside the range.
func (r Range) Includes(v Version) bool {
	c := v.Compare(r.Left)
	if c < 0 || (c == 0 && r.LeftOpen) {
		return false
	}
	if r.Right == nil {
		return true
	}
	c = v.Compare(*r.Right)
	return c < 0 || (c == 0 && !r.RightOpen)
}

// IsEmpty reports whether no version can satisfy the range.
func (r Range) IsEmpty() bool {
	if r.Right == nil {
		return false
	}
	c := r.Left.Compare(*r.Right)
	if c > 0 {
		return true
	}
	return c == 0 && (r.LeftOpen || r.RightOpen)
}

func (r Range) String() string {
	if r.Right == nil {
		if !r.LeftOpen {
			return r.Left.String()
		}
		return "(" + r.Left.String() + ",)"
	}
	open, closing := "[", "]"
	if r.LeftOpen {
		open = "("
	}
	if r.RightOpen {
		closing = ")"
	}
	return open + r.Left.String() + "," + r.Right.String() + closing
}

// MarshalText implements encoding.TextMarshaler.
func (r Range) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Range) UnmarshalText(b []byte) error {
	parsed, err := ParseRange(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

package cm

import (
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/golobby/cast"
)

// Dictionary is the property set of a configuration. Values decoded from
// files keep their decoded type; the typed accessors coerce strings and
// numeric variants.
type Dictionary map[string]any

// Clone returns a shallow copy; a nil Dictionary clones to an empty one.
func (d Dictionary) Clone() Dictionary {
	out := maps.Clone(d)
	if out == nil {
		out = Dictionary{}
	}
	return out
}

// String returns the value of key as a string.
func (d Dictionary) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Int returns the value of key as an int.
func (d Dictionary) Int(key string) (int, bool) {
	switch v := d[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	case string:
		n, err := cast.FromType(v, reflect.TypeFor[int]())
		if err == nil {
			return n.(int), true
		}
	}
	return 0, false
}

// Bool returns the value of key as a bool.
func (d Dictionary) Bool(key string) (bool, bool) {
	switch v := d[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := cast.FromType(v, reflect.TypeFor[bool]())
		if err == nil {
			return b.(bool), true
		}
	}
	return false, false
}

// Duration returns the value of key as a duration. Strings use
// time.ParseDuration notation; integers are milliseconds.
func (d Dictionary) Duration(key string) (time.Duration, bool) {
	if s, ok := d[key].(string); ok {
		dur, err := time.ParseDuration(s)
		return dur, err == nil
	}
	if n, ok := d.Int(key); ok {
		return time.Duration(n) * time.Millisecond, true
	}
	return 0, false
}

// Strings returns the value of key as a string slice. A single string is a
// one-element slice.
func (d Dictionary) Strings(key string) ([]string, bool) {
	switch v := d[key].(type) {
	case []string:
		return v, true
	case string:
		return []string{v}, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out, true
	}
	return nil, false
}

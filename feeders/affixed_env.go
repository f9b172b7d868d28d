package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// AffixedEnvFeeder reads fields tagged `env:"NAME"` from variables named
// PREFIX_NAME_SUFFIX. A field tagged `env:"MAX_WORKERS"` with prefix
// "MODHOST" reads MODHOST_MAX_WORKERS. Nested structs share the affixes.
type AffixedEnvFeeder struct {
	Prefix string
	Suffix string
}

// NewAffixedEnvFeeder creates an AffixedEnvFeeder. At least one affix must
// be set when feeding.
func NewAffixedEnvFeeder(prefix, suffix string) AffixedEnvFeeder {
	return AffixedEnvFeeder{Prefix: prefix, Suffix: suffix}
}

// Feed implements config.Feeder. Unset and empty variables leave the field
// as it is.
func (f AffixedEnvFeeder) Feed(structure any) error {
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	if f.Prefix == "" && f.Suffix == "" {
		return ErrEnvEmptyPrefixAndSuffix
	}
	return walkEnvFields(rv.Elem(), "", func(path, tag string, field reflect.Value) error {
		name := f.variable(tag)
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			return nil
		}
		if err := decodeInto(field, raw); err != nil {
			return fmt.Errorf("%s from %s: %w", path, name, err)
		}
		return nil
	})
}

func (f AffixedEnvFeeder) variable(tag string) string {
	parts := make([]string, 0, 3)
	if f.Prefix != "" {
		parts = append(parts, strings.ToUpper(f.Prefix))
	}
	parts = append(parts, strings.ToUpper(tag))
	if f.Suffix != "" {
		parts = append(parts, strings.ToUpper(f.Suffix))
	}
	return strings.Join(parts, "_")
}

// walkEnvFields calls fn for every env-tagged field of rv, descending into
// nested structs and non-nil struct pointers. path is the dotted Go field
// path used in errors.
func walkEnvFields(rv reflect.Value, path string, fn func(path, tag string, field reflect.Value) error) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		sf := rt.Field(i)
		field := rv.Field(i)
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Pointer && !field.IsNil() && field.Elem().Kind() == reflect.Struct {
			field = field.Elem()
		}
		if field.Kind() == reflect.Struct && field.Type() != timeType {
			if err := walkEnvFields(field, fieldPath, fn); err != nil {
				return err
			}
			continue
		}

		tag, ok := sf.Tag.Lookup("env")
		if !ok {
			continue
		}
		if !field.CanSet() {
			return fmt.Errorf("%s: %w", fieldPath, ErrFieldCannotBeSet)
		}
		if err := fn(fieldPath, tag, field); err != nil {
			return err
		}
	}
	return nil
}

var (
	durationType = reflect.TypeFor[time.Duration]()
	timeType     = reflect.TypeFor[time.Time]()
)

// decodeInto converts raw to the field's type. Durations use Go duration
// syntax and string slices are comma separated; everything else goes
// through cast.
func decodeInto(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items).Convert(field.Type()))
	default:
		v, err := cast.FromType(raw, field.Type())
		if err != nil {
			return fmt.Errorf("convert to %v: %w", field.Type(), err)
		}
		field.Set(reflect.ValueOf(v).Convert(field.Type()))
	}
	return nil
}

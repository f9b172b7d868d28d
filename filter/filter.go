// Package filter evaluates CEL boolean expressions against property maps.
//
// Expressions see a single variable, props, of type map(string, dyn):
//
//	props["service.ranking"] > 10 && props["region"] == "eu"
//	"com.acme.Greeter" in props["objectClass"]
//	has(props.vendor)
//
// Filters are used for reference targets, service lookups and capability
// consumer filters.
package filter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	ErrCompile    = errors.New("filter does not compile")
	ErrNotBoolean = errors.New("filter does not evaluate to a boolean")
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func baseEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("props", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return env, envErr
}

// Filter is a compiled expression. A nil *Filter matches everything.
type Filter struct {
	expr string
	prg  cel.Program
}

// Compile compiles expr. An empty expression returns a nil filter.
func Compile(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	e, err := baseEnv()
	if err != nil {
		return nil, fmt.Errorf("building CEL env: %w", err)
	}
	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrCompile, expr, issues.Err())
	}
	if out := ast.OutputType(); out != nil && !out.IsAssignableType(cel.BoolType) && !out.IsAssignableType(cel.DynType) {
		return nil, fmt.Errorf("%w: %q yields %s", ErrNotBoolean, expr, out)
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrCompile, expr, err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Filter {
	f, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// Match evaluates the filter. Evaluation errors, such as a missing key, count
// as no match.
func (f *Filter) Match(props map[string]any) bool {
	if f == nil {
		return true
	}
	if props == nil {
		props = map[string]any{}
	}
	out, _, err := f.prg.Eval(map[string]any{"props": props})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

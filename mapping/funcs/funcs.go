// Package funcs is the transformation library used by field definitions.
//
// Every function receives the current value followed by the positional and
// keyword arguments stored in the step. Names follow the vocabulary already
// used by stored mappings, so they are snake case.
package funcs

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

var ErrUnknownFunc = errors.New("unknown transformation function")

// Func transforms value using the step arguments.
type Func func(value any, args []any, kwargs map[string]any) (any, error)

type Library struct {
	funcs map[string]Func
	now   func() time.Time
}

type Opt func(*Library)

func WithNow(now func() time.Time) Opt {
	return func(l *Library) {
		l.now = now
	}
}

// New returns the library with every built-in function registered.
func New(opts ...Opt) *Library {
	l := &Library{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	l.funcs = map[string]Func{
		"set_value":          setValue,
		"rget":               rget,
		"filter_json":        filterJSON,
		"get_from_dict":      getFromDict,
		"get_from_list":      getFromList,
		"split":              split,
		"get_gender_acronym": genderAcronym,
		"time_format":        timeFormat,
		"to_datetime":        toDatetime,
		"replace":            replace,
		"extract":            extract,
		"to_ascii":           toASCII,
		"str_method":         strMethod,
		"str_attr":           strAttr,
		"date_to_ActiveDays": l.activeDays,
		"upper":              shorthand("upper"),
		"lower":              shorthand("lower"),
		"strip":              shorthand("strip"),
		"flatten":            flattenMap,
		"to_string":          toString,
		"to_int":             toInt,
	}
	return l
}

// Lookup returns the function registered under name.
func (l *Library) Lookup(name string) (Func, error) {
	fn, ok := l.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownFunc)
	}
	return fn, nil
}

// Names returns the registered function names in lexical order.
func (l *Library) Names() []string {
	names := lo.Keys(l.funcs)
	sort.Strings(names)
	return names
}

// arguments resolves python style parameters: a parameter may be given by
// position or by name.
type arguments struct {
	fn     string
	args   []any
	kwargs map[string]any
}

func newArguments(fn string, args []any, kwargs map[string]any) arguments {
	return arguments{fn: fn, args: args, kwargs: kwargs}
}

func (a arguments) get(pos int, name string) (any, bool) {
	if pos < len(a.args) {
		return a.args[pos], true
	}
	v, ok := a.kwargs[name]
	return v, ok
}

func (a arguments) required(pos int, name string) (any, error) {
	v, ok := a.get(pos, name)
	if !ok {
		return nil, fmt.Errorf("%s: missing argument %q", a.fn, name)
	}
	return v, nil
}

func (a arguments) string(pos int, name, def string) (string, error) {
	v, ok := a.get(pos, name)
	if !ok || v == nil {
		return def, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%s: argument %q: %w", a.fn, name, err)
	}
	return s, nil
}

func (a arguments) requiredString(pos int, name string) (string, error) {
	v, err := a.required(pos, name)
	if err != nil {
		return "", err
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%s: argument %q: %w", a.fn, name, err)
	}
	return s, nil
}

func (a arguments) bool(pos int, name string, def bool) (bool, error) {
	v, ok := a.get(pos, name)
	if !ok || v == nil {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, fmt.Errorf("%s: argument %q: %w", a.fn, name, err)
	}
	return b, nil
}

// optionalInt returns nil when the argument is absent or None.
func (a arguments) optionalInt(pos int, name string) (*int, error) {
	v, ok := a.get(pos, name)
	if !ok || v == nil {
		return nil, nil
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return nil, fmt.Errorf("%s: argument %q: %w", a.fn, name, err)
	}
	return &i, nil
}

func asString(fn string, value any) (string, error) {
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", fmt.Errorf("%s: expected a string, got %T", fn, value)
	}
	return s, nil
}

func setValue(_ any, args []any, kwargs map[string]any) (any, error) {
	return newArguments("set_value", args, kwargs).required(0, "value")
}

func toString(value any, _ []any, _ map[string]any) (any, error) {
	return asString("to_string", value)
}

func toInt(value any, _ []any, _ map[string]any) (any, error) {
	i, err := cast.ToIntE(value)
	if err != nil {
		return nil, fmt.Errorf("to_int: %w", err)
	}
	return i, nil
}

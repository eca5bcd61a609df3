// Package mapping applies declarative field definitions to records.
package mapping

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spec-sa/netsync/mapping/funcs"
)

// Step is one transformation applied to a field value.
type Step struct {
	Method string
	Args   []any
	Kwargs map[string]any
}

// FieldDefinition maps InName of an input record to OutName of the output
// record through Steps. A truthy Default is emitted when the result is falsy.
type FieldDefinition struct {
	OutName string
	InName  string
	Steps   []Step
	Default any
}

// Library resolves step methods.
type Library interface {
	Lookup(name string) (funcs.Func, error)
}

// Apply returns one new record per input record holding only the mapped
// fields that produced a value. Record order is kept.
func Apply(records []map[string]any, defs []FieldDefinition, lib Library) ([]map[string]any, error) {
	if err := Validate(defs, lib); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(records))
	for i, record := range records {
		mapped := make(map[string]any, len(defs))
		for _, def := range defs {
			value, err := def.apply(record, lib)
			if err != nil {
				return nil, fmt.Errorf("record %d: field %q: %w", i, def.OutName, err)
			}
			if IsTruthy(value) {
				mapped[def.OutName] = value
			} else if IsTruthy(def.Default) {
				mapped[def.OutName] = def.Default
			}
		}
		out = append(out, mapped)
	}
	return out, nil
}

// Validate checks that every step method is known to the library.
func Validate(defs []FieldDefinition, lib Library) error {
	var errs []error
	for _, def := range defs {
		for _, step := range def.Steps {
			if _, err := lib.Lookup(step.Method); err != nil {
				errs = append(errs, fmt.Errorf("field %q: %w", def.OutName, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (def FieldDefinition) apply(record map[string]any, lib Library) (any, error) {
	value := record[def.InName]
	for _, step := range def.Steps {
		if !IsTruthy(value) {
			break
		}
		fn, err := lib.Lookup(step.Method)
		if err != nil {
			return nil, err
		}
		value, err = fn(value, step.Args, step.Kwargs)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Method, err)
		}
	}
	return value, nil
}

// IsTruthy reports whether v counts as a value: nil, false, numeric zero,
// empty strings, lists and maps do not.
func IsTruthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}

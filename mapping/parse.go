package mapping

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

// ParseString decodes the compact form "out@in|method:param|method".
func ParseString(s string) (FieldDefinition, error) {
	out, def, ok := strings.Cut(s, "@")
	if !ok || out == "" {
		return FieldDefinition{}, fmt.Errorf("field definition %q: expected out@in", s)
	}

	parts := strings.Split(def, "|")
	fd := FieldDefinition{OutName: out, InName: parts[0]}
	for _, part := range parts[1:] {
		method, param, hasParam := strings.Cut(part, ":")
		if method == "" {
			return FieldDefinition{}, fmt.Errorf("field definition %q: empty step", s)
		}
		step := Step{Method: method}
		if hasParam {
			step.Args = []any{param}
		}
		fd.Steps = append(fd.Steps, step)
	}
	return fd, nil
}

type rawDefinition struct {
	OutName string `mapstructure:"out_name"`
	Destiny string `mapstructure:"destiny"`
	InName  string `mapstructure:"in_name"`
	Origin  string `mapstructure:"origin"`
	Steps   []any  `mapstructure:"steps"`
	Default any    `mapstructure:"default"`
}

type rawStep struct {
	Method string         `mapstructure:"method"`
	Args   []any          `mapstructure:"args"`
	Kwargs map[string]any `mapstructure:"kwargs"`
}

// ParseDefinitions decodes the fields parameter: a list whose items are
// either compact strings or objects with out_name (or destiny), in_name (or
// origin), steps and default. A step is an object with method, args and
// kwargs or a list whose first item is the method followed by its arguments.
func ParseDefinitions(raw any) ([]FieldDefinition, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("fields: expected a list, got %T", raw)
	}

	defs := make([]FieldDefinition, 0, len(items))
	for i, item := range items {
		def, err := parseDefinition(item)
		if err != nil {
			return nil, fmt.Errorf("fields[%d]: %w", i, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseDefinition(item any) (FieldDefinition, error) {
	if s, ok := item.(string); ok {
		return ParseString(s)
	}

	var raw rawDefinition
	if err := mapstructure.Decode(item, &raw); err != nil {
		return FieldDefinition{}, fmt.Errorf("decoding definition: %w", err)
	}

	def := FieldDefinition{
		OutName: firstNonEmpty(raw.OutName, raw.Destiny),
		InName:  firstNonEmpty(raw.InName, raw.Origin),
		Default: raw.Default,
	}
	if def.OutName == "" {
		def.OutName = def.InName
	}
	if def.OutName == "" {
		return FieldDefinition{}, fmt.Errorf("definition without field names")
	}

	for j, s := range raw.Steps {
		step, err := parseStep(s)
		if err != nil {
			return FieldDefinition{}, fmt.Errorf("steps[%d]: %w", j, err)
		}
		def.Steps = append(def.Steps, step)
	}
	return def, nil
}

func parseStep(s any) (Step, error) {
	switch v := s.(type) {
	case string:
		return Step{Method: v}, nil
	case []any:
		if len(v) == 0 {
			return Step{}, fmt.Errorf("empty step")
		}
		method, err := cast.ToStringE(v[0])
		if err != nil || method == "" {
			return Step{}, fmt.Errorf("step method must be a string")
		}
		return Step{Method: method, Args: v[1:]}, nil
	}

	var raw rawStep
	if err := mapstructure.Decode(s, &raw); err != nil {
		return Step{}, fmt.Errorf("decoding step: %w", err)
	}
	if raw.Method == "" {
		return Step{}, fmt.Errorf("step without method")
	}
	return Step(raw), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

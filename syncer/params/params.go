// Package params decodes the stored parameters of a sync into connector keyword arguments.
package params

import (
	"errors"
	"fmt"

	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/jsonrs"
)

var ErrInvalidLiteral = errors.New("invalid literal")

// Decode decodes the parameters used on one side of a sync. Later parameters
// with the same key override earlier ones.
func Decode(params []model.SyncParameter, useIn model.UseIn) (map[string]any, error) {
	out := make(map[string]any)
	for _, p := range params {
		if p.UseIn != useIn {
			continue
		}
		v, err := DecodeValue(p.Value, p.Type)
		if err != nil {
			return nil, fmt.Errorf("%s parameter %q: %w", useIn, p.Key, err)
		}
		out[p.Key] = v
	}
	return out, nil
}

// DecodeValue decodes a single stored value according to its type.
func DecodeValue(value string, typ model.ParamType) (any, error) {
	switch typ {
	case model.ParamTypeJSON:
		var v any
		if err := jsonrs.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
		return v, nil
	case model.ParamTypePython, "":
		return ParseLiteral(value)
	default:
		return nil, fmt.Errorf("unknown parameter type %q", typ)
	}
}

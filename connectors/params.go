package connectors

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"

	"github.com/spec-sa/netsync/mapping"
)

// TimeLayout is the compact timestamp accepted by the _from and _to parameters.
const TimeLayout = "20060102150405"

// DecodeParams decodes method keyword arguments into out, converting
// scalars when the configured type is looser than the field's.
func DecodeParams(kw Params, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("creating params decoder: %w", err)
	}
	if err := decoder.Decode(kw); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}

// TimeParam parses kw[key] with TimeLayout, returning def when absent.
func TimeParam(kw Params, key string, def time.Time) (time.Time, error) {
	raw, ok := kw[key]
	if !ok || raw == nil || raw == "" {
		return def, nil
	}
	s := fmt.Sprint(raw)
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("param %q: %q does not match %s", key, s, TimeLayout)
	}
	return t, nil
}

// SourceFields returns the input names of the fields parameter, the columns a
// getter needs to read.
func SourceFields(kw Params) ([]string, error) {
	raw, ok := kw["fields"]
	if !ok || raw == nil {
		return nil, nil
	}
	defs, err := mapping.ParseDefinitions(raw)
	if err != nil {
		return nil, fmt.Errorf("param fields: %w", err)
	}
	return lo.Uniq(lo.Compact(lo.Map(defs, func(def mapping.FieldDefinition, _ int) string {
		return def.InName
	}))), nil
}

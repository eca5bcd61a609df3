package funcs

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/jeremywohl/flatten"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/spec-sa/netsync/jsonrs"
)

// lookup resolves a gjson path against a decoded value.
func lookup(value any, path string) (any, bool, error) {
	raw, err := jsonrs.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("marshalling value: %w", err)
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false, nil
	}
	return resultValue(result), true, nil
}

// resultValue keeps integral numbers as int64 instead of gjson's float64.
func resultValue(result gjson.Result) any {
	if result.Type == gjson.Number && !strings.ContainsAny(result.Raw, ".eE") {
		return result.Int()
	}
	return result.Value()
}

func rget(value any, args []any, kwargs map[string]any) (any, error) {
	a := newArguments("rget", args, kwargs)
	path, err := a.requiredString(0, "key")
	if err != nil {
		return nil, err
	}
	def, _ := a.get(1, "default")

	v, ok, err := lookup(value, path)
	if err != nil {
		return nil, fmt.Errorf("rget: %w", err)
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

func getFromDict(value any, args []any, kwargs map[string]any) (any, error) {
	key, err := newArguments("get_from_dict", args, kwargs).requiredString(0, "key")
	if err != nil {
		return nil, err
	}
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, fmt.Errorf("get_from_dict: expected a map, got %T", value)
	}
	return m[key], nil
}

func asList(fn string, value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case nil:
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%s: expected a list, got %T", fn, value)
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, nil
}

// getFromList accepts __all__, __first__, __last__ or an index, negative
// indexes count from the end. Out of range yields nil.
func getFromList(value any, args []any, kwargs map[string]any) (any, error) {
	list, err := asList("get_from_list", value)
	if err != nil {
		return nil, err
	}
	element, ok := newArguments("get_from_list", args, kwargs).get(0, "element")
	if !ok {
		element = "__all__"
	}

	switch element {
	case "__all__":
		return list, nil
	case "__first__":
		if len(list) == 0 {
			return nil, nil
		}
		return list[0], nil
	case "__last__":
		if len(list) == 0 {
			return nil, nil
		}
		return list[len(list)-1], nil
	}

	if _, isString := element.(string); isString {
		return nil, nil
	}
	index, err := cast.ToIntE(element)
	if err != nil {
		return nil, nil
	}
	if index < 0 {
		index += len(list)
	}
	if index < 0 || index >= len(list) {
		return nil, nil
	}
	return list[index], nil
}

var comparisons = map[string]func(left, right any) bool{
	"eq": func(l, r any) bool { return equal(l, r) },
	"ne": func(l, r any) bool { return !equal(l, r) },
	"lt": func(l, r any) bool { c, ok := compare(l, r); return ok && c < 0 },
	"le": func(l, r any) bool { c, ok := compare(l, r); return ok && c <= 0 },
	"gt": func(l, r any) bool { c, ok := compare(l, r); return ok && c > 0 },
	"ge": func(l, r any) bool { c, ok := compare(l, r); return ok && c >= 0 },
	"contains": func(l, r any) bool {
		if s, ok := l.(string); ok {
			sub, err := cast.ToStringE(r)
			return err == nil && strings.Contains(s, sub)
		}
		list, err := asList("contains", l)
		if err != nil {
			return false
		}
		for _, item := range list {
			if equal(item, r) {
				return true
			}
		}
		return false
	},
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func equal(l, r any) bool {
	if isNumber(l) && isNumber(r) {
		return cast.ToFloat64(l) == cast.ToFloat64(r)
	}
	return reflect.DeepEqual(l, r)
}

func compare(l, r any) (int, bool) {
	if isNumber(l) && isNumber(r) {
		lf, rf := cast.ToFloat64(l), cast.ToFloat64(r)
		switch {
		case lf < rf:
			return -1, true
		case lf > rf:
			return 1, true
		}
		return 0, true
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		return strings.Compare(ls, rs), true
	}
	return 0, false
}

// filterJSON keeps the records whose attribute matches value under operation.
// negative inverts the match and exclude keeps the non matching records instead.
func filterJSON(value any, args []any, kwargs map[string]any) (any, error) {
	list, err := asList("filter_json", value)
	if err != nil {
		return nil, err
	}
	a := newArguments("filter_json", args, kwargs)
	attribute, err := a.requiredString(0, "attribute")
	if err != nil {
		return nil, err
	}
	expected, err := a.required(1, "value")
	if err != nil {
		return nil, err
	}
	operation, err := a.string(2, "operation", "eq")
	if err != nil {
		return nil, err
	}
	negative, err := a.bool(3, "negative", false)
	if err != nil {
		return nil, err
	}
	exclude, err := a.bool(4, "exclude", false)
	if err != nil {
		return nil, err
	}

	op, ok := comparisons[operation]
	if !ok {
		return nil, fmt.Errorf("filter_json: unknown operation %q", operation)
	}

	elements := make([]any, 0, len(list))
	for _, element := range list {
		actual, _, err := lookup(element, attribute)
		if err != nil {
			return nil, fmt.Errorf("filter_json: %w", err)
		}
		matched := op(actual, expected)
		if negative {
			matched = !matched
		}
		if matched != exclude {
			elements = append(elements, element)
		}
	}
	return elements, nil
}

// extract slices a string or a list like python's obj[start:end:step]. An
// end past the length is clamped.
func extract(value any, args []any, kwargs map[string]any) (any, error) {
	a := newArguments("extract", args, kwargs)
	end, err := a.optionalInt(0, "end")
	if err != nil {
		return nil, err
	}
	start, err := a.optionalInt(1, "start")
	if err != nil {
		return nil, err
	}
	step, err := a.optionalInt(2, "step")
	if err != nil {
		return nil, err
	}

	if s, ok := value.(string); ok {
		chars := []rune(s)
		indexes, err := sliceIndexes(len(chars), start, end, step)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		out := make([]rune, len(indexes))
		for i, idx := range indexes {
			out[i] = chars[idx]
		}
		return string(out), nil
	}

	list, err := asList("extract", value)
	if err != nil {
		return nil, err
	}
	indexes, err := sliceIndexes(len(list), start, end, step)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	out := make([]any, len(indexes))
	for i, idx := range indexes {
		out[i] = list[idx]
	}
	return out, nil
}

func sliceIndexes(length int, start, end, step *int) ([]int, error) {
	st := 1
	if step != nil {
		st = *step
	}
	if st == 0 {
		return nil, fmt.Errorf("slice step cannot be zero")
	}

	clamp := func(i *int, def, lower, upper int) int {
		if i == nil {
			return def
		}
		v := *i
		if v < 0 {
			v += length
			if v < lower {
				v = lower
			}
		} else if v > upper {
			v = upper
		}
		return v
	}

	var indexes []int
	if st > 0 {
		from, to := clamp(start, 0, 0, length), clamp(end, length, 0, length)
		for i := from; i < to; i += st {
			indexes = append(indexes, i)
		}
		return indexes, nil
	}
	from, to := clamp(start, length-1, -1, length-1), clamp(end, -1, -1, length-1)
	for i := from; i > to; i += st {
		indexes = append(indexes, i)
	}
	return indexes, nil
}

func flattenMap(value any, args []any, kwargs map[string]any) (any, error) {
	sep, err := newArguments("flatten", args, kwargs).string(0, "sep", ".")
	if err != nil {
		return nil, err
	}
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, fmt.Errorf("flatten: expected a map, got %T", value)
	}
	flat, err := flatten.Flatten(m, "", flatten.SeparatorStyle{Middle: sep})
	if err != nil {
		return nil, fmt.Errorf("flatten: %w", err)
	}
	return flat, nil
}

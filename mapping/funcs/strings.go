package funcs

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/iancoleman/strcase"
	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func split(value any, args []any, kwargs map[string]any) (any, error) {
	s, err := asString("split", value)
	if err != nil {
		return nil, err
	}
	a := newArguments("split", args, kwargs)
	maxSplit := -1
	if n, err := a.optionalInt(1, "maxsplit"); err != nil {
		return nil, err
	} else if n != nil {
		maxSplit = *n
	}

	sep, ok := a.get(0, "sep")
	var parts []string
	if !ok || sep == nil {
		parts = splitWhitespace(s, maxSplit)
	} else {
		sepStr, err := a.string(0, "sep", "")
		if err != nil {
			return nil, err
		}
		if sepStr == "" {
			return nil, fmt.Errorf("split: empty separator")
		}
		n := -1
		if maxSplit >= 0 {
			n = maxSplit + 1
		}
		parts = strings.SplitN(s, sepStr, n)
	}

	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

// splitWhitespace splits on runs of whitespace dropping empty strings. After
// maxSplit splits the remainder is kept as the last element.
func splitWhitespace(s string, maxSplit int) []string {
	var parts []string
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	for s != "" {
		if maxSplit >= 0 && len(parts) == maxSplit {
			parts = append(parts, strings.TrimRightFunc(s, unicode.IsSpace))
			break
		}
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			parts = append(parts, s)
			break
		}
		parts = append(parts, s[:end])
		s = strings.TrimLeftFunc(s[end:], unicode.IsSpace)
	}
	return parts
}

func genderAcronym(value any, _ []any, _ map[string]any) (any, error) {
	s, err := asString("get_gender_acronym", value)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "female", "femenino", "mujer", "f":
		return "F", nil
	default:
		return "M", nil
	}
}

func replace(value any, args []any, kwargs map[string]any) (any, error) {
	s, err := asString("replace", value)
	if err != nil {
		return nil, err
	}
	a := newArguments("replace", args, kwargs)
	old, err := a.requiredString(0, "old")
	if err != nil {
		return nil, err
	}
	replacement, err := a.requiredString(1, "new")
	if err != nil {
		return nil, err
	}
	return strings.ReplaceAll(s, old, replacement), nil
}

// toASCII transliterates to the closest ASCII spelling: "Łódź" is "Lodz",
// "Straße" is "Strasse".
func toASCII(value any, _ []any, _ map[string]any) (any, error) {
	s, err := asString("to_ascii", value)
	if err != nil {
		return nil, err
	}
	return unidecode.Unidecode(s), nil
}

var stringMethods = map[string]func(string) string{
	"upper":      strings.ToUpper,
	"lower":      strings.ToLower,
	"title":      func(s string) string { return cases.Title(language.Und).String(s) },
	"capitalize": capitalize,
	"strip":      strings.TrimSpace,
	"lstrip":     func(s string) string { return strings.TrimLeftFunc(s, unicode.IsSpace) },
	"rstrip":     func(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) },
	"snake":      strcase.ToSnake,
	"camel":      strcase.ToLowerCamel,
	"kebab":      strcase.ToKebab,
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// strMethod applies a named string method; unknown methods yield nil.
func strMethod(value any, args []any, kwargs map[string]any) (any, error) {
	s, err := asString("str_method", value)
	if err != nil {
		return nil, err
	}
	method, err := newArguments("str_method", args, kwargs).requiredString(0, "method")
	if err != nil {
		return nil, err
	}
	fn, ok := stringMethods[method]
	if !ok {
		return nil, nil
	}
	return fn(s), nil
}

func shorthand(method string) Func {
	fn := stringMethods[method]
	return func(value any, _ []any, _ map[string]any) (any, error) {
		s, err := asString(method, value)
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

// strAttr reads a named attribute of a string; unknown attributes yield nil.
func strAttr(value any, args []any, kwargs map[string]any) (any, error) {
	s, err := asString("str_attr", value)
	if err != nil {
		return nil, err
	}
	attr, err := newArguments("str_attr", args, kwargs).requiredString(0, "attr")
	if err != nil {
		return nil, err
	}

	switch attr {
	case "len":
		return utf8.RuneCountInString(s), nil
	case "isdigit":
		return s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0, nil
	case "isalpha":
		return s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) < 0, nil
	case "isupper":
		return hasCased(s) && s == strings.ToUpper(s), nil
	case "islower":
		return hasCased(s) && s == strings.ToLower(s), nil
	default:
		return nil, nil
	}
}

func hasCased(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return unicode.IsUpper(r) || unicode.IsLower(r) }) >= 0
}

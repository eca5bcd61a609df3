package params_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spec-sa/netsync/internal/model"
	"github.com/spec-sa/netsync/syncer/params"
)

func TestParseLiteral(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected any
	}{
		{name: "int", input: "42", expected: 42},
		{name: "negative int", input: "-7", expected: -7},
		{name: "underscore int", input: "1_000", expected: 1000},
		{name: "float", input: "3.5", expected: 3.5},
		{name: "exponent", input: "1e3", expected: 1000.0},
		{name: "single quoted", input: `'hello'`, expected: "hello"},
		{name: "double quoted", input: `"it's"`, expected: "it's"},
		{name: "escapes", input: `'a\tb\n\'c\' \x41ñ'`, expected: "a\tb\n'c' Añ"},
		{name: "unicode", input: `'año'`, expected: "año"},
		{name: "python constants", input: "[True, False, None]", expected: []any{true, false, nil}},
		{name: "json constants", input: "[true, false, null]", expected: []any{true, false, nil}},
		{name: "list", input: "[1, 'a', [2.5]]", expected: []any{1, "a", []any{2.5}}},
		{name: "empty list", input: "[]", expected: []any{}},
		{name: "trailing comma", input: "[1, 2, ]", expected: []any{1, 2}},
		{name: "tuple", input: "(1, 2)", expected: []any{1, 2}},
		{name: "single tuple", input: "(1,)", expected: []any{1}},
		{name: "empty tuple", input: "()", expected: []any{}},
		{name: "parenthesized", input: "('a')", expected: "a"},
		{name: "set", input: "{1, 2}", expected: []any{1, 2}},
		{name: "single set", input: "{'x'}", expected: []any{"x"}},
		{name: "empty dict", input: "{}", expected: map[string]any{}},
		{
			name:  "dict",
			input: "{'fields': ['a@b', 'c@d|upper'], 'pageSize': 50, 'all_pages': True, 1: None,}",
			expected: map[string]any{
				"fields":    []any{"a@b", "c@d|upper"},
				"pageSize":  50,
				"all_pages": true,
				"1":         nil,
			},
		},
		{
			name: "multiline",
			input: `{
				"query": {"active": 1},
				"extensions": ("addresses", "phones"),
			}`,
			expected: map[string]any{
				"query":      map[string]any{"active": 1},
				"extensions": []any{"addresses", "phones"},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := params.ParseLiteral(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestParseLiteralRejectsCode(t *testing.T) {
	for _, input := range []string{
		"",
		"__import__('os').system('id')",
		"open('/etc/passwd').read()",
		"[1, 2] + [3]",
		"1 if True else 2",
		"lambda: 1",
		"{'a': 1",
		"'unterminated",
		"[1 2]",
		"{[1]: 2}",
		"os.environ",
		"-",
		"1.2.3",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := params.ParseLiteral(input)
			require.ErrorIs(t, err, params.ErrInvalidLiteral)
		})
	}
}

func TestDecode(t *testing.T) {
	syncParams := []model.SyncParameter{
		{UseIn: model.UseInOrigin, Key: "fields", Value: `["code@id"]`, Type: model.ParamTypeJSON},
		{UseIn: model.UseInOrigin, Key: "pageSize", Value: `50`, Type: model.ParamTypePython},
		{UseIn: model.UseInDestiny, Key: "mode", Value: `'upsert'`, Type: model.ParamTypePython},
		{UseIn: model.UseInOrigin, Key: "active", Value: `True`},
	}

	t.Run("origin", func(t *testing.T) {
		got, err := params.Decode(syncParams, model.UseInOrigin)
		require.NoError(t, err)
		require.Equal(t, map[string]any{
			"fields":   []any{"code@id"},
			"pageSize": 50,
			"active":   true,
		}, got)
	})

	t.Run("destiny", func(t *testing.T) {
		got, err := params.Decode(syncParams, model.UseInDestiny)
		require.NoError(t, err)
		require.Equal(t, map[string]any{"mode": "upsert"}, got)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := params.Decode(nil, model.UseInDestiny)
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := params.Decode([]model.SyncParameter{
			{UseIn: model.UseInOrigin, Key: "fields", Value: `[`, Type: model.ParamTypeJSON},
		}, model.UseInOrigin)
		require.Error(t, err)
		require.Contains(t, err.Error(), `origin parameter "fields"`)
	})

	t.Run("invalid literal", func(t *testing.T) {
		_, err := params.Decode([]model.SyncParameter{
			{UseIn: model.UseInOrigin, Key: "query", Value: `exec('x')`, Type: model.ParamTypePython},
		}, model.UseInOrigin)
		require.ErrorIs(t, err, params.ErrInvalidLiteral)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := params.DecodeValue("1", "yaml")
		require.Error(t, err)
	})
}

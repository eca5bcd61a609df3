package params

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseLiteral parses a python style literal: numbers, quoted strings,
// True/False/None (and their json spellings), lists, tuples and sets as
// lists, and dicts. Nothing is ever evaluated.
func ParseLiteral(s string) (any, error) {
	p := &literalParser{src: s}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return v, nil
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrInvalidLiteral, p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		p.pos += size
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) value() (any, error) {
	switch c := p.peek(); {
	case c == 0:
		return nil, p.errorf("unexpected end of input")
	case c == '\'' || c == '"':
		return p.str()
	case c == '[':
		return p.sequence(']')
	case c == '(':
		return p.tuple()
	case c == '{':
		return p.mapping()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return p.name()
	}
}

var names = map[string]any{
	"True":  true,
	"False": false,
	"None":  nil,
	"true":  true,
	"false": false,
	"null":  nil,
}

func (p *literalParser) name() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c != '_' && !('a' <= c && c <= 'z') && !('A' <= c && c <= 'Z') && !('0' <= c && c <= '9') {
			break
		}
		p.pos++
	}
	ident := p.src[start:p.pos]
	if ident == "" {
		return nil, p.errorf("unexpected %q", p.src[p.pos:p.pos+1])
	}
	v, ok := names[ident]
	if !ok {
		p.pos = start
		return nil, p.errorf("name %q is not a literal", ident)
	}
	return v, nil
}

func (p *literalParser) number() (any, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	isFloat := false
scan:
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c >= '0' && c <= '9', c == '_':
		case c == '.' || c == 'e' || c == 'E':
			isFloat = true
		case (c == '-' || c == '+') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E'):
		default:
			break scan
		}
		p.pos++
	}
	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, p.errorf("number %q", text)
		}
		return f, nil
	}
	i, err := strconv.Atoi(text)
	if err != nil {
		return nil, p.errorf("number %q", text)
	}
	return i, nil
}

func (p *literalParser) str() (any, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for {
		if p.pos >= len(p.src) {
			return nil, p.errorf("unterminated string")
		}
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\n':
			return nil, p.errorf("newline in string")
		case c == '\\':
			if err := p.escape(&b); err != nil {
				return nil, err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func (p *literalParser) escape(b *strings.Builder) error {
	p.pos++
	if p.pos >= len(p.src) {
		return p.errorf("unterminated escape")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case '0':
		b.WriteByte(0)
	case '\\', '\'', '"':
		b.WriteByte(c)
	case '\n':
	case 'x', 'u', 'U':
		size := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if p.pos+size > len(p.src) {
			return p.errorf("truncated \\%c escape", c)
		}
		code, err := strconv.ParseUint(p.src[p.pos:p.pos+size], 16, 32)
		if err != nil {
			return p.errorf("invalid \\%c escape", c)
		}
		p.pos += size
		b.WriteRune(rune(code))
	default:
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}

// items parses comma separated values up to closing, allowing a trailing comma.
func (p *literalParser) items(closing byte, item func() error) (count int, trailingComma bool, err error) {
	for {
		p.skipSpace()
		if p.peek() == closing {
			p.pos++
			return count, trailingComma, nil
		}
		if err := item(); err != nil {
			return 0, false, err
		}
		count++
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			trailingComma = true
		case closing:
			p.pos++
			return count, false, nil
		default:
			return 0, false, p.errorf("expected ',' or %q", closing)
		}
	}
}

func (p *literalParser) sequence(closing byte) (any, error) {
	p.pos++
	list := []any{}
	_, _, err := p.items(closing, func() error {
		v, err := p.value()
		if err != nil {
			return err
		}
		list = append(list, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// tuple returns a list, or the inner value for a parenthesized expression.
func (p *literalParser) tuple() (any, error) {
	p.pos++
	list := []any{}
	count, trailingComma, err := p.items(')', func() error {
		v, err := p.value()
		if err != nil {
			return err
		}
		list = append(list, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if count == 1 && !trailingComma {
		return list[0], nil
	}
	return list, nil
}

// mapping parses a dict, or a set which is returned as a list.
func (p *literalParser) mapping() (any, error) {
	p.pos++
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return map[string]any{}, nil
	}

	first, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() != ':' {
		set := []any{first}
		if p.peek() == ',' {
			p.pos++
			if _, _, err := p.items('}', func() error {
				v, err := p.value()
				if err != nil {
					return err
				}
				set = append(set, v)
				return nil
			}); err != nil {
				return nil, err
			}
			return set, nil
		}
		if p.peek() != '}' {
			return nil, p.errorf("expected ',' or '}'")
		}
		p.pos++
		return set, nil
	}

	dict := map[string]any{}
	key := first
	for {
		p.pos++ // ':'
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		k, err := p.key(key)
		if err != nil {
			return nil, err
		}
		dict[k] = v

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == '}' {
				p.pos++
				return dict, nil
			}
		case '}':
			p.pos++
			return dict, nil
		default:
			return nil, p.errorf("expected ',' or '}'")
		}

		if key, err = p.value(); err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return nil, p.errorf("expected ':'")
		}
	}
}

func (p *literalParser) key(k any) (string, error) {
	switch v := k.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		if v {
			return "True", nil
		}
		return "False", nil
	case nil:
		return "None", nil
	default:
		return "", p.errorf("unhashable dict key of type %T", k)
	}
}

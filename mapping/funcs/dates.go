package funcs

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// strftimeLayouts maps C strftime directives to Go reference layouts.
var strftimeLayouts = map[byte]string{
	'a': "Mon",
	'A': "Monday",
	'b': "Jan",
	'B': "January",
	'd': "02",
	'f': "000000",
	'H': "15",
	'I': "03",
	'j': "002",
	'm': "01",
	'M': "04",
	'p': "PM",
	'S': "05",
	'y': "06",
	'Y': "2006",
	'z': "-0700",
	'Z': "MST",
	'T': "15:04:05",
	'D': "01/02/06",
	'F': "2006-01-02",
}

// strftime formats t one directive at a time so literal text is never read as a layout.
func strftime(t time.Time, format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteByte(format[i])
			continue
		}
		if i+1 == len(format) {
			return "", fmt.Errorf("format %q: dangling %%", format)
		}
		i++
		directive := format[i]
		if directive == '%' {
			b.WriteByte('%')
			continue
		}
		if directive == 'f' {
			fmt.Fprintf(&b, "%06d", t.Nanosecond()/1000)
			continue
		}
		layout, ok := strftimeLayouts[directive]
		if !ok {
			return "", fmt.Errorf("format %q: unsupported directive %%%c", format, directive)
		}
		b.WriteString(t.Format(layout))
	}
	return b.String(), nil
}

// layoutProbe has a distinct value in every field, so formatting it with text
// that holds a Go layout element changes the text.
var layoutProbe = time.Date(1999, time.December, 31, 11, 58, 57, 123456789, time.FixedZone("XYZ", 90*60))

// strptimeLayout converts a strptime format to a Go layout. Go layouts cannot
// escape literal text, so literals that would be read as layout elements are
// rejected.
func strptimeLayout(format string) (string, error) {
	var (
		b       strings.Builder
		literal strings.Builder
	)
	flush := func() error {
		lit := literal.String()
		literal.Reset()
		if lit == "" {
			return nil
		}
		if strings.ContainsAny(lit, "0123456789_") || layoutProbe.Format(lit) != lit {
			return fmt.Errorf("format %q: literal %q cannot be parsed", format, lit)
		}
		b.WriteString(lit)
		return nil
	}

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			literal.WriteByte(format[i])
			continue
		}
		if i+1 == len(format) {
			return "", fmt.Errorf("format %q: dangling %%", format)
		}
		i++
		directive := format[i]
		if directive == '%' {
			literal.WriteByte('%')
			continue
		}
		if directive == 'f' {
			// the separator belongs to the fractional second element
			lit := literal.String()
			if lit == "" || (lit[len(lit)-1] != '.' && lit[len(lit)-1] != ',') {
				return "", fmt.Errorf("format %q: %%f must follow '.' or ','", format)
			}
			sep := lit[len(lit)-1]
			literal.Reset()
			literal.WriteString(lit[:len(lit)-1])
			if err := flush(); err != nil {
				return "", err
			}
			b.WriteByte(sep)
			b.WriteString("999999")
			continue
		}
		layout, ok := strftimeLayouts[directive]
		if !ok {
			return "", fmt.Errorf("format %q: unsupported directive %%%c", format, directive)
		}
		if err := flush(); err != nil {
			return "", err
		}
		b.WriteString(layout)
	}
	if err := flush(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func asTime(fn string, value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := dateparse.ParseAny(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", fn, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%s: expected a date, got %T", fn, value)
	}
}

func timeFormat(value any, args []any, kwargs map[string]any) (any, error) {
	t, err := asTime("time_format", value)
	if err != nil {
		return nil, err
	}
	format, err := newArguments("time_format", args, kwargs).requiredString(0, "fmt")
	if err != nil {
		return nil, err
	}
	out, err := strftime(t, format)
	if err != nil {
		return nil, fmt.Errorf("time_format: %w", err)
	}
	return out, nil
}

func toDatetime(value any, args []any, kwargs map[string]any) (any, error) {
	s, err := asString("to_datetime", value)
	if err != nil {
		return nil, err
	}
	format, err := newArguments("to_datetime", args, kwargs).requiredString(0, "fmt")
	if err != nil {
		return nil, err
	}
	layout, err := strptimeLayout(format)
	if err != nil {
		return nil, fmt.Errorf("to_datetime: %w", err)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return nil, fmt.Errorf("to_datetime: %w", err)
	}
	return t, nil
}

// activeEnd is the open validity end NetTime expects for active records.
const activeEnd = "2040-12-31"

// activeDays builds the NetTime ActiveDays validity structure starting at the value's date.
func (l *Library) activeDays(value any, args []any, kwargs map[string]any) (any, error) {
	t, err := asTime("date_to_ActiveDays", value)
	if err != nil {
		return nil, err
	}
	isActive, err := newArguments("date_to_ActiveDays", args, kwargs).bool(0, "is_active", true)
	if err != nil {
		return nil, err
	}

	end := activeEnd
	if !isActive {
		end = l.now().Format(time.DateOnly)
	}
	return map[string]any{
		"validity": []any{
			map[string]any{
				"start": t.Format(time.DateOnly),
				"end":   end + "T00:00:00-03:00",
			},
		},
	}, nil
}

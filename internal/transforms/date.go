package transforms

import (
	"strings"
	"time"

	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/pkg/schema"
)

// CanonicalTimestamp is the default format_date output: UTC with
// millisecond precision.
const CanonicalTimestamp = "2006-01-02T15:04:05.000Z07:00"

var inputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
}

// formatDate parses value as a timestamp string or epoch milliseconds and
// renders it canonically, or with params.format (yyyy-MM-dd style tokens)
// in params.timezone when given. Unparseable values are an error.
func formatDate(value any, params map[string]any, _ schema.Vars) (any, error) {
	t, ok := parseTime(value)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot parse %v as a date", value)
	}

	loc := time.UTC
	if tz := stringParam(params, "timezone", ""); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown timezone %q", tz).WithCause(err)
		}
		loc = l
	}
	t = t.In(loc)

	format := stringParam(params, "format", "")
	if format == "" {
		return t.Format(CanonicalTimestamp), nil
	}
	return t.Format(layoutFromTokens(format)), nil
}

func parseTime(value any) (time.Time, bool) {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range inputLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}
	if _, isBool := value.(bool); isBool {
		return time.Time{}, false
	}
	ms, ok := expressions.ToNumber(value)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

// tokenLayouts is ordered longest first so that "MMMM" wins over "MM".
var tokenLayouts = []struct {
	token  string
	layout string
}{
	{"yyyy", "2006"},
	{"MMMM", "January"},
	{"EEEE", "Monday"},
	{"MMM", "Jan"},
	{"EEE", "Mon"},
	{"SSS", "000"},
	{"XXX", "Z07:00"},
	{"yy", "06"},
	{"MM", "01"},
	{"dd", "02"},
	{"HH", "15"},
	{"hh", "03"},
	{"mm", "04"},
	{"ss", "05"},
	{"M", "1"},
	{"d", "2"},
	{"h", "3"},
	{"a", "PM"},
}

// layoutFromTokens converts a yyyy-MM-dd style pattern to a Go layout.
// Text inside single quotes is copied literally.
func layoutFromTokens(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		if format[i] == '\'' {
			end := strings.IndexByte(format[i+1:], '\'')
			if end < 0 {
				b.WriteString(format[i+1:])
				break
			}
			b.WriteString(format[i+1 : i+1+end])
			i += end + 2
			continue
		}

		matched := false
		for _, tl := range tokenLayouts {
			if strings.HasPrefix(format[i:], tl.token) {
				b.WriteString(tl.layout)
				i += len(tl.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

package transforms

import (
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/rendis/nodegraph/internal/expressions"
	"github.com/rendis/nodegraph/pkg/schema"
)

// Transformation names.
const (
	FormatDate  = "format_date"
	Calculate   = "calculate"
	Concatenate = "concatenate"
	Extract     = "extract"
	Uppercase   = "uppercase"
	Lowercase   = "lowercase"
	Trim        = "trim"
	Round       = "round"
)

// NewDefaultRegistry returns a Registry holding every built-in transformation.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	calc := expressions.NewCalculator()
	rx := &regexCache{compiled: make(map[string]*regexp.Regexp)}

	builtins := map[string]Func{
		FormatDate:  formatDate,
		Calculate:   calculate(calc),
		Concatenate: concatenate,
		Extract:     extract(rx),
		Uppercase:   mapString(strings.ToUpper),
		Lowercase:   mapString(strings.ToLower),
		Trim:        mapString(strings.TrimSpace),
		Round:       round,
	}
	for name, fn := range builtins {
		// Names are unique constants; Register cannot fail here.
		_ = r.Register(name, fn)
	}
	return r
}

// calculate evaluates params.expression. Placeholders resolve against the
// context; {value} resolves to the current value unless the context defines
// its own "value".
func calculate(calc *expressions.Calculator) Func {
	return func(value any, params map[string]any, vars schema.Vars) (any, error) {
		expression := stringParam(params, "expression", "")
		if expression == "" {
			return value, nil
		}
		env := vars
		if _, ok := vars["value"]; !ok {
			env = vars.With("value", value)
		}
		return calc.Evaluate(expression, env)
	}
}

// concatenate joins params.parts with params.separator. Each part is a
// template interpolated against the context, with {value} as fallback for
// the current value.
func concatenate(value any, params map[string]any, vars schema.Vars) (any, error) {
	parts, ok := params["parts"].([]any)
	if !ok || len(parts) == 0 {
		return value, nil
	}
	sep := stringParam(params, "separator", "")

	env := vars
	if _, ok := vars["value"]; !ok {
		env = vars.With("value", value)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s, isStr := p.(string)
		if !isStr {
			out = append(out, expressions.Stringify(p))
			continue
		}
		out = append(out, expressions.Interpolate(s, env))
	}
	return strings.Join(out, sep), nil
}

type regexCache struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.compiled[pattern] = re
	return re, nil
}

// extract returns the first match of params.pattern in the stringified
// value, or nil when nothing matches. With params.group set, that capture
// group is returned; otherwise the first group if the pattern has one.
func extract(rx *regexCache) Func {
	return func(value any, params map[string]any, _ schema.Vars) (any, error) {
		pattern := stringParam(params, "pattern", "")
		if pattern == "" || value == nil {
			return value, nil
		}
		re, err := rx.get(pattern)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid extract pattern %q", pattern).WithCause(err)
		}

		m := re.FindStringSubmatch(expressions.Stringify(value))
		if m == nil {
			return nil, nil
		}

		group := intParam(params, "group", -1)
		if group < 0 {
			group = 0
			if len(m) > 1 {
				group = 1
			}
		}
		if group >= len(m) {
			return nil, nil
		}
		return m[group], nil
	}
}

func mapString(fn func(string) string) Func {
	return func(value any, _ map[string]any, _ schema.Vars) (any, error) {
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		return fn(s), nil
	}
}

// round rounds to params.decimals places, half away from zero.
func round(value any, params map[string]any, _ schema.Vars) (any, error) {
	n, ok := expressions.ToNumber(value)
	if !ok {
		return value, nil
	}
	if _, isBool := value.(bool); isBool {
		return value, nil
	}
	decimals := intParam(params, "decimals", 0)
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 15 {
		decimals = 15
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(n*p) / p, nil
}

func stringParam(m map[string]any, key, defaultVal string) string {
	s, ok := m[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	n, ok := expressions.ToNumber(v)
	if !ok {
		return defaultVal
	}
	return int(n)
}

package expressions

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/rendis/nodegraph/pkg/schema"
)

// EvaluateCondition resolves cond.Field against vars and compares it with
// cond.Value. A missing field compares as null.
func EvaluateCondition(vars map[string]any, cond schema.Condition) bool {
	left, _ := Lookup(vars, cond.Field)
	return Compare(left, cond.Operator, cond.Value)
}

// MatchAll reports whether every condition holds against vars. An empty
// list matches.
func MatchAll(vars map[string]any, conds []schema.Condition) bool {
	for _, c := range conds {
		if !EvaluateCondition(vars, c) {
			return false
		}
	}
	return true
}

// Compare applies op to left and right. Unknown operators never match.
func Compare(left any, op string, right any) bool {
	switch op {
	case schema.OpEquals:
		return LooseEqual(left, right)
	case schema.OpNotEquals:
		return !LooseEqual(left, right)
	case schema.OpGreaterThan:
		c, ok := order(left, right)
		return ok && c > 0
	case schema.OpLessThan:
		c, ok := order(left, right)
		return ok && c < 0
	case schema.OpGreaterOrEqual:
		c, ok := order(left, right)
		return ok && c >= 0
	case schema.OpLessOrEqual:
		c, ok := order(left, right)
		return ok && c <= 0
	case schema.OpContains:
		return contains(left, right)
	case schema.OpNotContains:
		return !contains(left, right)
	case schema.OpStartsWith:
		s, ok := left.(string)
		return ok && strings.HasPrefix(s, Stringify(right))
	case schema.OpEndsWith:
		s, ok := left.(string)
		return ok && strings.HasSuffix(s, Stringify(right))
	default:
		return false
	}
}

// LooseEqual compares with type coercion: numbers and numeric strings are
// equal when their numeric values are, booleans compare as 1 and 0, null
// equals only null, and objects or arrays compare structurally.
func LooseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as == bs
	}

	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool {
		return ab == bb
	}

	if isScalar(a) && isScalar(b) {
		an, aok := ToNumber(a)
		bn, bok := ToNumber(b)
		return aok && bok && an == bn
	}

	return reflect.DeepEqual(normalize(a), normalize(b))
}

// order returns -1, 0, or 1. Two strings compare lexicographically, anything
// else numerically. The second result is false when the operands are not
// comparable.
func order(a, b any) (int, bool) {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs), true
	}
	if a == nil || b == nil {
		return 0, false
	}

	an, aok := ToNumber(a)
	bn, bok := ToNumber(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case an < bn:
		return -1, true
	case an > bn:
		return 1, true
	default:
		return 0, true
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, Stringify(needle))
	default:
		items := AsArray(haystack)
		for _, item := range items {
			if LooseEqual(item, needle) {
				return true
			}
		}
		return false
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return true
	default:
		return false
	}
}

// ToNumber converts numbers, numeric strings and booleans to float64.
// Empty or whitespace-only strings convert to 0. NaN is never a number.
func ToNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, true
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Stringify renders a value the way it appears when embedded in text:
// strings verbatim, null as "null", integral numbers without a fraction,
// and objects or arrays as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return FormatNumber(val)
	case float32:
		return FormatNumber(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// FormatNumber renders f with the shortest representation that round-trips.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// normalize maps integer types to float64 so that decoded JSON and values
// built in Go compare equal.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case schema.Vars:
		return normalize(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		if n, ok := ToNumber(v); ok && !isStringOrBool(v) {
			return n
		}
		return v
	}
}

func isStringOrBool(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	default:
		return false
	}
}

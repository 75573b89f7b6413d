package expressions

import (
	"testing"

	"github.com/rendis/nodegraph/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestLooseEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"same strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"number and numeric string", 5.0, "5", true},
		{"numeric string and int", "5", 5, true},
		{"number and padded string", 5.0, " 5 ", true},
		{"number and text", 5.0, "five", false},
		{"bool and number", true, 1.0, true},
		{"bool and string", false, "0", true},
		{"nil and nil", nil, nil, true},
		{"nil and zero", nil, 0.0, false},
		{"nil and empty string", nil, "", false},
		{"int and float", 3, 3.0, true},
		{"objects structurally", map[string]any{"a": 1}, map[string]any{"a": 1.0}, true},
		{"arrays structurally", []any{1.0, "x"}, []any{1, "x"}, true},
		{"object and string", map[string]any{}, "{}", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LooseEqual(tt.a, tt.b))
		})
	}
}

func TestCompare_Operators(t *testing.T) {
	tests := []struct {
		left  any
		op    string
		right any
		want  bool
	}{
		{20.0, schema.OpGreaterThan, 18.0, true},
		{18.0, schema.OpGreaterThan, 18.0, false},
		{18.0, schema.OpGreaterOrEqual, 18.0, true},
		{"10", schema.OpGreaterThan, 9.0, true},
		{"b", schema.OpGreaterThan, "a", true},
		{"10", schema.OpLessThan, "9", true},
		{5.0, schema.OpLessThan, 6.0, true},
		{6.0, schema.OpLessOrEqual, 6.0, true},
		{"abc", schema.OpGreaterThan, 1.0, false},
		{nil, schema.OpLessThan, 1.0, false},
		{"hello world", schema.OpContains, "world", true},
		{"hello", schema.OpNotContains, "x", true},
		{[]any{"a", "b"}, schema.OpContains, "b", true},
		{[]any{1.0, 2.0}, schema.OpContains, "2", true},
		{[]any{"a"}, schema.OpNotContains, "z", true},
		{42.0, schema.OpContains, "4", false},
		{"prefix-rest", schema.OpStartsWith, "prefix", true},
		{"file.json", schema.OpEndsWith, ".json", true},
		{12.0, schema.OpStartsWith, "1", false},
		{"x", schema.OpEquals, "x", true},
		{"x", schema.OpNotEquals, "y", true},
		{"x", "matches", "x", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Compare(tt.left, tt.op, tt.right), "%v %s %v", tt.left, tt.op, tt.right)
	}
}

func TestEvaluateCondition_MissingFieldIsNull(t *testing.T) {
	vars := map[string]any{"age": 20.0}

	assert.True(t, EvaluateCondition(vars, schema.Condition{Field: "age", Operator: schema.OpGreaterThan, Value: 18.0}))
	assert.False(t, EvaluateCondition(vars, schema.Condition{Field: "missing", Operator: schema.OpEquals, Value: 0.0}))
	assert.True(t, EvaluateCondition(vars, schema.Condition{Field: "missing", Operator: schema.OpEquals, Value: nil}))
}

func TestMatchAll(t *testing.T) {
	item := map[string]any{"status": "active", "score": 80.0}

	assert.True(t, MatchAll(item, nil))
	assert.True(t, MatchAll(item, []schema.Condition{
		{Field: "status", Operator: schema.OpEquals, Value: "active"},
		{Field: "score", Operator: schema.OpGreaterOrEqual, Value: 50.0},
	}))
	assert.False(t, MatchAll(item, []schema.Condition{
		{Field: "status", Operator: schema.OpEquals, Value: "active"},
		{Field: "score", Operator: schema.OpGreaterThan, Value: 90.0},
	}))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "abc", Stringify("abc"))
	assert.Equal(t, "null", Stringify(nil))
	assert.Equal(t, "42", Stringify(42.0))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
	assert.Equal(t, `[1,"x"]`, Stringify([]any{1, "x"}))
}

func TestToNumber(t *testing.T) {
	n, ok := ToNumber("  3.5 ")
	assert.True(t, ok)
	assert.Equal(t, 3.5, n)

	n, ok = ToNumber("")
	assert.True(t, ok)
	assert.Equal(t, 0.0, n)

	_, ok = ToNumber("NaN")
	assert.False(t, ok)

	_, ok = ToNumber(nil)
	assert.False(t, ok)

	_, ok = ToNumber([]any{})
	assert.False(t, ok)
}

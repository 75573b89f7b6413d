package transforms

import (
	"testing"

	"github.com/rendis/nodegraph/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, r *Registry, typ string, params map[string]any, value any, vars schema.Vars) any {
	t.Helper()
	out, err := r.Apply(schema.Transformation{Type: typ, Params: params}, value, vars)
	require.NoError(t, err)
	return out
}

func TestDefaultRegistry_Names(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []string{
		Calculate, Concatenate, Extract, FormatDate, Lowercase, Round, Trim, Uppercase,
	}, r.Names())
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.Register(Trim, mapString(func(s string) string { return s }))
	var nErr *schema.Error
	require.ErrorAs(t, err, &nErr)
	assert.Equal(t, schema.ErrCodeConflict, nErr.Code)
}

func TestUnknownTransformIsIdentity(t *testing.T) {
	r := NewDefaultRegistry()
	for _, v := range []any{"x", 1.0, nil, map[string]any{"a": 1}} {
		assert.Equal(t, v, apply(t, r, "reverse", nil, v, nil))
	}
}

func TestStringCase(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, "HELLO", apply(t, r, Uppercase, nil, "hello", nil))
	assert.Equal(t, "hello", apply(t, r, Lowercase, nil, "HeLLo", nil))
	assert.Equal(t, "pad", apply(t, r, Trim, nil, "  pad \n", nil))
	assert.Equal(t, 12.0, apply(t, r, Uppercase, nil, 12.0, nil), "non-strings pass through")
}

func TestRound(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, 3.0, apply(t, r, Round, nil, 2.5, nil))
	assert.Equal(t, 3.14, apply(t, r, Round, map[string]any{"decimals": 2.0}, 3.14159, nil))
	assert.Equal(t, 1.2, apply(t, r, Round, map[string]any{"decimals": 1.0}, "1.23", nil))
	assert.Equal(t, "abc", apply(t, r, Round, nil, "abc", nil))
}

func TestCalculate(t *testing.T) {
	r := NewDefaultRegistry()
	vars := schema.Vars{"price": 20.0, "qty": 3.0}

	assert.Equal(t, 60.0, apply(t, r, Calculate, map[string]any{"expression": "{price} * {qty}"}, nil, vars))
	assert.Equal(t, 15.0, apply(t, r, Calculate, map[string]any{"expression": "{value} + 5"}, 10.0, vars))
	assert.Equal(t, "keep", apply(t, r, Calculate, map[string]any{}, "keep", vars))

	_, err := r.Apply(schema.Transformation{Type: Calculate, Params: map[string]any{"expression": "process.exit(1)"}}, 1.0, vars)
	assert.Error(t, err)
}

func TestConcatenate(t *testing.T) {
	r := NewDefaultRegistry()
	vars := schema.Vars{"first": "Ada", "last": "Lovelace"}

	out := apply(t, r, Concatenate, map[string]any{
		"parts":     []any{"{first}", "{last}"},
		"separator": " ",
	}, nil, vars)
	assert.Equal(t, "Ada Lovelace", out)

	out = apply(t, r, Concatenate, map[string]any{
		"parts": []any{"id-", "{value}", 7.0},
	}, 42.0, vars)
	assert.Equal(t, "id-427", out)

	assert.Equal(t, "v", apply(t, r, Concatenate, nil, "v", vars))
}

func TestExtract(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, "123", apply(t, r, Extract, map[string]any{"pattern": `\d+`}, "order 123 of 456", nil))
	assert.Equal(t, "example.com", apply(t, r, Extract, map[string]any{"pattern": `@([\w.]+)`}, "ada@example.com", nil))
	assert.Equal(t, "@example.com", apply(t, r, Extract, map[string]any{"pattern": `@([\w.]+)`, "group": 0.0}, "ada@example.com", nil))
	assert.Nil(t, apply(t, r, Extract, map[string]any{"pattern": `\d+`}, "none", nil))

	_, err := r.Apply(schema.Transformation{Type: Extract, Params: map[string]any{"pattern": "("}}, "x", nil)
	assert.Error(t, err)
}

func TestFormatDate(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, "2024-03-05T14:07:09.000Z", apply(t, r, FormatDate, nil, "2024-03-05T14:07:09Z", nil))
	assert.Equal(t, "2024-03-05T12:07:09.000Z", apply(t, r, FormatDate, nil, "2024-03-05T14:07:09+02:00", nil))
	assert.Equal(t, "2024-03-05T00:00:00.000Z", apply(t, r, FormatDate, nil, "2024-03-05", nil))
	assert.Equal(t, "1970-01-01T00:00:01.500Z", apply(t, r, FormatDate, nil, 1500.0, nil))

	assert.Equal(t, "05/03/2024 14:07", apply(t, r, FormatDate,
		map[string]any{"format": "dd/MM/yyyy HH:mm"}, "2024-03-05T14:07:09Z", nil))
	assert.Equal(t, "March 5, 2024 at 2 PM", apply(t, r, FormatDate,
		map[string]any{"format": "MMMM d, yyyy 'at' h a"}, "2024-03-05T14:07:09Z", nil))

	_, err := r.Apply(schema.Transformation{Type: FormatDate}, "not a date", nil)
	assert.Error(t, err)
}

func TestPipeline_FoldsInOrder(t *testing.T) {
	r := NewDefaultRegistry()
	ts := []schema.Transformation{
		{Type: Trim},
		{Type: Uppercase},
		{Type: Concatenate, Params: map[string]any{"parts": []any{"<", "{value}", ">"}}},
	}
	assert.Equal(t, "<ADA>", r.Pipeline(ts, "  ada ", schema.Vars{}, nil))
}

func TestPipeline_FailedStepPassesThrough(t *testing.T) {
	r := NewDefaultRegistry()
	ts := []schema.Transformation{
		{Type: Calculate, Params: map[string]any{"expression": "{missing} * 2"}},
		{Type: Round},
	}

	var failed []int
	out := r.Pipeline(ts, 2.6, schema.Vars{}, func(i int, _ schema.Transformation, _ error) {
		failed = append(failed, i)
	})
	assert.Equal(t, 3.0, out)
	assert.Equal(t, []int{0}, failed)
}

package expressions

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/nodegraph/pkg/schema"
)

// Calculator evaluates arithmetic over numbers and {path} placeholders.
// Only numeric literals, bound placeholders, unary sign, parentheses and the
// four operators + - * / are accepted; anything else is rejected before
// compilation. Compiled programs are cached and safe for concurrent use.
type Calculator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewCalculator creates a Calculator with an empty program cache.
func NewCalculator() *Calculator {
	return &Calculator{cache: make(map[string]*vm.Program)}
}

// Evaluate substitutes placeholders from vars and computes the result.
// Unresolvable or non-numeric placeholders, disallowed syntax and non-finite
// results are errors.
func (c *Calculator) Evaluate(expression string, vars map[string]any) (float64, error) {
	if strings.TrimSpace(expression) == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "empty arithmetic expression")
	}

	source, env, err := bindPlaceholders(expression, vars)
	if err != nil {
		return 0, err
	}

	prg, err := c.getOrCompile(source, env)
	if err != nil {
		return 0, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExecution,
			"arithmetic evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err)
	}

	result, ok := ToNumber(out)
	if !ok || math.IsInf(result, 0) {
		return 0, schema.NewErrorf(schema.ErrCodeExecution,
			"arithmetic expression %q produced a non-finite result", expression)
	}
	return result, nil
}

// bindPlaceholders rewrites {path} placeholders into identifiers p0, p1, ...
// and returns the environment that binds them.
func bindPlaceholders(expression string, vars map[string]any) (string, map[string]any, error) {
	env := map[string]any{}
	var bindErr error
	idx := 0

	source := placeholderRe.ReplaceAllStringFunc(expression, func(match string) string {
		if bindErr != nil {
			return match
		}
		path := strings.TrimSpace(match[1 : len(match)-1])
		val, ok := Lookup(vars, path)
		if !ok {
			bindErr = schema.NewErrorf(schema.ErrCodeValidation, "placeholder {%s} does not resolve", path)
			return match
		}
		n, ok := ToNumber(val)
		if !ok {
			bindErr = schema.NewErrorf(schema.ErrCodeValidation, "placeholder {%s} is not numeric", path)
			return match
		}
		name := fmt.Sprintf("p%d", idx)
		idx++
		env[name] = n
		return " " + name + " "
	})
	if bindErr != nil {
		return "", nil, bindErr
	}
	return source, env, nil
}

func (c *Calculator) getOrCompile(source string, env map[string]any) (*vm.Program, error) {
	c.mu.RLock()
	if prg, ok := c.cache[source]; ok {
		c.mu.RUnlock()
		return prg, nil
	}
	c.mu.RUnlock()

	tree, err := parser.Parse(source)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"arithmetic parse error: %s", err.Error()).WithCause(err)
	}

	guard := &arithmeticGuard{env: env}
	ast.Walk(&tree.Node, guard)
	if guard.err != nil {
		return nil, guard.err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prg, ok := c.cache[source]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"arithmetic compile error: %s", err.Error()).WithCause(err)
	}

	c.cache[source] = prg
	return prg, nil
}

// arithmeticGuard rejects every AST node outside the arithmetic subset.
type arithmeticGuard struct {
	env map[string]any
	err error
}

func (g *arithmeticGuard) Visit(node *ast.Node) {
	if g.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.IntegerNode, *ast.FloatNode:
	case *ast.IdentifierNode:
		if _, ok := g.env[n.Value]; !ok {
			g.err = schema.NewErrorf(schema.ErrCodeValidation, "unknown identifier %q", n.Value)
		}
	case *ast.UnaryNode:
		if n.Operator != "-" && n.Operator != "+" {
			g.err = schema.NewErrorf(schema.ErrCodeValidation, "operator %q is not allowed", n.Operator)
		}
	case *ast.BinaryNode:
		switch n.Operator {
		case "+", "-", "*", "/":
		default:
			g.err = schema.NewErrorf(schema.ErrCodeValidation, "operator %q is not allowed", n.Operator)
		}
	default:
		g.err = schema.NewErrorf(schema.ErrCodeValidation, "expression element %T is not allowed", n)
	}
}

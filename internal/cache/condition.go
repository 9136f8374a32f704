package cache

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/cel-go/cel"
)

// Condition decides whether a response may be stored.
type Condition interface {
	Cacheable(r *http.Request, status int) bool
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(r *http.Request, status int) bool

// Cacheable implements Condition.
func (f ConditionFunc) Cacheable(r *http.Request, status int) bool {
	return f(r, status)
}

// DefaultCondition caches GET requests answered with 200.
var DefaultCondition Condition = ConditionFunc(func(r *http.Request, status int) bool {
	return r.Method == http.MethodGet && status == http.StatusOK
})

// celCondition evaluates a CEL expression over the request and response.
// Available variables:
//
//	request.method, request.path, request.query, request.headers (map)
//	response.status
type celCondition struct {
	expr    string
	program cel.Program
}

// NewCELCondition compiles expr. An empty expression returns DefaultCondition.
func NewCELCondition(expr string) (Condition, error) {
	if strings.TrimSpace(expr) == "" {
		return DefaultCondition, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("response", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCondition, iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidCondition, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}

	return &celCondition{expr: expr, program: program}, nil
}

// Cacheable evaluates the expression. Evaluation errors mean not cacheable.
func (c *celCondition) Cacheable(r *http.Request, status int) bool {
	out, _, err := c.program.Eval(map[string]any{
		"request":  requestVars(r),
		"response": map[string]any{"status": int64(status)},
	})
	if err != nil {
		return false
	}
	v, ok := out.Value().(bool)
	return ok && v
}

// String returns the source expression.
func (c *celCondition) String() string {
	return c.expr
}

func requestVars(r *http.Request) map[string]any {
	headers := make(map[string]any, len(r.Header))
	for k := range r.Header {
		headers[strings.ToLower(k)] = r.Header.Get(k)
	}
	return map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   r.URL.RawQuery,
		"headers": headers,
	}
}

// Package tools implements the typed ToolRegistry and argument-validating
// ToolRunner from §4.5. Grounded in the framework's core.BaseTool/Tool
// split (Component + capability catalog) but replacing dynamic dispatch with
// an explicit Tool variant (§9 Design Notes): a pure schema value plus a
// typed invoker function, no reflection over function signatures.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/agentcore/core"
)

// Invoker is a pure-typed tool function: it receives validated arguments and
// an invocation context, and returns a result or an error.
type Invoker func(ctx context.Context, ictx InvocationContext, args map[string]any) (any, error)

// InvocationContext is passed to every tool invocation, per §4.5.
type InvocationContext struct {
	Tenant core.TenantID
	TaskID string
	Deadline time.Time
	Cancel  context.CancelFunc
}

// Tool is the explicit, typed catalog entry: name/description/schema plus a
// pure invoker. Retryable marks tools the ToolRunner may re-run once on
// failure (§4.5 failure taxonomy).
type Tool struct {
	ID          string
	Name        string
	Description string
	ParamsSchema core.ParamsSchema
	Invoker     Invoker
	Retryable   bool
}

// Registry is an immutable, name-indexed catalog scoped to one tenant.
// "Immutable" means rebuild-to-change (§5): once constructed, Register
// additions are still allowed at setup time, but concurrent resolve() calls
// never race with registration in steady state.
type Registry struct {
	tenant core.TenantID
	mu     sync.RWMutex
	byName map[string]Tool
}

// NewRegistry constructs an empty registry for tenant.
func NewRegistry(tenant core.TenantID) *Registry {
	return &Registry{tenant: tenant, byName: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[t.Name] = t
}

// Resolve looks up a tool by name, failing with core.ErrToolNotFound.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return Tool{}, core.NewError(core.KindLogic, "tools", r.tenant, core.ErrToolNotFound, false)
	}
	return t, nil
}

// List returns all registered tools as function specs, for offering to a
// model provider as callable functions.
func (r *Registry) List() []core.FunctionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.FunctionSpec, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, core.FunctionSpec{Name: t.Name, Description: t.Description, Params: t.ParamsSchema})
	}
	return out
}

// ValidationProblem enumerates the three validation failure kinds from §4.5.
type ValidationProblem string

const (
	ProblemMissing      ValidationProblem = "missing"
	ProblemTypeMismatch  ValidationProblem = "type_mismatch"
	ProblemOutOfRange    ValidationProblem = "out_of_range"
)

// ValidationError reports one schema violation.
type ValidationError struct {
	Field   string
	Problem ValidationProblem
	Detail  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Problem, e.Detail)
}

// Validate checks args against schema: required fields present, declared
// types match, numeric ranges respected. It returns the first violation
// found; callers needing all violations can loop themselves.
func Validate(schema core.ParamsSchema, args map[string]any) error {
	for _, f := range schema.Fields {
		v, present := args[f.Name]
		if !present {
			if f.Required {
				return &ValidationError{Field: f.Name, Problem: ProblemMissing, Detail: "required field absent"}
			}
			continue
		}
		if err := checkType(f, v); err != nil {
			return err
		}
	}
	return nil
}

func checkType(f core.ParamField, v any) error {
	switch f.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return &ValidationError{Field: f.Name, Problem: ProblemTypeMismatch, Detail: "expected string"}
		}
	case "number":
		n, ok := asFloat(v)
		if !ok {
			return &ValidationError{Field: f.Name, Problem: ProblemTypeMismatch, Detail: "expected number"}
		}
		if f.Min != nil && n < *f.Min {
			return &ValidationError{Field: f.Name, Problem: ProblemOutOfRange, Detail: "below minimum"}
		}
		if f.Max != nil && n > *f.Max {
			return &ValidationError{Field: f.Name, Problem: ProblemOutOfRange, Detail: "above maximum"}
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return &ValidationError{Field: f.Name, Problem: ProblemTypeMismatch, Detail: "expected boolean"}
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return &ValidationError{Field: f.Name, Problem: ProblemTypeMismatch, Detail: "expected object"}
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return &ValidationError{Field: f.Name, Problem: ProblemTypeMismatch, Detail: "expected array"}
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// InvocationError wraps a tool's underlying failure, tagged retryable per
// the tool's declared Retryable flag (§4.5).
type InvocationError struct {
	Underlying error
	Retryable  bool
}

func (e *InvocationError) Error() string { return e.Underlying.Error() }
func (e *InvocationError) Unwrap() error  { return e.Underlying }

// Runner invokes resolved tools after validating arguments, retrying once
// when the tool is declared Retryable and the first attempt fails.
type Runner struct{}

// NewRunner constructs a Runner; it is stateless.
func NewRunner() *Runner { return &Runner{} }

// Invoke validates args against t's schema, then calls t.Invoker with ictx.
// A retryable tool is re-run exactly once after an InvocationError.
func (r *Runner) Invoke(ctx context.Context, t Tool, ictx InvocationContext, args map[string]any) (any, error) {
	if err := Validate(t.ParamsSchema, args); err != nil {
		return nil, err
	}
	result, err := t.Invoker(ctx, ictx, args)
	if err == nil {
		return result, nil
	}
	invErr := &InvocationError{Underlying: err, Retryable: t.Retryable}
	if !t.Retryable {
		return nil, invErr
	}
	result, err = t.Invoker(ctx, ictx, args)
	if err != nil {
		return nil, &InvocationError{Underlying: err, Retryable: t.Retryable}
	}
	return result, nil
}

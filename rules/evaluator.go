package rules

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/liamcoop/simpleexpr/internal/logger"
)

// costLimit bounds the work a single evaluation may perform
const costLimit = 1000000

// Evaluator owns one binding table and one compiled expression bound to it.
// An Evaluator is never recompiled; reconfiguration builds a new one.
// Evaluator is safe for concurrent use.
type Evaluator struct {
	expression string
	normalized string
	bindings   *BindingTable
	program    cel.Program
	policy     TruthPolicy
	cache      ProgramCache
	mu         sync.Mutex
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithProgramCache shares compiled programs through cache
func WithProgramCache(cache ProgramCache) EvaluatorOption {
	return func(ev *Evaluator) {
		ev.cache = cache
	}
}

// NewEvaluator binds the declared datapoints with NaN placeholders and
// compiles expression against them. An identifier that is not declared in
// schema is a CompileError.
func NewEvaluator(expression string, schema []Datapoint, policy TruthPolicy, opts ...EvaluatorOption) (*Evaluator, error) {
	normalized, idents := Normalize(expression)
	if normalized == "" {
		return nil, &CompileError{Expression: expression, Message: "expression is empty"}
	}

	names := make([]string, 0, len(schema))
	for _, dp := range schema {
		if dp.Type.Valid() {
			names = append(names, dp.Name)
		}
	}

	ev := &Evaluator{
		expression: expression,
		normalized: normalized,
		bindings:   NewBindingTable(),
		policy:     policy,
	}
	for _, opt := range opts {
		opt(ev)
	}

	for _, name := range names {
		if err := ev.bindings.Upsert(name, math.NaN()); err != nil {
			// remaining names stay undeclared and fail compilation if referenced
			break
		}
	}

	for _, ident := range idents {
		if !ev.bindings.Has(ident) {
			return nil, &CompileError{
				Expression: expression,
				Message:    fmt.Sprintf("undeclared variable %q", ident),
			}
		}
	}

	if err := ev.compile(); err != nil {
		return nil, err
	}
	return ev, nil
}

func (ev *Evaluator) compile() error {
	key := ev.CacheKey()
	if ev.cache != nil {
		if prog, ok := ev.cache.Get(key); ok {
			ev.program = prog
			return nil
		}
	}

	env, err := NewEnv(ev.bindings.Names())
	if err != nil {
		return &CompileError{Expression: ev.expression, Message: err.Error()}
	}

	ast, issues := env.Compile(ev.normalized)
	if issues != nil && issues.Err() != nil {
		logger.Error("failed to compile expression", "expression", ev.expression, "error", issues.Err())
		return &CompileError{Expression: ev.expression, Message: issues.Err().Error()}
	}

	if !numericOrBool(ast.OutputType()) {
		return &CompileError{
			Expression: ev.expression,
			Message:    fmt.Sprintf("expression yields %s, want a number or a boolean", ast.OutputType()),
		}
	}

	prog, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return &CompileError{Expression: ev.expression, Message: fmt.Sprintf("program creation error: %v", err)}
	}

	ev.program = prog
	if ev.cache != nil {
		ev.cache.Set(key, prog)
	}
	return nil
}

// CacheKey identifies the compiled program: the normalized expression and
// the declared variables in order
func (ev *Evaluator) CacheKey() string {
	return ev.normalized + "\x00" + strings.Join(ev.bindings.Names(), ",")
}

func numericOrBool(t *cel.Type) bool {
	for _, want := range []*cel.Type{cel.BoolType, cel.DoubleType, cel.IntType, cel.UintType} {
		if t.IsExactType(want) {
			return true
		}
	}
	return false
}

// Expression returns the expression text as configured
func (ev *Evaluator) Expression() string {
	return ev.expression
}

// Variables returns the bound variable names in declaration order
func (ev *Evaluator) Variables() []string {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.bindings.Names()
}

// Policy returns the truthiness policy applied by Triggered
func (ev *Evaluator) Policy() TruthPolicy {
	return ev.policy
}

// Bind copies values into the binding table and reports how many
// landed in a declared slot. Undeclared names are skipped.
func (ev *Evaluator) Bind(values map[string]float64) int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.bindLocked(values)
}

func (ev *Evaluator) bindLocked(values map[string]float64) int {
	bound := 0
	for name, v := range values {
		if err := ev.bindings.Set(name, v); err != nil {
			logger.Trace("datapoint not referenced by expression", "datapoint", name)
			continue
		}
		bound++
	}
	return bound
}

// Evaluate computes the expression over the current bindings.
// Booleans map to 1 and 0; a non-finite result is an EvaluationError.
func (ev *Evaluator) Evaluate() (float64, error) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.evaluateLocked()
}

func (ev *Evaluator) evaluateLocked() (float64, error) {
	out, _, err := ev.program.Eval(ev.bindings)
	if err != nil {
		return math.NaN(), &EvaluationError{Value: math.NaN(), Err: err}
	}

	var v float64
	switch val := out.(type) {
	case types.Bool:
		if val {
			v = 1
		}
	case types.Double:
		v = float64(val)
	case types.Int:
		v = float64(val)
	case types.Uint:
		v = float64(val)
	default:
		return math.NaN(), &EvaluationError{
			Value: math.NaN(),
			Err:   fmt.Errorf("unexpected result type %s", out.Type()),
		}
	}

	logger.Debug("expression evaluated", "expression", ev.expression, "value", v)

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, &EvaluationError{Value: v, Err: ErrNonFinite}
	}
	return v, nil
}

// Triggered binds values, evaluates and applies the truthiness policy.
// Any evaluation error yields false.
func (ev *Evaluator) Triggered(values map[string]float64) (bool, error) {
	ev.mu.Lock()
	defer ev.mu.Unlock()

	ev.bindLocked(values)
	v, err := ev.evaluateLocked()
	if err != nil {
		return false, err
	}
	return ev.policy.Truthy(v), nil
}

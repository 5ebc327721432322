package rules

import (
	"errors"
	"fmt"
	"math"
)

// MaxVariables is the number of variables a single expression can bind
const MaxVariables = 20

// DatapointType is the declared numeric type of a datapoint
type DatapointType string

const (
	DatapointInteger DatapointType = "integer"
	DatapointFloat   DatapointType = "float"
)

// Valid reports whether the type is one the evaluator can bind
func (t DatapointType) Valid() bool {
	return t == DatapointInteger || t == DatapointFloat
}

// Datapoint is one entry of a declared datapoint schema
type Datapoint struct {
	Name string        `json:"name" yaml:"name"`
	Type DatapointType `json:"type" yaml:"type"`
}

// TruthPolicy decides how a numeric expression result maps to a trigger
type TruthPolicy int

const (
	// TruthNonZero triggers on any finite non-zero value
	TruthNonZero TruthPolicy = iota
	// TruthStrictOne triggers only on exactly 1.0
	TruthStrictOne
)

// DefaultTruthPolicy is used when a configuration does not pick one
const DefaultTruthPolicy = TruthNonZero

// ParseTruthPolicy maps a configuration string to a TruthPolicy
func ParseTruthPolicy(s string) (TruthPolicy, error) {
	switch s {
	case "", "nonzero":
		return TruthNonZero, nil
	case "strict", "strict_one":
		return TruthStrictOne, nil
	default:
		return DefaultTruthPolicy, fmt.Errorf("unknown truth policy %q (must be nonzero or strict)", s)
	}
}

func (p TruthPolicy) String() string {
	if p == TruthStrictOne {
		return "strict"
	}
	return "nonzero"
}

// Truthy applies the policy to a finite value
func (p TruthPolicy) Truthy(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if p == TruthStrictOne {
		return v == 1.0
	}
	return v != 0
}

var (
	// ErrCapacityExceeded is returned when a binding table has no free slot
	ErrCapacityExceeded = errors.New("binding table capacity exceeded")

	// ErrUnknownVariable is returned when updating a name that was never bound
	ErrUnknownVariable = errors.New("variable not bound")

	// ErrNonFinite marks an expression result that is NaN or infinite
	ErrNonFinite = errors.New("expression result is not finite")
)

// CompileError reports an expression that failed to parse or type-check
type CompileError struct {
	Expression string
	Message    string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error in %q: %s", e.Expression, e.Message)
}

// EvaluationError reports a cycle whose result could not be used
type EvaluationError struct {
	Asset string
	Value float64
	Err   error
}

func (e *EvaluationError) Error() string {
	if e.Asset == "" {
		return fmt.Sprintf("evaluation failed: %v", e.Err)
	}
	return fmt.Sprintf("evaluation failed for asset %s: %v", e.Asset, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

package rules

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// constants are predeclared in every environment
var constants = map[string]float64{
	"pi":      math.Pi,
	"e":       math.E,
	"epsilon": 1e-10,
	"inf":     math.Inf(1),
}

func isConstant(name string) bool {
	_, ok := constants[name]
	return ok
}

type unaryFn func(float64) float64
type binaryFn func(float64, float64) float64
type ternaryFn func(float64, float64, float64) float64

var unaryFunctions = map[string]unaryFn{
	"abs":     math.Abs,
	"sqrt":    math.Sqrt,
	"exp":     math.Exp,
	"log":     math.Log,
	"log10":   math.Log10,
	"log2":    math.Log2,
	"floor":   math.Floor,
	"ceil":    math.Ceil,
	"round":   math.Round,
	"trunc":   math.Trunc,
	"frac":    func(x float64) float64 { _, f := math.Modf(x); return f },
	"sgn":     sgn,
	"sin":     math.Sin,
	"cos":     math.Cos,
	"tan":     math.Tan,
	"asin":    math.Asin,
	"acos":    math.Acos,
	"atan":    math.Atan,
	"sinh":    math.Sinh,
	"cosh":    math.Cosh,
	"tanh":    math.Tanh,
	"deg2rad": func(x float64) float64 { return x * math.Pi / 180 },
	"rad2deg": func(x float64) float64 { return x * 180 / math.Pi },
}

var binaryFunctions = map[string]binaryFn{
	"pow":   math.Pow,
	"atan2": math.Atan2,
	"hypot": math.Hypot,
	"min":   math.Min,
	"max":   math.Max,
	"avg":   func(a, b float64) float64 { return (a + b) / 2 },
}

var ternaryFunctions = map[string]ternaryFn{
	"min":   func(a, b, c float64) float64 { return math.Min(a, math.Min(b, c)) },
	"max":   func(a, b, c float64) float64 { return math.Max(a, math.Max(b, c)) },
	"avg":   func(a, b, c float64) float64 { return (a + b + c) / 3 },
	"clamp": func(lo, x, hi float64) float64 { return math.Max(lo, math.Min(x, hi)) },
	"inrange": func(lo, x, hi float64) float64 {
		if lo <= x && x <= hi {
			return 1
		}
		return 0
	},
}

func sgn(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return x
	}
}

// IsReservedName reports whether name is taken by a constant or a function
func IsReservedName(name string) bool {
	if isConstant(name) || name == "cond" {
		return true
	}
	if _, ok := unaryFunctions[name]; ok {
		return true
	}
	if _, ok := binaryFunctions[name]; ok {
		return true
	}
	_, ok := ternaryFunctions[name]
	return ok
}

// FunctionNames lists every function available to expressions
func FunctionNames() []string {
	set := map[string]bool{"cond": true}
	for name := range unaryFunctions {
		set[name] = true
	}
	for name := range binaryFunctions {
		set[name] = true
	}
	for name := range ternaryFunctions {
		set[name] = true
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewEnv creates a CEL environment declaring every variable as a double
// along with the constant set and the math library
func NewEnv(variables []string) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.CrossTypeNumericComparisons(true),
	}

	for name, value := range constants {
		opts = append(opts, cel.Constant(name, cel.DoubleType, types.Double(value)))
	}
	for _, name := range variables {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	opts = append(opts, mathLibrary()...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func mathLibrary() []cel.EnvOption {
	var opts []cel.EnvOption

	opts = append(opts, cel.Function("cond",
		cel.Overload("cond_bool_double_double",
			[]*cel.Type{cel.BoolType, cel.DoubleType, cel.DoubleType}, cel.DoubleType,
			cel.FunctionBinding(func(args ...ref.Val) ref.Val {
				if args[0] == types.True {
					return args[1]
				}
				return args[2]
			}),
		),
		cel.Overload("cond_double_double_double",
			[]*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType}, cel.DoubleType,
			cel.FunctionBinding(func(args ...ref.Val) ref.Val {
				if float64(args[0].(types.Double)) != 0 {
					return args[1]
				}
				return args[2]
			}),
		),
	))

	// the standard % only covers integers; literals are doubles here
	opts = append(opts, cel.Function(operators.Modulo,
		cel.Overload("modulo_double_double",
			[]*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				return types.Double(math.Mod(float64(lhs.(types.Double)), float64(rhs.(types.Double))))
			}),
		),
	))

	for name, fn := range unaryFunctions {
		fn := fn
		opts = append(opts, cel.Function(name,
			cel.Overload(name+"_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Double(fn(float64(v.(types.Double))))
				}),
			),
		))
	}

	// min, max and avg take two or three arguments, so overloads are grouped per name
	overloads := make(map[string][]cel.FunctionOpt)
	for name, fn := range binaryFunctions {
		fn := fn
		overloads[name] = append(overloads[name],
			cel.Overload(name+"_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					return types.Double(fn(float64(lhs.(types.Double)), float64(rhs.(types.Double))))
				}),
			))
	}
	for name, fn := range ternaryFunctions {
		fn := fn
		overloads[name] = append(overloads[name],
			cel.Overload(name+"_double_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					return types.Double(fn(
						float64(args[0].(types.Double)),
						float64(args[1].(types.Double)),
						float64(args[2].(types.Double)),
					))
				}),
			))
	}
	for name, fns := range overloads {
		opts = append(opts, cel.Function(name, fns...))
	}

	return opts
}

package validation

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/spf13/cast"

	"specforge/internal/metadata"
	"specforge/pkg/logger"
)

// constraintCostLimit bounds the evaluation cost of a single constraint.
const constraintCostLimit = 100000

// errorFunction is the callback a constraint calls to report failing fields
// under its own code: error(['a', 'b'], 'code').
const errorFunction = "error"

// Constraints compiles and evaluates entity constraints written in CEL.
// An expression evaluates to true when satisfied, false when violated, or
// to the result of error(fields, code) to name the failing fields itself.
// Programs are cached per compiled entity and are safe for concurrent use.
type Constraints struct {
	mu       sync.Mutex
	programs map[*metadata.Entity]map[string]cel.Program
}

// NewConstraints creates an empty constraint cache.
func NewConstraints() *Constraints {
	return &Constraints{programs: make(map[*metadata.Entity]map[string]cel.Program)}
}

// CheckConstraint compiles a constraint without evaluating it. It is meant
// for metadata.WithConstraintCheck so broken expressions fail the compile.
func CheckConstraint(e *metadata.Entity, c metadata.Constraint) error {
	_, err := compile(e, c)
	return err
}

func environment(e *metadata.Entity) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.CrossTypeNumericComparisons(true),
		cel.Function(errorFunction,
			cel.Overload("error_list_string",
				[]*cel.Type{cel.ListType(cel.StringType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(reportError),
			),
		),
	}
	for _, col := range e.Columns {
		opts = append(opts, cel.Variable(col.Name, cel.DynType))
	}
	for _, fk := range e.ForeignKeys {
		opts = append(opts, cel.Variable(fk.Name, cel.DynType))
	}
	return cel.NewEnv(opts...)
}

func compile(e *metadata.Entity, c metadata.Constraint) (cel.Program, error) {
	env, err := environment(e)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(c.Expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("constraint %s: %w", c.Code, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("constraint %s: expression must be boolean, got %s", c.Code, out)
	}
	prg, err := env.Program(ast, cel.CostLimit(constraintCostLimit), cel.EvalOptions(cel.OptTrackCost))
	if err != nil {
		return nil, fmt.Errorf("constraint %s: %w", c.Code, err)
	}
	return prg, nil
}

func reportError(fields, code ref.Val) ref.Val {
	names, err := fields.ConvertToNative(reflect.TypeOf([]string{}))
	if err != nil {
		return types.WrapErr(err)
	}
	return types.DefaultTypeAdapter.NativeToValue(map[string]any{
		"fields": names,
		"code":   code.Value(),
	})
}

func (cs *Constraints) program(e *metadata.Entity, c metadata.Constraint) (cel.Program, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	byCode, ok := cs.programs[e]
	if !ok {
		byCode = make(map[string]cel.Program)
		cs.programs[e] = byCode
	}
	if prg, ok := byCode[c.Code]; ok {
		return prg, nil
	}
	prg, err := compile(e, c)
	if err != nil {
		return nil, err
	}
	byCode[c.Code] = prg
	return prg, nil
}

// Evaluate runs every constraint of e against coerced column values.
// Constraints naming an empty field are skipped; required checks report
// those.
func (cs *Constraints) Evaluate(ctx context.Context, e *metadata.Entity, values map[string]any) []Failure {
	if len(e.Constraints) == 0 {
		return nil
	}

	activation := make(map[string]any, len(e.Columns)+len(e.ForeignKeys))
	for _, col := range e.Columns {
		activation[col.Name] = values[col.Name]
	}
	for _, fk := range e.ForeignKeys {
		activation[fk.Name] = values[fk.Column]
	}

	var failures []Failure
	for _, c := range e.Constraints {
		if !complete(c, values) {
			continue
		}
		failures = append(failures, cs.evaluate(ctx, e, c, activation)...)
	}
	return failures
}

func (cs *Constraints) evaluate(ctx context.Context, e *metadata.Entity, c metadata.Constraint, activation map[string]any) []Failure {
	violation := func(fields []string, code, msg string) []Failure {
		out := make([]Failure, len(fields))
		for i, f := range fields {
			out[i] = Failure{Field: f, Bit: BitConstraint, Code: code, Message: msg}
		}
		return out
	}

	prg, err := cs.program(e, c)
	if err != nil {
		logger.Error(ctx, "constraint does not compile", "entity", e.Name, "code", c.Code, "error", err)
		return violation(c.Fields, c.Code, err.Error())
	}
	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return violation(c.Fields, c.Code, fmt.Sprintf("constraint %s failed: %v", c.Code, err))
	}

	switch v := out.Value().(type) {
	case bool:
		if v {
			return nil
		}
		return violation(c.Fields, c.Code, fmt.Sprintf("constraint %s violated: %s", c.Code, c.Expr))
	case map[string]any:
		fields := cast.ToStringSlice(v["fields"])
		code := cast.ToString(v["code"])
		if len(fields) == 0 {
			fields = c.Fields
		}
		if code == "" {
			code = c.Code
		}
		return violation(storageNames(e, fields), code, fmt.Sprintf("constraint %s reported %s", c.Code, code))
	default:
		return violation(c.Fields, c.Code, fmt.Sprintf("constraint %s returned %v, want bool", c.Code, out))
	}
}

func complete(c metadata.Constraint, values map[string]any) bool {
	for _, f := range c.Fields {
		if metadata.IsEmpty(values[f]) {
			return false
		}
	}
	return true
}

// storageNames maps FK conceptual names reported by error(...) to columns.
func storageNames(e *metadata.Entity, fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f
		if fk, ok := e.ForeignKey(f); ok {
			out[i] = fk.Column
		}
	}
	return out
}

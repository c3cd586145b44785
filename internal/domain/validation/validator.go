// Package validation checks records against the rules of a compiled entity.
package validation

import (
	"context"
	"fmt"

	"specforge/internal/core/types"
	"specforge/internal/domain"
	"specforge/internal/metadata"
)

// Bit is one deficit category of the quality bitmask.
type Bit int

const (
	// BitInvalid marks a pattern, enum, range or type failure.
	BitInvalid Bit = 1
	// BitRequired marks an empty required non-FK field.
	BitRequired Bit = 2
	// BitRequiredFK marks an empty required FK field.
	BitRequiredFK Bit = 4
	// BitUnresolvedFK marks an FK label that resolved to no row.
	BitUnresolvedFK Bit = 8
	// BitConstraint marks a failed cross-field constraint.
	BitConstraint Bit = 16
)

// AllBits is the union of every defined category.
const AllBits = BitInvalid | BitRequired | BitRequiredFK | BitUnresolvedFK | BitConstraint

// Failure is one field rule violation.
type Failure struct {
	Field   string `json:"field"`
	Bit     Bit    `json:"bit"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator runs the full rule set of an entity against a record whose FKs
// are already resolved to ids under their storage names.
type Validator interface {
	Validate(ctx context.Context, e *metadata.Entity, rec domain.Record) []Failure
}

// Rules is the default Validator: per column type checks plus the entity's
// CEL constraints.
type Rules struct {
	constraints *Constraints
}

// NewRules creates the default validator.
func NewRules() *Rules {
	return &Rules{constraints: NewConstraints()}
}

var _ Validator = (*Rules)(nil)

// Validate returns the failures in column order, constraint failures last.
func (r *Rules) Validate(ctx context.Context, e *metadata.Entity, rec domain.Record) []Failure {
	var failures []Failure
	values := make(map[string]any, len(e.Columns))

	for _, c := range e.DataColumns() {
		if c.Computed != nil {
			continue
		}
		v := rec[c.Name]
		if metadata.IsEmpty(v) {
			if c.Required() {
				failures = append(failures, requiredFailure(c))
			}
			continue
		}
		coerced, f := CheckColumn(c, v)
		if f != nil {
			failures = append(failures, *f)
			continue
		}
		values[c.Name] = coerced
	}

	return append(failures, r.constraints.Evaluate(ctx, e, values)...)
}

func requiredFailure(c *metadata.Column) Failure {
	if c.FK != nil {
		return Failure{Field: c.Name, Bit: BitRequiredFK, Message: fmt.Sprintf("required reference to %s is empty", c.FK.Target)}
	}
	return Failure{Field: c.Name, Bit: BitRequired, Message: "required value is empty"}
}

// CheckColumn coerces a non-empty value to the column's scalar and checks
// its type rules. It returns the stored form of the value or a failure.
func CheckColumn(c *metadata.Column, v any) (any, *Failure) {
	fail := func(format string, args ...any) (any, *Failure) {
		return nil, &Failure{Field: c.Name, Bit: BitInvalid, Message: fmt.Sprintf(format, args...)}
	}

	if c.FK != nil {
		rid, err := metadata.Coerce(metadata.ScalarInteger, v)
		if err != nil {
			return fail("reference to %s is not an id: %v", c.FK.Target, v)
		}
		return rid, nil
	}

	coerced, err := metadata.Coerce(c.Scalar, v)
	if err != nil {
		return fail("%v is not a valid %s", v, c.Scalar)
	}

	switch c.Type.Kind {
	case metadata.KindPattern:
		s := coerced.(string)
		if !c.Type.Pattern.Regex.MatchString(s) {
			return fail("%q does not match %s (%s)", s, c.Type.Name, c.Type.Pattern.Source)
		}
	case metadata.KindEnum:
		internal, ok := c.Type.Enum.Normalize(coerced.(string))
		if !ok {
			return fail("%q is not a value of %s", coerced, c.Type.Name)
		}
		coerced = internal
	}

	if !c.Range.IsZero() && (c.Scalar == metadata.ScalarInteger || c.Scalar == metadata.ScalarReal) {
		n, err := types.ParseNumber(fmt.Sprint(coerced))
		if err != nil {
			return fail("%v is not a number", coerced)
		}
		if !c.Range.Contains(n) {
			return fail("%s is outside %s", n, c.Range)
		}
	}
	return coerced, nil
}

// Normalize returns rec with every valid value in its stored form. Invalid
// and empty values are kept as given.
func Normalize(e *metadata.Entity, rec domain.Record) domain.Record {
	out := rec.Clone()
	for _, c := range e.DataColumns() {
		v, ok := rec[c.Name]
		if !ok || metadata.IsEmpty(v) {
			continue
		}
		if coerced, f := CheckColumn(c, v); f == nil {
			out[c.Name] = coerced
		}
	}
	return out
}

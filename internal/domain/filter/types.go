// Package filter describes column predicates of store reads.
package filter

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// ComparisonType is the kind of comparison of one predicate.
type ComparisonType string

const (
	Equal          ComparisonType = "eq"
	NotEqual       ComparisonType = "neq"
	LessOrEqual    ComparisonType = "lte"
	GreaterOrEqual ComparisonType = "gte"
	InList         ComparisonType = "in"
	Contains       ComparisonType = "contains" // case-insensitive substring
	IsNull         ComparisonType = "null"
	IsNotNull      ComparisonType = "not_null"
)

// Item is one predicate on a storage column.
type Item struct {
	Field    string         `json:"field"`
	Operator ComparisonType `json:"operator"`
	Value    any            `json:"value"`
}

// Eq builds an equality predicate.
func Eq(field string, value any) Item {
	return Item{Field: field, Operator: Equal, Value: value}
}

// Validate checks the operator and the value shape.
func (i Item) Validate() error {
	if i.Field == "" {
		return fmt.Errorf("filter has no field")
	}
	switch i.Operator {
	case Equal, NotEqual, LessOrEqual, GreaterOrEqual, Contains:
		if i.Value == nil {
			return fmt.Errorf("filter %s %s needs a value", i.Field, i.Operator)
		}
	case InList:
		if _, ok := listValues(i.Value); !ok {
			return fmt.Errorf("filter %s in: value must be a list", i.Field)
		}
	case IsNull, IsNotNull:
	default:
		return fmt.Errorf("unknown filter operator %q", i.Operator)
	}
	return nil
}

// Match evaluates the predicate against an in-memory value. Values are
// compared loosely so an int64 column matches a JSON float filter.
func (i Item) Match(v any) bool {
	switch i.Operator {
	case IsNull:
		return v == nil
	case IsNotNull:
		return v != nil
	case Equal:
		return looseEqual(v, i.Value)
	case NotEqual:
		return !looseEqual(v, i.Value)
	case InList:
		list, _ := listValues(i.Value)
		for _, candidate := range list {
			if looseEqual(v, candidate) {
				return true
			}
		}
		return false
	case Contains:
		return strings.Contains(strings.ToLower(cast.ToString(v)), strings.ToLower(cast.ToString(i.Value)))
	case LessOrEqual, GreaterOrEqual:
		a, errA := cast.ToFloat64E(v)
		b, errB := cast.ToFloat64E(i.Value)
		if errA != nil || errB != nil {
			c := strings.Compare(cast.ToString(v), cast.ToString(i.Value))
			if i.Operator == LessOrEqual {
				return c <= 0
			}
			return c >= 0
		}
		if i.Operator == LessOrEqual {
			return a <= b
		}
		return a >= b
	}
	return false
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		_, aStr := a.(string)
		_, bStr := b.(string)
		if !aStr && !bStr {
			return fa == fb
		}
	}
	return cast.ToString(a) == cast.ToString(b)
}

// ListValues returns the elements of an InList value.
func (i Item) ListValues() []any {
	list, _ := listValues(i.Value)
	return list
}

func listValues(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

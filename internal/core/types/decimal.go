// Package types provides common value types shared by the compiler and the
// validation layer.
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Number is an exact numeric value. Range bounds and real-typed attributes
// are compared as decimals so that MIN=0.1 behaves the way it reads.
type Number = decimal.Decimal

// ParseNumber parses a textual number, tolerating a decimal comma.
func ParseNumber(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty number")
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(s)
}

// MustNumber parses s, panics on error.
// Use only for constants and tests.
func MustNumber(s string) Number {
	d, err := ParseNumber(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Range is an inclusive numeric interval; a nil end is open.
type Range struct {
	Min *Number `json:"min,omitempty"`
	Max *Number `json:"max,omitempty"`
}

// IsZero reports whether the range has no bounds at all.
func (r Range) IsZero() bool {
	return r.Min == nil && r.Max == nil
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v Number) bool {
	if r.Min != nil && v.LessThan(*r.Min) {
		return false
	}
	if r.Max != nil && v.GreaterThan(*r.Max) {
		return false
	}
	return true
}

// Clamp returns the nearest value inside the range.
func (r Range) Clamp(v Number) Number {
	if r.Min != nil && v.LessThan(*r.Min) {
		return *r.Min
	}
	if r.Max != nil && v.GreaterThan(*r.Max) {
		return *r.Max
	}
	return v
}

func (r Range) String() string {
	lo, hi := "-inf", "+inf"
	if r.Min != nil {
		lo = r.Min.String()
	}
	if r.Max != nil {
		hi = r.Max.String()
	}
	return fmt.Sprintf("[%s, %s]", lo, hi)
}

package metadata

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"

	"specforge/internal/core/types"
)

// TypeKind is the closed set of type variants.
type TypeKind int

const (
	KindBuiltIn TypeKind = iota
	KindPattern
	KindEnum
	KindAggregate
)

func (k TypeKind) String() string {
	switch k {
	case KindBuiltIn:
		return "builtin"
	case KindPattern:
		return "pattern"
	case KindEnum:
		return "enum"
	case KindAggregate:
		return "aggregate"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Scalar is the storage-level kind of a single column.
type Scalar string

const (
	ScalarInteger Scalar = "integer"
	ScalarReal    Scalar = "real"
	ScalarText    Scalar = "text"
	ScalarDate    Scalar = "date"
	ScalarBoolean Scalar = "boolean"
)

// DateLayout is the exchange format of date values.
const DateLayout = "2006-01-02"

// NeutralDate is the placeholder stored for defective dates.
const NeutralDate = "1900-01-01"

var builtinAliases = map[string]Scalar{
	"integer": ScalarInteger,
	"int":     ScalarInteger,
	"real":    ScalarReal,
	"float":   ScalarReal,
	"number":  ScalarReal,
	"decimal": ScalarReal,
	"text":    ScalarText,
	"string":  ScalarText,
	"date":    ScalarDate,
	"boolean": ScalarBoolean,
	"bool":    ScalarBoolean,
}

// LookupScalar resolves a built-in type name or alias.
func LookupScalar(name string) (Scalar, bool) {
	s, ok := builtinAliases[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Type is a resolved, immutable type. Exactly one of Pattern, Enum and
// Aggregate is set for the matching Kind; built-ins carry none.
type Type struct {
	Name      string
	Kind      TypeKind
	Scalar    Scalar
	Pattern   *PatternType
	Enum      *EnumType
	Aggregate *AggregateType
}

// PatternType is a text type constrained by a regular expression.
type PatternType struct {
	Source  string
	Regex   *regexp.Regexp
	Example string
}

// EnumValue maps a stored internal value to its display form.
type EnumValue struct {
	Internal    string `yaml:"internal" json:"internal"`
	External    string `yaml:"external" json:"external"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// EnumType is an ordered list of allowed values.
type EnumType struct {
	Values []EnumValue
}

// Normalize maps an internal or external value to the internal one.
func (e *EnumType) Normalize(v string) (string, bool) {
	for _, ev := range e.Values {
		if ev.Internal == v {
			return ev.Internal, true
		}
	}
	for _, ev := range e.Values {
		if strings.EqualFold(ev.External, v) {
			return ev.Internal, true
		}
	}
	return "", false
}

// External returns the display value for an internal value.
func (e *EnumType) External(internal string) (string, bool) {
	for _, ev := range e.Values {
		if ev.Internal == internal {
			return ev.External, true
		}
	}
	return "", false
}

// AggregateField is one sub-field of an aggregate type.
type AggregateField struct {
	Name   string
	Scalar Scalar
}

// AggregateType is a composite group of scalar sub-fields stored as one
// column per sub-field.
type AggregateType struct {
	Fields []AggregateField
	Render string
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// RenderValues renders sub-field values with the canonical template.
// Without a template the non-empty values are joined by ", ".
func (a *AggregateType) RenderValues(values map[string]any) string {
	if a.Render == "" {
		parts := make([]string, 0, len(a.Fields))
		for _, f := range a.Fields {
			if s := cast.ToString(values[f.Name]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return strings.TrimSpace(placeholderRe.ReplaceAllStringFunc(a.Render, func(m string) string {
		return cast.ToString(values[m[1:len(m)-1]])
	}))
}

// Field returns the sub-field with the given name.
func (a *AggregateType) Field(name string) (AggregateField, bool) {
	for _, f := range a.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return AggregateField{}, false
}

// BuiltIn returns the built-in type for a scalar.
func BuiltIn(s Scalar) *Type {
	return builtins[s]
}

var builtins = map[Scalar]*Type{
	ScalarInteger: {Name: string(ScalarInteger), Kind: KindBuiltIn, Scalar: ScalarInteger},
	ScalarReal:    {Name: string(ScalarReal), Kind: KindBuiltIn, Scalar: ScalarReal},
	ScalarText:    {Name: string(ScalarText), Kind: KindBuiltIn, Scalar: ScalarText},
	ScalarDate:    {Name: string(ScalarDate), Kind: KindBuiltIn, Scalar: ScalarDate},
	ScalarBoolean: {Name: string(ScalarBoolean), Kind: KindBuiltIn, Scalar: ScalarBoolean},
}

// NeutralScalar is the placeholder value for a defective field of scalar s.
func NeutralScalar(s Scalar) any {
	switch s {
	case ScalarInteger:
		return int64(0)
	case ScalarReal:
		return float64(0)
	case ScalarDate:
		return NeutralDate
	case ScalarBoolean:
		return false
	default:
		return ""
	}
}

// Neutral is the placeholder value for a defective field of type t:
// the first enum value, the pattern example, or the scalar neutral.
func (t *Type) Neutral() any {
	switch t.Kind {
	case KindEnum:
		if len(t.Enum.Values) > 0 {
			return t.Enum.Values[0].Internal
		}
	case KindPattern:
		return t.Pattern.Example
	}
	return NeutralScalar(t.Scalar)
}

// Coerce converts a loose exchange value into the Go value stored for
// scalar s. Empty strings are an error; callers check emptiness first.
func Coerce(s Scalar, v any) (any, error) {
	switch s {
	case ScalarInteger:
		if str, ok := v.(string); ok {
			n, err := types.ParseNumber(str)
			if err != nil {
				return nil, err
			}
			if !n.IsInteger() {
				return nil, fmt.Errorf("%q is not an integer", str)
			}
			return n.IntPart(), nil
		}
		return cast.ToInt64E(v)
	case ScalarReal:
		if str, ok := v.(string); ok {
			n, err := types.ParseNumber(str)
			if err != nil {
				return nil, err
			}
			return n.InexactFloat64(), nil
		}
		return cast.ToFloat64E(v)
	case ScalarBoolean:
		if str, ok := v.(string); ok {
			switch strings.ToLower(strings.TrimSpace(str)) {
			case "yes", "y", "ja", "x":
				return true, nil
			case "no", "n", "nein", "":
				return false, nil
			}
		}
		return cast.ToBoolE(v)
	case ScalarDate:
		if str, ok := v.(string); ok {
			str = strings.TrimSpace(str)
			if t, err := time.Parse("02.01.2006", str); err == nil {
				return t.Format(DateLayout), nil
			}
			v = str
		}
		t, err := cast.ToTimeE(v)
		if err != nil {
			return nil, err
		}
		return t.Format(DateLayout), nil
	default:
		return cast.ToStringE(v)
	}
}

// IsEmpty reports whether an exchange value counts as absent.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

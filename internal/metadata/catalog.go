package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"specforge/internal/core/apperror"
)

// catalogFile is the YAML layout of the type catalogue.
type catalogFile struct {
	Patterns []struct {
		Name    string `yaml:"name"`
		Regex   string `yaml:"regex"`
		Example string `yaml:"example"`
	} `yaml:"patterns"`
	Enums []struct {
		Name   string      `yaml:"name"`
		Values []EnumValue `yaml:"values"`
	} `yaml:"enums"`
	Aggregates []struct {
		Name   string `yaml:"name"`
		Render string `yaml:"render"`
		Fields []struct {
			Name string `yaml:"name"`
			Type string `yaml:"type"`
		} `yaml:"fields"`
	} `yaml:"aggregates"`
}

// Catalog holds the declared pattern, enum and aggregate types.
// A Catalog is immutable once loaded; changes require a fresh load.
type Catalog struct {
	types map[string]*Type
	names []string
}

// NewCatalog returns a catalogue with no declared types.
func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]*Type)}
}

var typeNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// LoadCatalogFile reads a YAML catalogue from disk. An empty path yields an
// empty catalogue.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.NewCatalog("", "cannot read type catalogue").
			WithDetail("path", path).WithCause(err)
	}
	return LoadCatalog(bytes.NewReader(data))
}

// LoadCatalog parses and validates a YAML catalogue.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperror.NewCatalog("", "invalid catalogue YAML").WithCause(err)
	}

	c := NewCatalog()
	for _, p := range f.Patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, apperror.NewCatalog(p.Name, "invalid pattern regex").WithCause(err)
		}
		if p.Example != "" && !re.MatchString(p.Example) {
			return nil, apperror.NewCatalog(p.Name, fmt.Sprintf("example %q does not match its own pattern", p.Example))
		}
		if err := c.add(&Type{
			Name:    p.Name,
			Kind:    KindPattern,
			Scalar:  ScalarText,
			Pattern: &PatternType{Source: p.Regex, Regex: re, Example: p.Example},
		}); err != nil {
			return nil, err
		}
	}

	for _, e := range f.Enums {
		if len(e.Values) == 0 {
			return nil, apperror.NewCatalog(e.Name, "enum has no values")
		}
		seen := make(map[string]bool, len(e.Values))
		values := make([]EnumValue, len(e.Values))
		for i, v := range e.Values {
			if v.Internal == "" {
				return nil, apperror.NewCatalog(e.Name, fmt.Sprintf("enum value %d has no internal value", i+1))
			}
			if seen[v.Internal] {
				return nil, apperror.NewCatalog(e.Name, fmt.Sprintf("duplicate enum value %q", v.Internal))
			}
			seen[v.Internal] = true
			if v.External == "" {
				v.External = v.Internal
			}
			values[i] = v
		}
		if err := c.add(&Type{
			Name:   e.Name,
			Kind:   KindEnum,
			Scalar: ScalarText,
			Enum:   &EnumType{Values: values},
		}); err != nil {
			return nil, err
		}
	}

	for _, a := range f.Aggregates {
		if len(a.Fields) == 0 {
			return nil, apperror.NewCatalog(a.Name, "aggregate has no fields")
		}
		agg := &AggregateType{Render: a.Render}
		seen := make(map[string]bool, len(a.Fields))
		for _, fld := range a.Fields {
			if !typeNameRe.MatchString(fld.Name) {
				return nil, apperror.NewCatalog(a.Name, fmt.Sprintf("invalid sub-field name %q", fld.Name))
			}
			if seen[fld.Name] {
				return nil, apperror.NewCatalog(a.Name, fmt.Sprintf("duplicate sub-field %q", fld.Name))
			}
			seen[fld.Name] = true
			scalar, ok := LookupScalar(fld.Type)
			if !ok {
				return nil, apperror.NewCatalog(a.Name, fmt.Sprintf("sub-field %q has non-scalar type %q", fld.Name, fld.Type))
			}
			agg.Fields = append(agg.Fields, AggregateField{Name: fld.Name, Scalar: scalar})
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(a.Render, -1) {
			if !seen[m[1]] {
				return nil, apperror.NewCatalog(a.Name, fmt.Sprintf("render placeholder {%s} names no sub-field", m[1]))
			}
		}
		if err := c.add(&Type{Name: a.Name, Kind: KindAggregate, Aggregate: agg}); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Catalog) add(t *Type) error {
	if !typeNameRe.MatchString(t.Name) {
		return apperror.NewCatalog(t.Name, "invalid type name")
	}
	if _, builtin := LookupScalar(t.Name); builtin {
		return apperror.NewCatalog(t.Name, "type name collides with a built-in type")
	}
	key := strings.ToLower(t.Name)
	if prev, dup := c.types[key]; dup {
		return apperror.NewCatalog(t.Name, fmt.Sprintf("type already declared as %s", prev.Kind))
	}
	c.types[key] = t
	c.names = append(c.names, t.Name)
	return nil
}

// Resolve looks a type name up: built-ins first, then declared types.
func (c *Catalog) Resolve(name string) (*Type, bool) {
	if s, ok := LookupScalar(name); ok {
		return BuiltIn(s), true
	}
	t, ok := c.types[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Declared reports whether name is a declared (non built-in) type.
func (c *Catalog) Declared(name string) bool {
	_, ok := c.types[strings.ToLower(name)]
	return ok
}

// Types lists declared types sorted by name.
func (c *Catalog) Types() []*Type {
	names := append([]string(nil), c.names...)
	sort.Strings(names)
	out := make([]*Type, 0, len(names))
	for _, n := range names {
		out = append(out, c.types[strings.ToLower(n)])
	}
	return out
}

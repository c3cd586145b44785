// Package specdoc parses entity specification documents.
//
// One Markdown document describes one entity: a "# Name" heading, an
// optional "Area:" line, entity-level directives and an attribute table
// whose Type and Description cells may carry bracket annotations.
package specdoc

// Document is the intermediate form of one entity document.
type Document struct {
	Name   string
	Source string
	Area   Area
	// Label is the entity-level LABEL=concat(...) expression, if any.
	Label       []LabelPart
	Attributes  []Attribute
	Constraints []Constraint
	// Bridge, Generator and Completion are opaque section bodies.
	Bridge     string
	Generator  string
	Completion string
}

// Area is the grouping and colour of an entity; carried through untouched.
type Area struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// Attribute is one row of the attribute table.
type Attribute struct {
	Name        string
	TypeName    string
	Description string
	Example     string
	Annotations []Annotation
	Line        int
}

// Has reports whether the attribute carries an annotation of kind k.
func (a Attribute) Has(k AnnotationKind) bool {
	_, ok := a.Find(k)
	return ok
}

// Find returns the first annotation of kind k.
func (a Attribute) Find(k AnnotationKind) (Annotation, bool) {
	for _, ann := range a.Annotations {
		if ann.Kind == k {
			return ann, true
		}
	}
	return Annotation{}, false
}

// Constraint is a cross-field rule from the Constraints section.
// Expr is evaluated by the validation layer; a false result flags Fields.
type Constraint struct {
	Code   string
	Fields []string
	Expr   string
	Line   int
}

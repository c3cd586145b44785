package metadata

import (
	"slices"
	"strings"
	"time"

	"specforge/internal/core/id"
	"specforge/internal/core/types"
	"specforge/internal/specdoc"
)

// NullRecordID is the id reserved for the null reference record of every table.
const NullRecordID = id.Null

// System column names present on every table.
const (
	ColID  = "id"
	ColQL  = "_ql"
	ColQD  = "_qd"
	ColSys = "_sys"
)

// FKSuffix is appended to the conceptual name of a foreign key column.
const FKSuffix = "_id"

// IsSystemColumn reports whether name is one of the engine-managed columns.
func IsSystemColumn(name string) bool {
	switch name {
	case ColID, ColQL, ColQD, ColSys:
		return true
	}
	return false
}

// Schema is an immutable compiled snapshot. Never mutate a Schema that has
// been handed to a Registry; compile a new one instead.
type Schema struct {
	Version    int64
	CompiledAt time.Time
	Catalog    *Catalog
	// Order lists entity names with FK targets before the entities
	// referencing them.
	Order []string

	entities map[string]*Entity
}

// Entity returns an entity by name (case-insensitive) or table name.
func (s *Schema) Entity(name string) (*Entity, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.entities[strings.ToLower(name)]
	return e, ok
}

// Entities returns all entities in dependency order.
func (s *Schema) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.Order))
	for _, n := range s.Order {
		out = append(out, s.entities[strings.ToLower(n)])
	}
	return out
}

// ComputedRules lists every computed-field rule of the schema.
func (s *Schema) ComputedRules() []*ComputedRule {
	var out []*ComputedRule
	for _, e := range s.Entities() {
		out = append(out, e.Computed...)
	}
	return out
}

// Entity is one compiled table definition.
type Entity struct {
	Name   string
	Table  string
	Source string
	Area   specdoc.Area
	// Position is the document order, used to keep sorting stable.
	Position int

	Columns     []*Column
	ForeignKeys []*ForeignKey
	Inbound     []InboundRef
	UniqueKeys  []KeyGroup
	Indexes     []KeyGroup
	Label       *LabelExpr
	Computed    []*ComputedRule
	Constraints []Constraint
	View        ViewSpec

	Bridge     string
	Generator  string
	Completion string

	columns map[string]*Column
	fks     map[string]*ForeignKey
}

// Column returns a column by storage name.
func (e *Entity) Column(name string) (*Column, bool) {
	c, ok := e.columns[strings.ToLower(name)]
	return c, ok
}

// ForeignKey returns the FK addressed by its conceptual or storage name.
func (e *Entity) ForeignKey(name string) (*ForeignKey, bool) {
	fk, ok := e.fks[strings.ToLower(name)]
	return fk, ok
}

// DataColumns returns the non-system columns in declaration order.
func (e *Entity) DataColumns() []*Column {
	out := make([]*Column, 0, len(e.Columns))
	for _, c := range e.Columns {
		if !c.System {
			out = append(out, c)
		}
	}
	return out
}

// ColumnNames returns all storage column names in declaration order.
func (e *Entity) ColumnNames() []string {
	out := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		out[i] = c.Name
	}
	return out
}

// UpsertKey returns the columns identifying a record for update-or-insert:
// the first unique key group, else the primary label column.
func (e *Entity) UpsertKey() []string {
	if len(e.UniqueKeys) > 0 {
		return e.UniqueKeys[0].Columns
	}
	if e.Label != nil && e.Label.Column != "" {
		return []string{e.Label.Column}
	}
	return nil
}

// HasConcatLabel reports whether the label is a concat(...) expression.
func (e *Entity) HasConcatLabel() bool {
	return e.Label != nil && e.Label.IsConcat()
}

// Column is one storage column.
type Column struct {
	Name string
	// Attribute is the document attribute the column came from.
	Attribute string
	Type      *Type
	// Scalar is the storage kind; FK columns are integers.
	Scalar   Scalar
	Nullable bool
	Default  *string
	System   bool
	Unique   bool
	Range    types.Range
	// NullValue is the [NULL=x] override of the neutral value, already coerced.
	NullValue any
	Label     bool
	Label2    bool
	FK        *ForeignKey
	Aggregate *AggregateRef
	Computed  *ComputedRule
	UI        UIHints
	Example   string
	Position  int
}

// Required reports whether an empty value is a deficit.
// Computed columns are filled by their rule and are never required.
func (c *Column) Required() bool {
	return !c.Nullable && !c.System && c.Computed == nil
}

// Neutral returns the placeholder stored for a defective value.
func (c *Column) Neutral() any {
	if c.FK != nil {
		return NullRecordID
	}
	if c.NullValue != nil {
		return c.NullValue
	}
	if c.Aggregate != nil {
		return NeutralScalar(c.Scalar)
	}
	return c.Type.Neutral()
}

// AggregateRef points a generated column back at its aggregate attribute.
type AggregateRef struct {
	Source string
	Field  string
	Type   string
}

// UIHints are carried through for front ends; the engine never reads them.
type UIHints struct {
	Truncate int    `json:"truncate,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
	ReadOnly bool   `json:"readonly,omitempty"`
	NoPrint  bool   `json:"noprint,omitempty"`
	Tooltip  string `json:"tooltip,omitempty"`
}

// ForeignKey is a column whose type names another entity.
type ForeignKey struct {
	Entity string
	// Column is the storage name ({name}_id), Name the conceptual name.
	Column   string
	Name     string
	Target   string
	Optional bool
	SelfRef  bool
	Computed bool
}

// Hard reports whether the FK takes part in the required dependency graph.
func (fk *ForeignKey) Hard() bool {
	return !fk.Optional && !fk.SelfRef && !fk.Computed
}

// InboundRef is a foreign key of another entity pointing at this one.
type InboundRef struct {
	Entity string
	Column string
	Name   string
}

// KeyGroup is a unique key or index over one or more columns.
type KeyGroup struct {
	Name    string
	Columns []string
}

// LabelExpr describes how a row's label is produced: a single column or a
// concat of columns and literal separators.
type LabelExpr struct {
	Column    string
	Secondary string
	Parts     []LabelPart
}

// LabelPart is a concat argument. FK parts render the target's label.
type LabelPart struct {
	Column  string
	Literal string
	Target  string
}

// IsLiteral reports whether the part is a literal separator.
func (p LabelPart) IsLiteral() bool { return p.Column == "" }

// IsConcat reports whether the label is computed by concat(...).
func (l *LabelExpr) IsConcat() bool {
	return l != nil && len(l.Parts) > 0
}

// Separators returns the distinct non-empty literal parts in order.
func (l *LabelExpr) Separators() []string {
	var out []string
	for _, p := range l.Parts {
		if p.IsLiteral() && p.Literal != "" && !slices.Contains(out, p.Literal) {
			out = append(out, p.Literal)
		}
	}
	return out
}

// Columns returns the columns the label reads.
func (l *LabelExpr) Columns() []string {
	if l == nil {
		return nil
	}
	if !l.IsConcat() {
		return []string{l.Column}
	}
	var out []string
	for _, p := range l.Parts {
		if !p.IsLiteral() {
			out = append(out, p.Column)
		}
	}
	return out
}

// Constraint is a cross-field rule; Fields are storage column names.
type Constraint struct {
	Code   string
	Fields []string
	Expr   string
}

// ViewSpec describes the label-resolving read view of an entity.
type ViewSpec struct {
	Name   string
	Labels []ViewLabel
	// Filter is the default read predicate.
	Filter string
}

// ViewLabel adds {fk}_label for one foreign key.
type ViewLabel struct {
	Alias  string
	Column string
	Target string
}

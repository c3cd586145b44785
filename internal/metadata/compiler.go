package metadata

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"specforge/internal/core/apperror"
	"specforge/internal/core/types"
	"specforge/internal/dag"
	"specforge/internal/specdoc"
)

// DefaultReadPredicate hides defective rows and the null reference record.
const DefaultReadPredicate = ColQL + " = 0 AND " + ColSys + " = false"

// ConstraintCheck validates a cross-field constraint at compile time.
type ConstraintCheck func(e *Entity, c Constraint) error

// Option configures a Compiler.
type Option func(*Compiler)

// WithConstraintCheck installs a compile-time check for constraint expressions.
func WithConstraintCheck(fn ConstraintCheck) Option {
	return func(c *Compiler) { c.checkConstraint = fn }
}

// WithClock overrides the compile timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

// Compiler turns parsed documents plus the type catalogue into a Schema.
type Compiler struct {
	catalog         *Catalog
	checkConstraint ConstraintCheck
	now             func() time.Time
	tracer          trace.Tracer
}

// NewCompiler creates a compiler over a loaded catalogue.
func NewCompiler(catalog *Catalog, opts ...Option) *Compiler {
	if catalog == nil {
		catalog = NewCatalog()
	}
	c := &Compiler{
		catalog: catalog,
		now:     time.Now,
		tracer:  otel.Tracer("specforge/metadata"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile builds a complete Schema. Any error aborts the whole compile;
// partial schemas are never returned.
func (c *Compiler) Compile(ctx context.Context, docs []*specdoc.Document) (_ *Schema, err error) {
	ctx, span := c.tracer.Start(ctx, "metadata.Compile",
		trace.WithAttributes(attribute.Int("entities", len(docs))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s := &Schema{
		Catalog:  c.catalog,
		entities: make(map[string]*Entity, len(docs)*2),
	}

	ordered := make([]*Entity, 0, len(docs))
	tables := make(map[string]string, len(docs))
	for i, doc := range docs {
		key := strings.ToLower(doc.Name)
		if _, dup := s.entities[key]; dup {
			return nil, apperror.NewCompile(doc.Name, "entity declared twice").WithDetail("source", doc.Source)
		}
		if _, isType := c.catalog.Resolve(doc.Name); isType {
			return nil, apperror.NewCompile(doc.Name, "entity name collides with a type name")
		}
		e := &Entity{
			Name:       doc.Name,
			Table:      ToSnake(doc.Name),
			Source:     doc.Source,
			Area:       doc.Area,
			Position:   i,
			Bridge:     doc.Bridge,
			Generator:  doc.Generator,
			Completion: doc.Completion,
			columns:    make(map[string]*Column),
			fks:        make(map[string]*ForeignKey),
		}
		if other, dup := tables[e.Table]; dup {
			return nil, apperror.NewCompile(doc.Name, fmt.Sprintf("table name %q already used by %s", e.Table, other))
		}
		tables[e.Table] = e.Name
		s.entities[key] = e
		ordered = append(ordered, e)
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.buildEntity(ordered[i], doc, s.entities); err != nil {
			return nil, err
		}
	}

	order, err := dependencyOrder(ordered)
	if err != nil {
		return nil, err
	}
	s.Order = order

	for _, e := range ordered {
		for _, fk := range e.ForeignKeys {
			target := s.entities[strings.ToLower(fk.Target)]
			target.Inbound = append(target.Inbound, InboundRef{Entity: e.Name, Column: fk.Column, Name: fk.Name})
		}
		for _, rule := range e.Computed {
			deps := ruleDependencies(rule.Rule, e, s.entities)
			rule.Dependencies = deps[:0]
			for _, d := range deps {
				if d != rule.Column {
					rule.Dependencies = append(rule.Dependencies, d)
				}
			}
		}
		e.View = viewSpec(e)
		if c.checkConstraint != nil {
			for _, con := range e.Constraints {
				if err := c.checkConstraint(e, con); err != nil {
					return nil, apperror.NewCompile(e.Name, fmt.Sprintf("constraint %s: %v", con.Code, err)).WithCause(err)
				}
			}
		}
	}

	// table names resolve as well as entity names
	for _, e := range ordered {
		if _, clash := s.entities[e.Table]; !clash {
			s.entities[e.Table] = e
		}
	}

	s.CompiledAt = c.now()
	span.SetAttributes(attribute.StringSlice("order", s.Order))
	return s, nil
}

type attrContext struct {
	e    *Entity
	attr specdoc.Attribute
	name string
	cols []*Column
	fk   *ForeignKey
	typ  *Type
}

func (a *attrContext) errorf(format string, args ...any) error {
	return apperror.NewCompile(a.e.Name, fmt.Sprintf("attribute %q: ", a.attr.Name)+fmt.Sprintf(format, args...)).
		WithDetail("line", a.attr.Line).
		WithDetail("source", a.e.Source)
}

func (c *Compiler) buildEntity(e *Entity, doc *specdoc.Document, entities map[string]*Entity) error {
	pos := 0
	add := func(col *Column) error {
		key := strings.ToLower(col.Name)
		if _, dup := e.columns[key]; dup {
			return apperror.NewCompile(e.Name, fmt.Sprintf("column %q generated twice", col.Name))
		}
		col.Position = pos
		pos++
		e.columns[key] = col
		e.Columns = append(e.Columns, col)
		return nil
	}

	if err := add(&Column{Name: ColID, Type: BuiltIn(ScalarInteger), Scalar: ScalarInteger, System: true}); err != nil {
		return err
	}

	ukGroups := make(map[int][]string)
	ixGroups := make(map[int][]string)
	var labelCol, label2Col string

	for _, attr := range doc.Attributes {
		a := &attrContext{e: e, attr: attr, name: ToSnake(attr.Name)}
		if IsSystemColumn(a.name) {
			return a.errorf("name is reserved for a system column")
		}

		typ, ok := c.catalog.Resolve(attr.TypeName)
		switch {
		case ok && typ.Kind == KindAggregate:
			a.typ = typ
			for _, sub := range typ.Aggregate.Fields {
				a.cols = append(a.cols, &Column{
					Name:      a.name + "_" + sub.Name,
					Attribute: attr.Name,
					Type:      BuiltIn(sub.Scalar),
					Scalar:    sub.Scalar,
					Aggregate: &AggregateRef{Source: a.name, Field: sub.Name, Type: typ.Name},
				})
			}
		case ok:
			a.typ = typ
			a.cols = []*Column{{
				Name:      a.name,
				Attribute: attr.Name,
				Type:      typ,
				Scalar:    typ.Scalar,
				Example:   attr.Example,
			}}
		default:
			target, found := entities[strings.ToLower(attr.TypeName)]
			if !found {
				return a.errorf("type %q is neither built-in, declared nor an entity", attr.TypeName)
			}
			a.fk = &ForeignKey{
				Entity:  e.Name,
				Column:  a.name + FKSuffix,
				Name:    a.name,
				Target:  target.Name,
				SelfRef: target == e,
			}
			a.cols = []*Column{{
				Name:      a.fk.Column,
				Attribute: attr.Name,
				Type:      BuiltIn(ScalarInteger),
				Scalar:    ScalarInteger,
				FK:        a.fk,
				Example:   attr.Example,
			}}
		}

		for _, ann := range attr.Annotations {
			if err := c.apply(a, ann, ukGroups, ixGroups, &labelCol, &label2Col); err != nil {
				return err
			}
		}

		for _, col := range a.cols {
			if err := add(col); err != nil {
				return err
			}
		}
		if a.fk != nil {
			if _, clash := e.fks[a.fk.Name]; clash {
				return a.errorf("conceptual name collides with another column")
			}
			e.ForeignKeys = append(e.ForeignKeys, a.fk)
			e.fks[a.fk.Name] = a.fk
			e.fks[a.fk.Column] = a.fk
		}
	}

	if err := add(&Column{Name: ColQL, Type: BuiltIn(ScalarInteger), Scalar: ScalarInteger, System: true, Default: ptr("0")}); err != nil {
		return err
	}
	if err := add(&Column{Name: ColQD, Type: BuiltIn(ScalarText), Scalar: ScalarText, System: true, Nullable: true}); err != nil {
		return err
	}
	if err := add(&Column{Name: ColSys, Type: BuiltIn(ScalarBoolean), Scalar: ScalarBoolean, System: true, Default: ptr("false")}); err != nil {
		return err
	}

	// numbered groups come first so UK1 is the upsert key
	e.UniqueKeys = append(groups("uk", e.Table, ukGroups), e.UniqueKeys...)
	e.Indexes = append(e.Indexes, groups("ix", e.Table, ixGroups)...)

	if err := c.buildLabel(e, doc, labelCol, label2Col); err != nil {
		return err
	}

	for _, con := range doc.Constraints {
		fields := make([]string, 0, len(con.Fields))
		for _, f := range con.Fields {
			col, ok := e.resolveRef(ToSnake(f))
			if !ok {
				return apperror.NewCompile(e.Name, fmt.Sprintf("constraint %s names unknown field %q", con.Code, f)).
					WithDetail("line", con.Line)
			}
			fields = append(fields, col)
		}
		e.Constraints = append(e.Constraints, Constraint{Code: con.Code, Fields: fields, Expr: con.Expr})
	}
	return nil
}

func (c *Compiler) apply(a *attrContext, ann specdoc.Annotation, uk, ix map[int][]string, labelCol, label2Col *string) error {
	names := make([]string, len(a.cols))
	for i, col := range a.cols {
		names[i] = col.Name
	}
	aggregate := a.typ != nil && a.typ.Kind == KindAggregate

	switch ann.Kind {
	case specdoc.AnnOptional:
		for _, col := range a.cols {
			col.Nullable = true
		}
		if a.fk != nil {
			a.fk.Optional = true
		}

	case specdoc.AnnUnique:
		if len(a.cols) == 1 {
			a.cols[0].Unique = true
		}
		a.e.UniqueKeys = append(a.e.UniqueKeys, KeyGroup{Name: "uq_" + a.e.Table + "_" + a.name, Columns: names})

	case specdoc.AnnUniqueKey:
		uk[ann.Group] = append(uk[ann.Group], names...)

	case specdoc.AnnIndex:
		a.e.Indexes = append(a.e.Indexes, KeyGroup{Name: "ix_" + a.e.Table + "_" + a.name, Columns: names})

	case specdoc.AnnIndexGroup:
		ix[ann.Group] = append(ix[ann.Group], names...)

	case specdoc.AnnDefault:
		if aggregate {
			return a.errorf("DEFAULT is not supported on aggregate attributes")
		}
		if a.fk == nil {
			if _, err := Coerce(a.cols[0].Scalar, ann.Value); err != nil {
				return a.errorf("DEFAULT %q is not a valid %s", ann.Value, a.cols[0].Scalar)
			}
		}
		a.cols[0].Default = ptr(ann.Value)

	case specdoc.AnnLabel, specdoc.AnnLabel2:
		if aggregate {
			return a.errorf("%s is not supported on aggregate attributes", ann.Kind)
		}
		target := labelCol
		if ann.Kind == specdoc.AnnLabel2 {
			target = label2Col
			a.cols[0].Label2 = true
		} else {
			a.cols[0].Label = true
		}
		if *target != "" {
			return a.errorf("entity already has a %s column %q", ann.Kind, *target)
		}
		*target = a.cols[0].Name

	case specdoc.AnnDaily, specdoc.AnnHourly, specdoc.AnnImmediate, specdoc.AnnOnDemand:
		if aggregate {
			return a.errorf("computed rules are not supported on aggregate attributes")
		}
		col := a.cols[0]
		if col.Computed != nil {
			return a.errorf("more than one computed-field schedule")
		}
		sched, _ := scheduleOf(ann.Kind)
		if err := sched.Validate(); err != nil {
			return a.errorf("%v", err)
		}
		rule := &ComputedRule{Entity: a.e.Name, Column: col.Name, Schedule: sched, Rule: ann.Value}
		col.Computed = rule
		a.e.Computed = append(a.e.Computed, rule)
		if a.fk != nil {
			a.fk.Computed = true
		}

	case specdoc.AnnNull:
		if a.fk != nil {
			return a.errorf("NULL override is not allowed on foreign keys")
		}
		for _, col := range a.cols {
			v, err := neutralOverride(col, ann.Value)
			if err != nil {
				return a.errorf("NULL=%s: %v", ann.Value, err)
			}
			col.NullValue = v
		}

	case specdoc.AnnMin, specdoc.AnnMax:
		col := a.cols[0]
		if aggregate || a.fk != nil || (col.Scalar != ScalarInteger && col.Scalar != ScalarReal) {
			return a.errorf("%s needs an integer or real attribute", ann.Kind)
		}
		n, err := types.ParseNumber(ann.Value)
		if err != nil {
			return a.errorf("%s=%s is not a number", ann.Kind, ann.Value)
		}
		if ann.Kind == specdoc.AnnMin {
			col.Range.Min = &n
		} else {
			col.Range.Max = &n
		}
		if col.Range.Min != nil && col.Range.Max != nil && col.Range.Min.GreaterThan(*col.Range.Max) {
			return a.errorf("MIN is greater than MAX")
		}

	case specdoc.AnnTruncate:
		n, _ := strconv.Atoi(ann.Value)
		for _, col := range a.cols {
			col.UI.Truncate = n
		}
	case specdoc.AnnHidden:
		for _, col := range a.cols {
			col.UI.Hidden = true
		}
	case specdoc.AnnReadOnly:
		for _, col := range a.cols {
			col.UI.ReadOnly = true
		}
	case specdoc.AnnNoPrint:
		for _, col := range a.cols {
			col.UI.NoPrint = true
		}
	case specdoc.AnnTooltip:
		for _, col := range a.cols {
			col.UI.Tooltip = ann.Value
		}

	default:
		return a.errorf("annotation [%s] is not valid on an attribute", ann.Raw)
	}
	return nil
}

func neutralOverride(col *Column, raw string) (any, error) {
	v, err := Coerce(col.Scalar, raw)
	if err != nil {
		return nil, err
	}
	switch {
	case col.Type.Kind == KindEnum:
		internal, ok := col.Type.Enum.Normalize(raw)
		if !ok {
			return nil, fmt.Errorf("not a value of enum %s", col.Type.Name)
		}
		return internal, nil
	case col.Type.Kind == KindPattern:
		if !col.Type.Pattern.Regex.MatchString(raw) {
			return nil, fmt.Errorf("does not match pattern %s", col.Type.Name)
		}
	}
	return v, nil
}

func (c *Compiler) buildLabel(e *Entity, doc *specdoc.Document, labelCol, label2Col string) error {
	if doc.Label != nil {
		expr := &LabelExpr{Secondary: label2Col}
		for _, p := range doc.Label {
			if p.IsLiteral() {
				expr.Parts = append(expr.Parts, LabelPart{Literal: p.Literal})
				continue
			}
			name := ToSnake(p.Field)
			if fk, ok := e.ForeignKey(name); ok {
				expr.Parts = append(expr.Parts, LabelPart{Column: fk.Column, Target: fk.Target})
				continue
			}
			col, ok := e.Column(name)
			if !ok || col.System {
				return apperror.NewCompile(e.Name, fmt.Sprintf("label expression references unknown field %q", p.Field))
			}
			if col.Aggregate != nil {
				return apperror.NewCompile(e.Name, fmt.Sprintf("label expression cannot reference aggregate sub-column %q", p.Field))
			}
			expr.Parts = append(expr.Parts, LabelPart{Column: col.Name})
		}
		e.Label = expr
		return nil
	}
	if labelCol != "" {
		e.Label = &LabelExpr{Column: labelCol, Secondary: label2Col}
		return nil
	}
	if label2Col != "" {
		return apperror.NewCompile(e.Name, "LABEL2 requires a primary LABEL")
	}
	return nil
}

// dependencyOrder sorts entities so FK targets come first. Required FKs
// are hard edges; optional, computed and self references only order the
// graph when they do not close a cycle.
func dependencyOrder(entities []*Entity) ([]string, error) {
	g := dag.NewDirectedAcyclicGraph[string]()
	for _, e := range entities {
		if err := g.AddVertex(e.Name, e.Position); err != nil {
			return nil, apperror.NewCompile(e.Name, err.Error())
		}
	}
	for _, e := range entities {
		var hard []string
		for _, fk := range e.ForeignKeys {
			if fk.Hard() && !slices.Contains(hard, fk.Target) {
				hard = append(hard, fk.Target)
			}
		}
		if len(hard) == 0 {
			continue
		}
		if err := g.AddDependencies(e.Name, hard); err != nil {
			if ce := dag.AsCycleError[string](err); ce != nil {
				return nil, apperror.NewCompile(e.Name, "required foreign keys form a cycle: "+strings.Join(ce.Cycle, " -> ")).
					WithDetail("cycle", ce.Cycle)
			}
			return nil, apperror.NewCompile(e.Name, err.Error())
		}
	}
	for _, e := range entities {
		for _, fk := range e.ForeignKeys {
			if fk.Hard() || fk.SelfRef {
				continue
			}
			// a soft edge that would close a cycle is dropped
			_ = g.AddDependencies(e.Name, []string{fk.Target})
		}
	}
	return g.TopologicalSort()
}

func viewSpec(e *Entity) ViewSpec {
	v := ViewSpec{Name: "v_" + e.Table, Filter: DefaultReadPredicate}
	for _, fk := range e.ForeignKeys {
		v.Labels = append(v.Labels, ViewLabel{Alias: fk.Name + "_label", Column: fk.Column, Target: fk.Target})
	}
	return v
}

func groups(prefix, table string, m map[int][]string) []KeyGroup {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]KeyGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyGroup{Name: fmt.Sprintf("%s%d_%s", prefix, k, table), Columns: m[k]})
	}
	return out
}

func ptr[T any](v T) *T { return &v }

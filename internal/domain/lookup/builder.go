package lookup

import (
	"context"
	"strings"

	"github.com/spf13/cast"

	"specforge/internal/core/apperror"
	"specforge/internal/core/id"
	"specforge/internal/domain"
	"specforge/internal/metadata"
)

// maxLabelDepth bounds recursion through FK parts of label expressions.
const maxLabelDepth = 4

// Builder creates lookup maps from store contents, falling back to pending
// records when the store holds no rows for an entity. Building never writes.
// Rendered labels of referenced entities are cached, so use one Builder per
// batch.
type Builder struct {
	store  domain.RecordStore
	schema *metadata.Schema
	labels map[string]map[id.RecordID]string
}

// NewBuilder creates a builder bound to one schema snapshot.
func NewBuilder(store domain.RecordStore, schema *metadata.Schema) *Builder {
	return &Builder{
		store:  store,
		schema: schema,
		labels: make(map[string]map[id.RecordID]string),
	}
}

// Build returns a fresh map for entity. pending is used, with positional
// ids starting at 1, only when the store has no rows for the entity.
func (b *Builder) Build(ctx context.Context, entity string, pending []domain.Record) (*Map, error) {
	e, ok := b.schema.Entity(entity)
	if !ok {
		return nil, apperror.NewNotFound("entity", entity)
	}
	m := newMap(e.Name)
	if e.Label != nil {
		m.Concat = e.Label.IsConcat()
		m.Separators = e.Label.Separators()
	}

	rows, err := b.store.List(ctx, e, domain.Stored())
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 && len(pending) > 0 {
		m.Synthetic = true
		for i, rec := range pending {
			primary, err := b.recordLabel(ctx, e, rec, 0)
			if err != nil {
				return nil, err
			}
			secondary := ""
			if e.Label != nil && e.Label.Secondary != "" {
				secondary = strings.TrimSpace(cast.ToString(recordValue(e, rec, e.Label.Secondary)))
			}
			m.add(id.RecordID(i+1), i+1, primary, secondary)
		}
		return m, nil
	}

	for i, row := range rows {
		primary, err := b.rowLabel(ctx, e, row, 0)
		if err != nil {
			return nil, err
		}
		secondary := ""
		if e.Label != nil && e.Label.Secondary != "" {
			secondary = strings.TrimSpace(cast.ToString(row[e.Label.Secondary]))
		}
		m.add(row.ID(), i+1, primary, secondary)
	}
	return m, nil
}

// Refresh adds a row just stored for m's entity to m, or updates its
// labels when m already holds it. Cached labels of the entity follow.
func (b *Builder) Refresh(ctx context.Context, m *Map, row domain.Row) error {
	e, ok := b.schema.Entity(m.Entity)
	if !ok {
		return apperror.NewNotFound("entity", m.Entity)
	}
	rid := row.ID()
	if cached, ok := b.labels[e.Name]; ok {
		// the row's own label may reference itself
		delete(cached, rid)
	}
	primary, err := b.rowLabel(ctx, e, row, 0)
	if err != nil {
		return err
	}
	if cached, ok := b.labels[e.Name]; ok {
		cached[rid] = primary
	}
	secondary := ""
	if e.Label != nil && e.Label.Secondary != "" {
		secondary = strings.TrimSpace(cast.ToString(row[e.Label.Secondary]))
	}
	m.Add(rid, primary, secondary)
	return nil
}

// Labels returns the primary label of every stored row of entity,
// including the null reference record.
func (b *Builder) Labels(ctx context.Context, entity string) (map[id.RecordID]string, error) {
	e, ok := b.schema.Entity(entity)
	if !ok {
		return nil, apperror.NewNotFound("entity", entity)
	}
	return b.labelsOf(ctx, e, 0)
}

func (b *Builder) labelsOf(ctx context.Context, e *metadata.Entity, depth int) (map[id.RecordID]string, error) {
	if cached, ok := b.labels[e.Name]; ok {
		return cached, nil
	}
	// placeholder breaks recursion through self references
	out := make(map[id.RecordID]string)
	b.labels[e.Name] = out
	rows, err := b.store.List(ctx, e, domain.All())
	if err != nil {
		delete(b.labels, e.Name)
		return nil, err
	}
	for _, row := range rows {
		if row.IsSystem() {
			out[row.ID()] = ""
			continue
		}
		l, err := b.rowLabel(ctx, e, row, depth)
		if err != nil {
			delete(b.labels, e.Name)
			return nil, err
		}
		out[row.ID()] = l
	}
	return out, nil
}

// rowLabel renders the primary label of a stored row.
func (b *Builder) rowLabel(ctx context.Context, e *metadata.Entity, row domain.Row, depth int) (string, error) {
	if e.Label == nil {
		return "", nil
	}
	if !e.Label.IsConcat() {
		return b.columnLabel(ctx, e, e.Label.Column, row[e.Label.Column], depth)
	}
	var sb strings.Builder
	for _, p := range e.Label.Parts {
		if p.IsLiteral() {
			sb.WriteString(p.Literal)
			continue
		}
		s, err := b.columnLabel(ctx, e, p.Column, row[p.Column], depth)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (b *Builder) columnLabel(ctx context.Context, e *metadata.Entity, column string, v any, depth int) (string, error) {
	c, ok := e.Column(column)
	if !ok || c.FK == nil {
		return Format(v), nil
	}
	if v == nil || depth >= maxLabelDepth {
		return "", nil
	}
	target, ok := b.schema.Entity(c.FK.Target)
	if !ok {
		return "", nil
	}
	labels, err := b.labelsOf(ctx, target, depth+1)
	if err != nil {
		return "", err
	}
	return labels[cast.ToInt64(v)], nil
}

// recordLabel renders the label of a pending exchange record. FK parts
// already hold label text there; numeric ids are looked up in the store.
func (b *Builder) recordLabel(ctx context.Context, e *metadata.Entity, rec domain.Record, depth int) (string, error) {
	if e.Label == nil {
		return "", nil
	}
	render := func(column string) (string, error) {
		v := recordValue(e, rec, column)
		c, ok := e.Column(column)
		if ok && c.FK != nil {
			if s, isStr := v.(string); isStr {
				return strings.TrimSpace(s), nil
			}
			return b.columnLabel(ctx, e, column, v, depth)
		}
		return Format(v), nil
	}
	if !e.Label.IsConcat() {
		return render(e.Label.Column)
	}
	var sb strings.Builder
	for _, p := range e.Label.Parts {
		if p.IsLiteral() {
			sb.WriteString(p.Literal)
			continue
		}
		s, err := render(p.Column)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return strings.TrimSpace(sb.String()), nil
}

// recordValue reads a storage column from an exchange record, accepting
// the conceptual FK name as well.
func recordValue(e *metadata.Entity, rec domain.Record, column string) any {
	if v, ok := rec[column]; ok {
		return v
	}
	if fk, ok := e.ForeignKey(column); ok {
		return rec[fk.Name]
	}
	return nil
}

// Format renders a stored value as label text.
func Format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return strings.TrimSpace(string(t))
	}
	return strings.TrimSpace(cast.ToString(v))
}

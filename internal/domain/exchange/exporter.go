// Package exchange renders stored rows back into exchange records.
package exchange

import (
	"context"

	"specforge/internal/core/apperror"
	"specforge/internal/core/id"
	"specforge/internal/domain"
	"specforge/internal/domain/lookup"
	"specforge/internal/metadata"
)

// SchemaSource yields the active schema snapshot.
type SchemaSource interface {
	Current() *metadata.Schema
}

// Options widen an export.
type Options struct {
	// IncludeDefective exports rows with a nonzero quality mask as well.
	IncludeDefective bool
}

// Exporter turns rows into records an importer accepts: FKs become target
// labels under their conceptual names, aggregate sub-columns collapse into
// nested objects and system, quality and computed columns are dropped.
type Exporter struct {
	schemas SchemaSource
	store   domain.RecordStore
}

// NewExporter creates an exporter.
func NewExporter(schemas SchemaSource, store domain.RecordStore) *Exporter {
	return &Exporter{schemas: schemas, store: store}
}

// Export returns the records of one entity ordered by id.
func (x *Exporter) Export(ctx context.Context, entity string, opts Options) ([]domain.Record, error) {
	sc := x.schemas.Current()
	if sc == nil {
		return nil, apperror.NewConflict("no schema has been compiled yet")
	}
	return newRun(sc, x.store).export(ctx, entity, opts)
}

// Batch is the export of one entity.
type Batch struct {
	Entity  string
	Records []domain.Record
}

// ExportAll exports every entity in dependency order, so replaying the
// batches in sequence satisfies every FK before it is needed.
func (x *Exporter) ExportAll(ctx context.Context, opts Options) ([]Batch, error) {
	sc := x.schemas.Current()
	if sc == nil {
		return nil, apperror.NewConflict("no schema has been compiled yet")
	}
	r := newRun(sc, x.store)
	out := make([]Batch, 0, len(sc.Order))
	for _, e := range sc.Entities() {
		recs, err := r.export(ctx, e.Name, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, Batch{Entity: e.Name, Records: recs})
	}
	return out, nil
}

// run shares label maps across the entities of one export.
type run struct {
	schema  *metadata.Schema
	store   domain.RecordStore
	builder *lookup.Builder
	maps    map[string]*lookup.Map
}

func newRun(sc *metadata.Schema, store domain.RecordStore) *run {
	return &run{
		schema:  sc,
		store:   store,
		builder: lookup.NewBuilder(store, sc),
		maps:    make(map[string]*lookup.Map),
	}
}

func (r *run) keyFor(ctx context.Context, target string, rid id.RecordID) (any, error) {
	if id.IsNull(rid) {
		return nil, nil
	}
	m, ok := r.maps[target]
	if !ok {
		var err error
		if m, err = r.builder.Build(ctx, target, nil); err != nil {
			return nil, err
		}
		r.maps[target] = m
	}
	key, ok := m.KeyFor(rid)
	if !ok {
		return nil, apperror.NewInvariant("exported row references missing " + target + " row").WithDetail("id", rid)
	}
	return key, nil
}

func (r *run) export(ctx context.Context, entity string, opts Options) ([]domain.Record, error) {
	e, ok := r.schema.Entity(entity)
	if !ok {
		return nil, apperror.NewNotFound("entity", entity)
	}
	rows, err := r.store.List(ctx, e, domain.ReadFilter{IncludeDefective: opts.IncludeDefective})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		rec := make(domain.Record, len(e.Columns))
		for _, c := range e.DataColumns() {
			v := row[c.Name]
			switch {
			case c.Computed != nil:
			case c.FK != nil:
				rid, ok := v.(int64)
				if !ok {
					if rid, err = toID(v); err != nil {
						return nil, err
					}
				}
				key, err := r.keyFor(ctx, c.FK.Target, rid)
				if err != nil {
					return nil, err
				}
				rec[c.FK.Name] = key
			case c.Aggregate != nil:
				nested, _ := rec[c.Aggregate.Source].(map[string]any)
				if nested == nil {
					nested = make(map[string]any)
					rec[c.Aggregate.Source] = nested
				}
				nested[c.Aggregate.Field] = v
			default:
				rec[c.Name] = v
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func toID(v any) (id.RecordID, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case nil:
		return id.Null, nil
	}
	return 0, apperror.NewInvariant("foreign key column holds a non-id value").WithDetail("value", v)
}

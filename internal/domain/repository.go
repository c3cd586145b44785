// Package domain provides the store ports and record types shared by the
// resolution, quality and import engines.
package domain

import (
	"context"

	"specforge/internal/core/id"
	"specforge/internal/domain/filter"
	"specforge/internal/metadata"
)

// Record is one exchange record: field name to value. FK fields may appear
// under their conceptual or storage name; aggregate fields may be nested
// objects.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Row is a stored record keyed by storage column names, including the
// system columns.
type Row map[string]any

// ID returns the row id or 0 when unset.
func (r Row) ID() id.RecordID {
	switch v := r[metadata.ColID].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// QL returns the quality bitmask of the row.
func (r Row) QL() int {
	switch v := r[metadata.ColQL].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// IsSystem reports whether the row is the null reference record.
func (r Row) IsSystem() bool {
	v, _ := r[metadata.ColSys].(bool)
	return v
}

// ReadFilter narrows List and Count. The zero value is the default read
// path: clean rows only, null reference record hidden.
type ReadFilter struct {
	IncludeDefective bool
	IncludeSystem    bool
	Where            []filter.Item
	Limit            int
	Offset           int
}

// All widens the filter to every stored row.
func All() ReadFilter {
	return ReadFilter{IncludeDefective: true, IncludeSystem: true}
}

// Stored returns every row except the null reference record, ordered by id.
func Stored() ReadFilter {
	return ReadFilter{IncludeDefective: true}
}

// RecordStore persists rows of compiled entities.
//
// Implementations must reject inserts and updates whose FK values point at
// rows that do not exist with an INVARIANT_VIOLATION error; the engine
// never produces such rows.
type RecordStore interface {
	// EnsureSchema creates tables, constraints and views, then seeds the
	// null reference record of every entity in dependency order.
	EnsureSchema(ctx context.Context, s *metadata.Schema) error

	// List returns rows ordered by id.
	List(ctx context.Context, e *metadata.Entity, f ReadFilter) ([]Row, error)

	// Get returns one row by id, system and defective rows included.
	Get(ctx context.Context, e *metadata.Entity, rid id.RecordID) (Row, error)

	// Insert stores a new row and returns its id.
	Insert(ctx context.Context, e *metadata.Entity, row Row) (id.RecordID, error)

	// Update replaces the data and quality columns of an existing row.
	Update(ctx context.Context, e *metadata.Entity, rid id.RecordID, row Row) error

	// Exists checks whether a row with the id exists.
	Exists(ctx context.Context, e *metadata.Entity, rid id.RecordID) (bool, error)

	// Count counts rows matching the filter.
	Count(ctx context.Context, e *metadata.Entity, f ReadFilter) (int64, error)
}

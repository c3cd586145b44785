// Package resolve converts label based foreign key values into row ids.
package resolve

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"specforge/internal/core/id"
	"specforge/internal/domain"
	"specforge/internal/domain/lookup"
	"specforge/internal/metadata"
	"specforge/pkg/logger"
)

// Warning describes a foreign key value that could not be resolved.
type Warning struct {
	Row          int    `json:"row"`
	Entity       string `json:"entity"`
	Field        string `json:"field"`
	Value        any    `json:"value"`
	TargetEntity string `json:"targetEntity"`
	Message      string `json:"message"`
	Ambiguous    bool   `json:"ambiguous,omitempty"`
	// Synthetic is set when the target was looked up among pending records.
	Synthetic    bool   `json:"synthetic,omitempty"`
}

// FuzzyMatch records an accepted fuzzy resolution for audit.
type FuzzyMatch struct {
	Row           int         `json:"row"`
	Field         string      `json:"field"`
	TargetEntity  string      `json:"targetEntity"`
	Value         string      `json:"value"`
	ResolvedLabel string      `json:"resolvedLabel"`
	ID            id.RecordID `json:"id"`
	// Synthetic marks ID as the 1-based position of a pending record, not
	// a stored id.
	Synthetic     bool        `json:"synthetic,omitempty"`
}

// Result is the outcome of resolving one record.
type Result struct {
	// Record has every resolved FK under its storage name. Unresolved and
	// absent FKs are left out.
	Record   domain.Record
	Warnings []Warning
	Fuzzy    []FuzzyMatch
	// Unresolved maps storage column to the original input value.
	Unresolved map[string]any
}

// MapSource builds lookup maps on demand and keeps them current as rows
// are stored.
type MapSource interface {
	Build(ctx context.Context, entity string, pending []domain.Record) (*lookup.Map, error)
	Refresh(ctx context.Context, m *lookup.Map, row domain.Row) error
}

// Resolver resolves the FK fields of records of one batch. It keeps one
// lookup map per target entity, so fuzzy hits cached for an earlier record
// are visible to later ones. Records must be resolved in input order.
type Resolver struct {
	source  MapSource
	pending map[string][]domain.Record
	maps    map[string]*lookup.Map
}

// NewResolver creates a resolver. pending holds records awaiting load per
// entity name, used when a target has no stored rows.
func NewResolver(source MapSource, pending map[string][]domain.Record) *Resolver {
	return &Resolver{
		source:  source,
		pending: pending,
		maps:    make(map[string]*lookup.Map),
	}
}

// Map returns the batch's lookup map of a target entity.
func (r *Resolver) Map(ctx context.Context, target string) (*lookup.Map, error) {
	if m, ok := r.maps[target]; ok {
		return m, nil
	}
	m, err := r.source.Build(ctx, target, r.pending[target])
	if err != nil {
		return nil, err
	}
	r.maps[target] = m
	return m, nil
}

// Stored makes a row just inserted or updated visible to later records of
// the batch. It is a no-op for entities no record has referenced yet. A map
// built from pending records is dropped, since stored rows replace them.
func (r *Resolver) Stored(ctx context.Context, entity string, row domain.Row) error {
	m, ok := r.maps[entity]
	if !ok {
		return nil
	}
	if m.Synthetic {
		delete(r.maps, entity)
		return nil
	}
	return r.source.Refresh(ctx, m, row)
}

// Resolve converts every FK field of rec. row is the 1-based input position
// used in warnings.
func (r *Resolver) Resolve(ctx context.Context, e *metadata.Entity, row int, rec domain.Record) (*Result, error) {
	res := &Result{Record: rec.Clone(), Unresolved: make(map[string]any)}

	for _, fk := range e.ForeignKeys {
		raw, byStorage, present := fkValue(rec, fk)
		delete(res.Record, fk.Name)
		delete(res.Record, fk.Column)
		if !present || metadata.IsEmpty(raw) {
			continue
		}

		m, err := r.Map(ctx, fk.Target)
		if err != nil {
			return nil, err
		}

		warn := func(msg string, ambiguous bool) {
			res.Unresolved[fk.Column] = raw
			res.Warnings = append(res.Warnings, Warning{
				Row:          row,
				Entity:       e.Name,
				Field:        fk.Name,
				Value:        raw,
				TargetEntity: fk.Target,
				Message:      msg,
				Ambiguous:    ambiguous,
				Synthetic:    m.Synthetic,
			})
			logger.Warn(ctx, "foreign key unresolved",
				"row", row, "field", fk.Name, "value", raw, "target", fk.Target, "reason", msg)
		}

		// numeric values are ids already
		if rid, ok := numericID(raw); ok {
			if m.HasID(rid) {
				res.Record[fk.Column] = rid
			} else {
				warn(fmt.Sprintf("%s has no row with id %d", fk.Target, rid), false)
			}
			continue
		}

		label := strings.TrimSpace(fmt.Sprint(raw))
		if rid, ok := m.Lookup(label); ok {
			res.Record[fk.Column] = rid
			continue
		}

		// a numeric string under the storage name is an id
		if byStorage || isDigits(label) {
			if rid, err := strconv.ParseInt(label, 10, 64); err == nil {
				if m.HasID(rid) {
					res.Record[fk.Column] = rid
				} else {
					warn(fmt.Sprintf("%s has no row with id %d", fk.Target, rid), false)
				}
				continue
			}
		}

		if m.Ambiguous(label) {
			warn(fmt.Sprintf("label %q names more than one %s", label, fk.Target), true)
			continue
		}

		if !m.Concat {
			warn(fmt.Sprintf("no %s with label %q", fk.Target, label), false)
			continue
		}

		hits := Match(label, m.Candidates(), m.Separators)
		switch len(hits) {
		case 0:
			warn(fmt.Sprintf("no %s with label %q", fk.Target, label), false)
		case 1:
			hit := hits[0]
			m.Cache(label, hit.ID)
			res.Record[fk.Column] = hit.ID
			res.Fuzzy = append(res.Fuzzy, FuzzyMatch{
				Row:           row,
				Field:         fk.Name,
				TargetEntity:  fk.Target,
				Value:         label,
				ResolvedLabel: hit.Label,
				ID:            hit.ID,
				Synthetic:     m.Synthetic,
			})
			logger.Info(ctx, "fuzzy foreign key match",
				"row", row, "field", fk.Name, "value", label, "label", hit.Label, "id", hit.ID, "synthetic", m.Synthetic)
		default:
			labels := make([]string, len(hits))
			for i, h := range hits {
				labels[i] = h.Label
			}
			warn(fmt.Sprintf("label %q is ambiguous: matches %s", label, strings.Join(labels, ", ")), true)
		}
	}
	return res, nil
}

// fkValue reads an FK field, preferring the conceptual name.
func fkValue(rec domain.Record, fk *metadata.ForeignKey) (v any, byStorage, present bool) {
	if v, ok := rec[fk.Name]; ok && !metadata.IsEmpty(v) {
		return v, false, true
	}
	if v, ok := rec[fk.Column]; ok {
		return v, true, true
	}
	v, ok := rec[fk.Name]
	return v, false, ok
}

func numericID(v any) (id.RecordID, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	case float32:
		if float64(n) == math.Trunc(float64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

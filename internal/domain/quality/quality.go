// Package quality decides per record whether it may be stored and records
// what is wrong with it when it is stored anyway.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"specforge/internal/domain"
	"specforge/internal/domain/resolve"
	"specforge/internal/domain/validation"
	"specforge/internal/metadata"
)

// Deficit is one defective field of a stored record. Value keeps the
// original input; the stored column holds a neutral value instead.
type Deficit struct {
	Field   string         `json:"field"`
	Bit     validation.Bit `json:"bit"`
	Value   any            `json:"value"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
}

// Outcome is the reconciliation result for one record.
type Outcome struct {
	Accepted bool
	// Mask is the OR of every triggered deficit bit.
	Mask     int
	Deficits []Deficit
	// Row is the storable row, set only when Accepted.
	Row domain.Row
}

// Clean reports whether the record carries no deficit.
func (o Outcome) Clean() bool {
	return o.Mask == 0
}

// Accepts reports whether every bit of mask lies inside accept.
func Accepts(mask, accept int) bool {
	return mask&^accept == 0
}

// Reconciler applies the accept/neutralize algorithm.
type Reconciler struct {
	validator validation.Validator
}

// NewReconciler creates a reconciler over a validation capability.
func NewReconciler(v validation.Validator) *Reconciler {
	return &Reconciler{validator: v}
}

// Reconcile validates rec, whose FKs are already resolved, merges in the
// unresolved FK warnings and decides against accept. The whole computation
// reruns from the field values on every call; nothing from an earlier
// outcome is reused.
func (r *Reconciler) Reconcile(ctx context.Context, e *metadata.Entity, rec domain.Record, unresolved []resolve.Warning, accept int) (Outcome, error) {
	var deficits []Deficit

	fkDefect := make(map[string]bool, len(unresolved))
	for _, w := range unresolved {
		col := w.Field
		if fk, ok := e.ForeignKey(w.Field); ok {
			col = fk.Column
		}
		fkDefect[col] = true
		deficits = append(deficits, Deficit{
			Field:   col,
			Bit:     validation.BitUnresolvedFK,
			Value:   w.Value,
			Message: w.Message,
		})
	}

	for _, f := range r.validator.Validate(ctx, e, rec) {
		// an unresolved label leaves its column empty; that is not a second defect
		if f.Bit == validation.BitRequiredFK && fkDefect[f.Field] {
			continue
		}
		deficits = append(deficits, Deficit{
			Field:   f.Field,
			Bit:     f.Bit,
			Value:   rec[f.Field],
			Message: f.Message,
			Code:    f.Code,
		})
	}

	order := make(map[string]int, len(e.Columns))
	for i, c := range e.Columns {
		order[c.Name] = i
	}
	sort.SliceStable(deficits, func(i, j int) bool {
		return order[deficits[i].Field] < order[deficits[j].Field]
	})

	out := Outcome{Deficits: deficits}
	for _, d := range deficits {
		out.Mask |= int(d.Bit)
	}
	if !Accepts(out.Mask, accept) {
		return out, nil
	}

	row, err := buildRow(e, rec, deficits)
	if err != nil {
		return out, err
	}
	row[metadata.ColQL] = out.Mask
	out.Accepted = true
	out.Row = row
	return out, nil
}

func buildRow(e *metadata.Entity, rec domain.Record, deficits []Deficit) (domain.Row, error) {
	normalized := validation.Normalize(e, rec)
	defective := make(map[string]bool, len(deficits))
	for _, d := range deficits {
		defective[d.Field] = true
	}

	row := make(domain.Row, len(e.Columns))
	for _, c := range e.DataColumns() {
		v, present := normalized[c.Name]
		switch {
		case defective[c.Name]:
			row[c.Name] = c.Neutral()
		case c.FK != nil && metadata.IsEmpty(v):
			row[c.Name] = metadata.NullRecordID
		case c.Computed != nil && !present:
			// left to the rule
		case metadata.IsEmpty(v):
			row[c.Name] = nil
		default:
			row[c.Name] = v
		}
	}

	row[metadata.ColQD] = nil
	if len(deficits) > 0 {
		qd, err := Encode(deficits)
		if err != nil {
			return nil, err
		}
		row[metadata.ColQD] = qd
	}
	return row, nil
}

// Encode serializes deficits for the _qd column.
func Encode(deficits []Deficit) (string, error) {
	b, err := json.Marshal(deficits)
	if err != nil {
		return "", fmt.Errorf("encode deficits: %w", err)
	}
	return string(b), nil
}

// Decode parses a _qd column value. Empty input yields no deficits.
func Decode(v any) ([]Deficit, error) {
	var raw []byte
	switch qd := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []byte(qd)
	case []byte:
		raw = qd
	default:
		return nil, fmt.Errorf("decode deficits: unexpected %T", v)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out []Deficit
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode deficits: %w", err)
	}
	return out, nil
}

// Mask returns the OR of the deficits' bits.
func Mask(deficits []Deficit) int {
	m := 0
	for _, d := range deficits {
		m |= int(d.Bit)
	}
	return m
}

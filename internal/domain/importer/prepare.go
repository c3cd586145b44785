package importer

import (
	"strings"

	"specforge/internal/domain"
	"specforge/internal/metadata"
)

// prepare maps input field names to storage names, expands nested
// aggregate objects into their sub-columns, applies DEFAULT values and
// normalizes enum display values. FK fields keep their conceptual or
// storage key for the resolver. Unknown fields are returned separately.
func prepare(e *metadata.Entity, in domain.Record) (domain.Record, []string) {
	out := make(domain.Record, len(in))
	var unknown []string

	for k, v := range in {
		key := strings.TrimSpace(k)
		if metadata.IsSystemColumn(strings.ToLower(key)) {
			continue
		}
		if fk, ok := e.ForeignKey(key); ok {
			if strings.EqualFold(key, fk.Column) {
				out[fk.Column] = v
			} else {
				out[fk.Name] = v
			}
			continue
		}
		if c, ok := e.Column(key); ok {
			out[c.Name] = v
			continue
		}
		if expandAggregate(e, key, v, out) {
			continue
		}
		if c, ok := e.Column(metadata.ToSnake(key)); ok {
			out[c.Name] = v
			continue
		}
		if fk, ok := e.ForeignKey(metadata.ToSnake(key)); ok {
			out[fk.Name] = v
			continue
		}
		unknown = append(unknown, k)
	}

	for _, c := range e.DataColumns() {
		if c.Default == nil {
			continue
		}
		if c.FK != nil {
			if metadata.IsEmpty(out[c.FK.Name]) && metadata.IsEmpty(out[c.FK.Column]) {
				out[c.FK.Name] = *c.Default
			}
			continue
		}
		if metadata.IsEmpty(out[c.Name]) {
			out[c.Name] = *c.Default
		}
	}

	for _, c := range e.DataColumns() {
		if c.Type == nil || c.Type.Kind != metadata.KindEnum {
			continue
		}
		if s, ok := out[c.Name].(string); ok {
			if internal, ok := c.Type.Enum.Normalize(strings.TrimSpace(s)); ok {
				out[c.Name] = internal
			}
		}
	}
	return out, unknown
}

// expandAggregate writes a nested object under an aggregate attribute to
// the attribute's sub-columns.
func expandAggregate(e *metadata.Entity, key string, v any, out domain.Record) bool {
	source := metadata.ToSnake(key)
	matched := false
	nested, isMap := v.(map[string]any)
	for _, c := range e.DataColumns() {
		if c.Aggregate == nil || c.Aggregate.Source != source {
			continue
		}
		matched = true
		if !isMap {
			continue
		}
		for field, fv := range nested {
			if strings.EqualFold(field, c.Aggregate.Field) {
				out[c.Name] = fv
			}
		}
	}
	return matched
}

// blank reports whether every field of the record is empty.
func blank(rec domain.Record) bool {
	for _, v := range rec {
		if m, ok := v.(map[string]any); ok {
			if !blank(m) {
				return false
			}
			continue
		}
		if !metadata.IsEmpty(v) {
			return false
		}
	}
	return true
}

package dto

import (
	"time"

	"specforge/internal/metadata"
)

// SchemaResponse summarizes the active schema snapshot.
type SchemaResponse struct {
	Version    int64           `json:"version"`
	CompiledAt time.Time       `json:"compiledAt"`
	Order      []string        `json:"order"`
	Entities   []EntitySummary `json:"entities"`
	Types      []string        `json:"types,omitempty"`
}

// EntitySummary is one entity in the schema listing.
type EntitySummary struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"`
	View    string   `json:"view"`
	Area    string   `json:"area,omitempty"`
	Columns int      `json:"columns"`
	Targets []string `json:"targets,omitempty"`
}

// EntityResponse is the full description of one entity.
type EntityResponse struct {
	Name        string           `json:"name"`
	Table       string           `json:"table"`
	View        string           `json:"view"`
	Source      string           `json:"source,omitempty"`
	Label       []string         `json:"label,omitempty"`
	UpsertKey   []string         `json:"upsertKey,omitempty"`
	Columns     []ColumnResponse `json:"columns"`
	ForeignKeys []ForeignKeyInfo `json:"foreignKeys,omitempty"`
	UniqueKeys  []KeyGroupInfo   `json:"uniqueKeys,omitempty"`
	Indexes     []KeyGroupInfo   `json:"indexes,omitempty"`
	Computed    []ComputedInfo   `json:"computed,omitempty"`
	Constraints []ConstraintInfo `json:"constraints,omitempty"`
}

// ColumnResponse describes a storage column.
type ColumnResponse struct {
	Name      string           `json:"name"`
	Type      string           `json:"type,omitempty"`
	Scalar    string           `json:"scalar"`
	Required  bool             `json:"required"`
	System    bool             `json:"system,omitempty"`
	Unique    bool             `json:"unique,omitempty"`
	Default   *string          `json:"default,omitempty"`
	Reference string           `json:"reference,omitempty"`
	UI        metadata.UIHints `json:"ui"`
}

// ForeignKeyInfo describes a foreign key.
type ForeignKeyInfo struct {
	Name     string `json:"name"`
	Column   string `json:"column"`
	Target   string `json:"target"`
	Optional bool   `json:"optional,omitempty"`
	SelfRef  bool   `json:"selfRef,omitempty"`
	Computed bool   `json:"computed,omitempty"`
}

// KeyGroupInfo describes a unique key or index.
type KeyGroupInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// ComputedInfo describes a computed column rule.
type ComputedInfo struct {
	Column  string `json:"column"`
	Schedule     string   `json:"schedule"`
	Rule         string   `json:"rule"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// ConstraintInfo describes a cross-field rule.
type ConstraintInfo struct {
	Code   string   `json:"code"`
	Fields []string `json:"fields"`
	Expr   string   `json:"expr"`
}

// FromSchema builds the schema listing.
func FromSchema(s *metadata.Schema) SchemaResponse {
	resp := SchemaResponse{
		Version:    s.Version,
		CompiledAt: s.CompiledAt,
		Order:      s.Order,
		Entities:   make([]EntitySummary, 0, len(s.Order)),
	}
	for _, e := range s.Entities() {
		sum := EntitySummary{
			Name:    e.Name,
			Table:   e.Table,
			View:    e.View.Name,
			Area:    e.Area.Name,
			Columns: len(e.Columns),
		}
		for _, fk := range e.ForeignKeys {
			sum.Targets = append(sum.Targets, fk.Target)
		}
		resp.Entities = append(resp.Entities, sum)
	}
	if s.Catalog != nil {
		for _, t := range s.Catalog.Types() {
			resp.Types = append(resp.Types, t.Name)
		}
	}
	return resp
}

// FromEntity builds the full entity description.
func FromEntity(e *metadata.Entity) EntityResponse {
	resp := EntityResponse{
		Name:      e.Name,
		Table:     e.Table,
		View:      e.View.Name,
		Source:    e.Source,
		Label:     e.Label.Columns(),
		UpsertKey: e.UpsertKey(),
		Columns:   make([]ColumnResponse, 0, len(e.Columns)),
	}
	for _, c := range e.Columns {
		col := ColumnResponse{
			Name:     c.Name,
			Scalar:   string(c.Scalar),
			Required: c.Required(),
			System:   c.System,
			Unique:   c.Unique,
			Default:  c.Default,
			UI:       c.UI,
		}
		if c.Type != nil {
			col.Type = c.Type.Name
		}
		if c.FK != nil {
			col.Reference = c.FK.Target
		}
		resp.Columns = append(resp.Columns, col)
	}
	for _, fk := range e.ForeignKeys {
		resp.ForeignKeys = append(resp.ForeignKeys, ForeignKeyInfo{
			Name:     fk.Name,
			Column:   fk.Column,
			Target:   fk.Target,
			Optional: fk.Optional,
			SelfRef:  fk.SelfRef,
			Computed: fk.Computed,
		})
	}
	for _, k := range e.UniqueKeys {
		resp.UniqueKeys = append(resp.UniqueKeys, KeyGroupInfo(k))
	}
	for _, k := range e.Indexes {
		resp.Indexes = append(resp.Indexes, KeyGroupInfo(k))
	}
	for _, r := range e.Computed {
		resp.Computed = append(resp.Computed, ComputedInfo{
			Column:       r.Column,
			Schedule:     string(r.Schedule),
			Rule:         r.Rule,
			Dependencies: r.Dependencies,
		})
	}
	for _, c := range e.Constraints {
		resp.Constraints = append(resp.Constraints, ConstraintInfo(c))
	}
	return resp
}

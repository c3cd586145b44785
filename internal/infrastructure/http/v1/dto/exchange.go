package dto

import (
	"specforge/internal/domain"
	"specforge/internal/domain/importer"
)

// ImportQuery holds the query parameters of an import.
type ImportQuery struct {
	// AcceptQL overrides the configured default when present.
	AcceptQL *int `form:"accept_ql" binding:"omitempty,min=0,max=31"`
	DryRun   bool `form:"dry_run"`
}

// ImportRequest is the body of a single entity import.
type ImportRequest struct {
	Records []map[string]any `json:"records" binding:"required"`
	// Pending lets a dry run resolve against records not loaded yet.
	Pending map[string][]map[string]any `json:"pending,omitempty"`
}

// BatchRequest is one entity of a multi-entity import.
type BatchRequest struct {
	Entity  string           `json:"entity" binding:"required"`
	Records []map[string]any `json:"records" binding:"required"`
}

// ImportAllRequest loads several entities; they are reordered so targets
// load before the entities referencing them.
type ImportAllRequest struct {
	Batches []BatchRequest `json:"batches" binding:"required,min=1,dive"`
}

// ImportAllResponse lists one result per batch in load order.
type ImportAllResponse struct {
	Results []*importer.Result `json:"results"`
}

// ExportQuery holds the query parameters of an export.
type ExportQuery struct {
	IncludeDefective bool `form:"include_defective"`
}

// ExportResponse carries the records of one entity.
type ExportResponse struct {
	Entity  string          `json:"entity"`
	Records []domain.Record `json:"records"`
}

// ImportLogResponse lists recent batch results, newest first.
type ImportLogResponse struct {
	Entity  string            `json:"entity,omitempty"`
	Results []importer.Result `json:"results"`
}

// ToRecords converts decoded JSON objects into exchange records.
func ToRecords(in []map[string]any) []domain.Record {
	out := make([]domain.Record, len(in))
	for i, m := range in {
		out[i] = domain.Record(m)
	}
	return out
}

// ToPending converts the pending section of an import request.
func ToPending(in map[string][]map[string]any) map[string][]domain.Record {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]domain.Record, len(in))
	for entity, recs := range in {
		out[entity] = ToRecords(recs)
	}
	return out
}

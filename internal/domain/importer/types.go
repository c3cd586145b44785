// Package importer loads exchange records into the store: label based FKs
// are resolved, quality is reconciled and rows are upserted in input order.
package importer

import (
	"specforge/internal/core/id"
	"specforge/internal/domain"
	"specforge/internal/domain/quality"
	"specforge/internal/domain/resolve"
	"specforge/internal/metadata"
)

// DefaultErrorLimit caps the detailed errors kept in a Result.
const DefaultErrorLimit = 50

// Batch is one load request for a single entity.
type Batch struct {
	Entity  string
	Records []domain.Record
	// AcceptQL names the deficit bits tolerated in this batch. Zero is strict.
	AcceptQL int
	// DryRun runs the whole pipeline without writing.
	DryRun bool
	// Pending holds records awaiting load per entity name. Dry runs resolve
	// against them when a target entity has no stored rows yet.
	Pending map[string][]domain.Record
}

// RowError is a detailed per-record failure.
type RowError struct {
	Row      int               `json:"row"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Deficits []quality.Deficit `json:"deficits,omitempty"`
}

// Result summarizes a batch. Counts are per record.
type Result struct {
	Entity   string `json:"entity"`
	BatchID  string `json:"batchId"`
	DryRun   bool   `json:"dryRun"`
	Loaded   int    `json:"loaded"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Rejected int    `json:"rejected"`
	// Failed counts records the store refused, e.g. duplicate keys.
	Failed       int                  `json:"failed"`
	Defective    int                  `json:"defective"`
	Errors       []RowError           `json:"errors"`
	TotalErrors  int                  `json:"totalErrors"`
	FKWarnings   []resolve.Warning    `json:"fkWarnings"`
	FuzzyMatches []resolve.FuzzyMatch `json:"fuzzyMatches"`
}

func (r *Result) addError(limit int, e RowError) {
	r.TotalErrors++
	if len(r.Errors) < limit {
		r.Errors = append(r.Errors, e)
	}
}

// Item is the unit passed to hooks.
type Item struct {
	Entity  *metadata.Entity
	Row     int
	Input   domain.Record
	Outcome quality.Outcome
	// ID is set after insert, and before update to the matched row.
	ID id.RecordID
}

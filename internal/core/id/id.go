// Package id holds record and batch identifiers.
//
// Records are keyed by store-assigned int64 ids. Id 1 of every entity table is
// reserved for the null reference record, which absorbs unresolved and empty
// foreign keys. Batches get time-ordered UUIDv7 ids so logs sort naturally.
package id

import (
	"strconv"

	"github.com/google/uuid"
)

// RecordID is the primary key of a stored record.
type RecordID = int64

// Null is the id of the null reference record present in every entity table.
const Null RecordID = 1

// IsNull reports whether id points at the null reference record.
func IsNull(id RecordID) bool {
	return id == Null
}

// Valid reports whether id can be a stored record id at all.
func Valid(id RecordID) bool {
	return id >= Null
}

// ParseRecord parses a decimal record id.
func ParseRecord(s string) (RecordID, error) {
	return strconv.ParseInt(s, 10, 64)
}

// NewBatch generates a new UUIDv7 batch id.
func NewBatch() string {
	b, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return b.String()
}

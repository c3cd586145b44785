package domain

import (
	"specforge/internal/metadata"
)

// NullRow builds the null reference record of an entity: id 1, flagged as
// system, every data column at its neutral value and every FK pointing at
// the null reference record of its target.
func NullRow(e *metadata.Entity) Row {
	row := Row{
		metadata.ColID:  metadata.NullRecordID,
		metadata.ColQL:  0,
		metadata.ColQD:  nil,
		metadata.ColSys: true,
	}
	for _, c := range e.DataColumns() {
		row[c.Name] = c.Neutral()
	}
	return row
}

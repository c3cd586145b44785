package memory

import (
	"context"
	"strings"
	"sync"

	"specforge/internal/domain/importer"
)

// Journal keeps import results in process memory, newest last. It does not
// take part in store transactions.
type Journal struct {
	mu      sync.Mutex
	entries []importer.Result
	limit   int
}

var _ importer.Journal = (*Journal)(nil)

// NewJournal keeps at most limit entries; zero keeps 1000.
func NewJournal(limit int) *Journal {
	if limit <= 0 {
		limit = 1000
	}
	return &Journal{limit: limit}
}

// Record appends a copy of res.
func (j *Journal) Record(ctx context.Context, res *importer.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *res)
	if over := len(j.entries) - j.limit; over > 0 {
		j.entries = append([]importer.Result(nil), j.entries[over:]...)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, entity string, limit int) ([]importer.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []importer.Result
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if entity == "" || strings.EqualFold(j.entries[i].Entity, entity) {
			out = append(out, j.entries[i])
		}
	}
	return out, nil
}

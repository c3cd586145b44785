package memory

import (
	"context"

	"specforge/internal/core/tx"
)

type txKey struct{}

var (
	_ tx.Manager     = (*Store)(nil)
	_ tx.Savepointer = (*Store)(nil)
)

// RunInTransaction snapshots every table, runs fn and restores the snapshot
// when fn fails. Nested calls join the outer transaction. Writers outside
// fn are not isolated from it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	return s.RunInSavepoint(ctx, fn)
}

// RunInSavepoint always takes its own snapshot, so a failing fn undoes only
// its own writes.
func (s *Store) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.tables = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) snapshot() map[string]*table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*table, len(s.tables))
	for k, t := range s.tables {
		out[k] = t.clone()
	}
	return out
}

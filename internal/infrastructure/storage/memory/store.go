// Package memory is an in-process RecordStore. It backs tests, dry runs and
// single-process deployments without DATABASE_URL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"specforge/internal/core/apperror"
	"specforge/internal/core/id"
	"specforge/internal/domain"
	"specforge/internal/metadata"
)

type table struct {
	rows   map[id.RecordID]domain.Row
	nextID id.RecordID
}

func (t *table) clone() *table {
	c := &table{rows: make(map[id.RecordID]domain.Row, len(t.rows)), nextID: t.nextID}
	for k, r := range t.rows {
		c.rows[k] = copyRow(r)
	}
	return c
}

// Store keeps rows per entity behind one RWMutex.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

var _ domain.RecordStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func key(e *metadata.Entity) string { return strings.ToLower(e.Name) }

// EnsureSchema creates missing tables and seeds their null reference records
// in dependency order. Existing rows are kept.
func (s *Store) EnsureSchema(ctx context.Context, sc *metadata.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range sc.Entities() {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, ok := s.tables[key(e)]
		if !ok {
			t = &table{rows: make(map[id.RecordID]domain.Row), nextID: metadata.NullRecordID + 1}
			s.tables[key(e)] = t
		}
		if _, seeded := t.rows[metadata.NullRecordID]; !seeded {
			t.rows[metadata.NullRecordID] = domain.NullRow(e)
		}
	}
	// every null record must reference existing null records
	for _, e := range sc.Entities() {
		if err := s.checkForeignKeys(e, s.tables[key(e)].rows[metadata.NullRecordID]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) table(e *metadata.Entity) (*table, error) {
	t, ok := s.tables[key(e)]
	if !ok {
		return nil, apperror.NewNotFound("table", e.Table)
	}
	return t, nil
}

func visible(r domain.Row, f domain.ReadFilter) bool {
	if r.IsSystem() && !f.IncludeSystem {
		return false
	}
	if r.QL() != 0 && !f.IncludeDefective {
		return false
	}
	for _, item := range f.Where {
		if !item.Match(r[item.Field]) {
			return false
		}
	}
	return true
}

func (s *Store) selectRows(e *metadata.Entity, f domain.ReadFilter) ([]domain.Row, error) {
	for _, item := range f.Where {
		if err := item.Validate(); err != nil {
			return nil, apperror.NewValidation(err.Error())
		}
		if _, ok := e.Column(item.Field); !ok {
			return nil, apperror.NewValidation(fmt.Sprintf("unknown column %q", item.Field)).WithDetail("entity", e.Name)
		}
	}
	t, err := s.table(e)
	if err != nil {
		return nil, err
	}
	ids := make([]id.RecordID, 0, len(t.rows))
	for rid, r := range t.rows {
		if visible(r, f) {
			ids = append(ids, rid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]domain.Row, 0, len(ids))
	for _, rid := range ids {
		out = append(out, copyRow(t.rows[rid]))
	}
	return out, nil
}

// List returns matching rows ordered by id.
func (s *Store) List(ctx context.Context, e *metadata.Entity, f domain.ReadFilter) ([]domain.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.selectRows(e, f)
	if err != nil {
		return nil, err
	}
	if f.Offset > 0 {
		if f.Offset >= len(rows) {
			return []domain.Row{}, nil
		}
		rows = rows[f.Offset:]
	}
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

// Count counts matching rows.
func (s *Store) Count(ctx context.Context, e *metadata.Entity, f domain.ReadFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.selectRows(e, f)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Get returns a row by id.
func (s *Store) Get(ctx context.Context, e *metadata.Entity, rid id.RecordID) (domain.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(e)
	if err != nil {
		return nil, err
	}
	r, ok := t.rows[rid]
	if !ok {
		return nil, apperror.NewNotFound(e.Name, rid)
	}
	return copyRow(r), nil
}

// Exists checks a row id.
func (s *Store) Exists(ctx context.Context, e *metadata.Entity, rid id.RecordID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(e)
	if err != nil {
		return false, err
	}
	_, ok := t.rows[rid]
	return ok, nil
}

// Insert stores a new row under the next id.
func (s *Store) Insert(ctx context.Context, e *metadata.Entity, row domain.Row) (id.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(e)
	if err != nil {
		return 0, err
	}
	stored, err := s.prepare(e, row)
	if err != nil {
		return 0, err
	}
	if err := s.checkUnique(e, t, stored, 0); err != nil {
		return 0, err
	}
	rid := t.nextID
	t.nextID++
	stored[metadata.ColID] = rid
	stored[metadata.ColSys] = false
	t.rows[rid] = stored
	return rid, nil
}

// Update replaces data and quality columns of a row.
func (s *Store) Update(ctx context.Context, e *metadata.Entity, rid id.RecordID, row domain.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(e)
	if err != nil {
		return err
	}
	if rid == metadata.NullRecordID {
		return apperror.NewConflict("the null reference record is read-only").WithDetail("entity", e.Name)
	}
	if _, ok := t.rows[rid]; !ok {
		return apperror.NewNotFound(e.Name, rid)
	}
	stored, err := s.prepare(e, row)
	if err != nil {
		return err
	}
	if err := s.checkUnique(e, t, stored, rid); err != nil {
		return err
	}
	stored[metadata.ColID] = rid
	stored[metadata.ColSys] = false
	t.rows[rid] = stored
	return nil
}

// prepare keeps known columns only and checks FK targets.
func (s *Store) prepare(e *metadata.Entity, row domain.Row) (domain.Row, error) {
	stored := make(domain.Row, len(e.Columns))
	for k, v := range row {
		c, ok := e.Column(k)
		if !ok {
			return nil, apperror.NewInternal(fmt.Errorf("%s has no column %q", e.Name, k))
		}
		if c.Name == metadata.ColID || c.Name == metadata.ColSys {
			continue
		}
		stored[c.Name] = v
	}
	for _, c := range e.Columns {
		if _, ok := stored[c.Name]; !ok && c.Name != metadata.ColID && c.Name != metadata.ColSys {
			stored[c.Name] = nil
		}
	}
	if stored[metadata.ColQL] == nil {
		stored[metadata.ColQL] = 0
	}
	if err := s.checkForeignKeys(e, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) checkForeignKeys(e *metadata.Entity, row domain.Row) error {
	for _, fk := range e.ForeignKeys {
		v := row[fk.Column]
		if v == nil {
			return apperror.NewInvariant(fmt.Sprintf("%s.%s is NULL; empty references must point at the null reference record", e.Name, fk.Column))
		}
		rid, err := cast.ToInt64E(v)
		if err != nil {
			return apperror.NewInvariant(fmt.Sprintf("%s.%s holds non-id value %v", e.Name, fk.Column, v))
		}
		target, ok := s.tables[strings.ToLower(fk.Target)]
		if !ok {
			return apperror.NewInvariant(fmt.Sprintf("%s.%s targets missing table %s", e.Name, fk.Column, fk.Target))
		}
		if _, ok := target.rows[rid]; !ok {
			return apperror.NewInvariant(fmt.Sprintf("%s.%s points at missing %s row %d", e.Name, fk.Column, fk.Target, rid)).
				WithDetail("entity", e.Name).WithDetail("column", fk.Column).WithDetail("id", rid)
		}
	}
	return nil
}

// checkUnique enforces unique key groups over clean, non-system rows.
func (s *Store) checkUnique(e *metadata.Entity, t *table, row domain.Row, self id.RecordID) error {
	if cast.ToInt(row[metadata.ColQL]) != 0 {
		return nil
	}
	for _, g := range e.UniqueKeys {
		for rid, other := range t.rows {
			if rid == self || other.IsSystem() || other.QL() != 0 {
				continue
			}
			same := true
			for _, col := range g.Columns {
				if cast.ToString(other[col]) != cast.ToString(row[col]) {
					same = false
					break
				}
			}
			if same {
				vals := make([]string, len(g.Columns))
				for i, col := range g.Columns {
					vals[i] = cast.ToString(row[col])
				}
				return apperror.NewDuplicate(e.Name, strings.Join(g.Columns, ", "), strings.Join(vals, ", "))
			}
		}
	}
	return nil
}

func copyRow(r domain.Row) domain.Row {
	c := make(domain.Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

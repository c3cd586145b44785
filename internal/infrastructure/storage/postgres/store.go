package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/cast"

	"specforge/internal/core/apperror"
	"specforge/internal/core/id"
	"specforge/internal/domain"
	"specforge/internal/domain/filter"
	"specforge/internal/metadata"
	"specforge/pkg/logger"
)

// Store is the PostgreSQL RecordStore. Queries run on the transaction in
// ctx when there is one.
type Store struct {
	txm *TxManager

	mu     sync.RWMutex
	tables map[string]string
}

var _ domain.RecordStore = (*Store)(nil)

// NewStore creates a store on txm.
func NewStore(txm *TxManager) *Store {
	return &Store{txm: txm, tables: make(map[string]string)}
}

// table maps an entity name to its table as of the last EnsureSchema.
func (s *Store) table(entity string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[strings.ToLower(entity)]; ok {
		return t
	}
	return metadata.ToSnake(entity)
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// EnsureSchema applies the DDL and seeds the null reference record of
// every entity in dependency order, all in one transaction.
func (s *Store) EnsureSchema(ctx context.Context, sc *metadata.Schema) error {
	ddl := GenerateDDL(sc)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		q := s.txm.GetQuerier(ctx)
		if err := ApplyDDL(ctx, q, ddl); err != nil {
			return err
		}
		for _, e := range sc.Entities() {
			sql, args, err := seedQuery(e)
			if err != nil {
				return fmt.Errorf("build null record of %s: %w", e.Name, err)
			}
			tag, err := q.Exec(ctx, sql, args...)
			if err != nil {
				return fmt.Errorf("seed null record of %s: %w", e.Name, err)
			}
			if tag.RowsAffected() > 0 {
				logger.Info(ctx, "null reference record seeded", "entity", e.Name, "table", e.Table)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range sc.Entities() {
		s.tables[strings.ToLower(e.Name)] = e.Table
	}
	return nil
}

func seedQuery(e *metadata.Entity) (string, []any, error) {
	values := make(map[string]any, len(e.Columns))
	for k, v := range domain.NullRow(e) {
		c, _ := e.Column(k)
		values[quote(k)] = toDB(c, v)
	}
	return Builder().
		Insert(quote(e.Table)).
		SetMap(values).
		Suffix("ON CONFLICT (" + quote(metadata.ColID) + ") DO NOTHING").
		ToSql()
}

func selectColumns(e *metadata.Entity) []string {
	cols := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		cols[i] = quote(c.Name)
	}
	return cols
}

// readQuery applies the read-path predicate and column filters.
func readQuery(e *metadata.Entity, q squirrel.SelectBuilder, f domain.ReadFilter) (squirrel.SelectBuilder, error) {
	if !f.IncludeDefective {
		q = q.Where(squirrel.Eq{quote(metadata.ColQL): 0})
	}
	if !f.IncludeSystem {
		q = q.Where(squirrel.Eq{quote(metadata.ColSys): false})
	}
	return applyFilters(e, q, f.Where)
}

// applyFilters whitelists columns against the entity before quoting them.
func applyFilters(e *metadata.Entity, q squirrel.SelectBuilder, items []filter.Item) (squirrel.SelectBuilder, error) {
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return q, apperror.NewValidation(err.Error())
		}
		c, ok := e.Column(item.Field)
		if !ok {
			return q, apperror.NewValidation(fmt.Sprintf("unknown column %q", item.Field)).WithDetail("entity", e.Name)
		}
		col := quote(c.Name)

		switch item.Operator {
		case filter.Equal:
			q = q.Where(squirrel.Eq{col: toDB(c, item.Value)})
		case filter.NotEqual:
			q = q.Where(squirrel.NotEq{col: toDB(c, item.Value)})
		case filter.LessOrEqual:
			q = q.Where(squirrel.LtOrEq{col: toDB(c, item.Value)})
		case filter.GreaterOrEqual:
			q = q.Where(squirrel.GtOrEq{col: toDB(c, item.Value)})
		case filter.InList:
			q = q.Where(squirrel.Eq{col: item.ListValues()})
		case filter.IsNull:
			q = q.Where(squirrel.Eq{col: nil})
		case filter.IsNotNull:
			q = q.Where(squirrel.NotEq{col: nil})
		case filter.Contains:
			q = q.Where(squirrel.ILike{col + "::text": fmt.Sprintf("%%%v%%", item.Value)})
		}
	}
	return q, nil
}

func listQuery(e *metadata.Entity, f domain.ReadFilter) (string, []any, error) {
	q, err := readQuery(e, Builder().Select(selectColumns(e)...).From(quote(e.Table)), f)
	if err != nil {
		return "", nil, err
	}
	q = q.OrderBy(quote(metadata.ColID))
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q.ToSql()
}

// List returns matching rows ordered by id.
func (s *Store) List(ctx context.Context, e *metadata.Entity, f domain.ReadFilter) ([]domain.Row, error) {
	sql, args, err := listQuery(e, f)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &raw, sql, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", e.Table, err)
	}
	out := make([]domain.Row, len(raw))
	for i, m := range raw {
		out[i] = fromDB(m)
	}
	return out, nil
}

// Count counts matching rows.
func (s *Store) Count(ctx context.Context, e *metadata.Entity, f domain.ReadFilter) (int64, error) {
	q, err := readQuery(e, Builder().Select("COUNT(*)").From(quote(e.Table)), f)
	if err != nil {
		return 0, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var n int64
	if err := s.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", e.Table, err)
	}
	return n, nil
}

// Get returns a row by id.
func (s *Store) Get(ctx context.Context, e *metadata.Entity, rid id.RecordID) (domain.Row, error) {
	sql, args, err := Builder().
		Select(selectColumns(e)...).
		From(quote(e.Table)).
		Where(squirrel.Eq{quote(metadata.ColID): rid}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var raw map[string]any
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &raw, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(e.Name, rid)
		}
		return nil, fmt.Errorf("get %s: %w", e.Table, err)
	}
	return fromDB(raw), nil
}

// Exists checks a row id.
func (s *Store) Exists(ctx context.Context, e *metadata.Entity, rid id.RecordID) (bool, error) {
	return s.exists(ctx, e.Table, rid)
}

func (s *Store) exists(ctx context.Context, table string, rid id.RecordID) (bool, error) {
	sql, args, err := Builder().
		Select("1").
		From(quote(table)).
		Where(squirrel.Eq{quote(metadata.ColID): rid}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	var one int
	err = s.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	return true, nil
}

// Insert stores a new row and returns its id.
func (s *Store) Insert(ctx context.Context, e *metadata.Entity, row domain.Row) (id.RecordID, error) {
	values, err := s.prepare(ctx, e, row)
	if err != nil {
		return 0, err
	}
	sql, args, err := Builder().
		Insert(quote(e.Table)).
		SetMap(values).
		Suffix("RETURNING " + quote(metadata.ColID)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}
	var rid id.RecordID
	if err := s.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&rid); err != nil {
		return 0, mapError(e, err)
	}
	return rid, nil
}

// Update replaces data and quality columns of a row. The null reference
// record is read-only.
func (s *Store) Update(ctx context.Context, e *metadata.Entity, rid id.RecordID, row domain.Row) error {
	if rid == metadata.NullRecordID {
		return apperror.NewConflict("the null reference record is read-only").WithDetail("entity", e.Name)
	}
	values, err := s.prepare(ctx, e, row)
	if err != nil {
		return err
	}
	sql, args, err := Builder().
		Update(quote(e.Table)).
		SetMap(values).
		Where(squirrel.Eq{quote(metadata.ColID): rid}).
		Where(squirrel.Eq{quote(metadata.ColSys): false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return mapError(e, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(e.Name, rid)
	}
	return nil
}

// prepare maps a row to quoted column values and checks FK targets. FK
// constraints are deferred to commit, so dangling ids are caught here.
func (s *Store) prepare(ctx context.Context, e *metadata.Entity, row domain.Row) (map[string]any, error) {
	values := make(map[string]any, len(e.Columns))
	for k, v := range row {
		c, ok := e.Column(k)
		if !ok {
			return nil, apperror.NewInternal(fmt.Errorf("%s has no column %q", e.Name, k))
		}
		if c.Name == metadata.ColID || c.Name == metadata.ColSys {
			continue
		}
		values[quote(c.Name)] = toDB(c, v)
	}
	for _, c := range e.Columns {
		if _, ok := values[quote(c.Name)]; !ok && c.Name != metadata.ColID && c.Name != metadata.ColSys {
			values[quote(c.Name)] = nil
		}
	}
	if values[quote(metadata.ColQL)] == nil {
		values[quote(metadata.ColQL)] = 0
	}
	values[quote(metadata.ColSys)] = false

	for _, fk := range e.ForeignKeys {
		v := row[fk.Column]
		if v == nil {
			return nil, apperror.NewInvariant(fmt.Sprintf("%s.%s is NULL; empty references must point at the null reference record", e.Name, fk.Column))
		}
		rid, err := cast.ToInt64E(v)
		if err != nil {
			return nil, apperror.NewInvariant(fmt.Sprintf("%s.%s holds non-id value %v", e.Name, fk.Column, v))
		}
		if rid == metadata.NullRecordID {
			continue
		}
		found, err := s.exists(ctx, s.table(fk.Target), rid)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, apperror.NewInvariant(fmt.Sprintf("%s.%s points at missing %s row %d", e.Name, fk.Column, fk.Target, rid)).
				WithDetail("entity", e.Name).WithDetail("column", fk.Column).WithDetail("id", rid)
		}
	}
	return values, nil
}

func mapError(e *metadata.Entity, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperror.NewDuplicate(e.Name, pgErr.ConstraintName, pgErr.Detail).WithCause(err)
		case "23503":
			return apperror.NewInvariant(fmt.Sprintf("%s: %s", e.Name, pgErr.Message)).WithCause(err)
		case "23502":
			return apperror.NewInvariant(fmt.Sprintf("%s.%s is NULL", e.Name, pgErr.ColumnName)).WithCause(err)
		}
	}
	return fmt.Errorf("write %s: %w", e.Table, err)
}

// toDB converts an engine value for a column parameter. Dates travel as
// YYYY-MM-DD strings inside the engine.
func toDB(c *metadata.Column, v any) any {
	if v == nil || c == nil {
		return v
	}
	if c.Scalar == metadata.ScalarDate && c.FK == nil {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(metadata.DateLayout, s); err == nil {
				return t
			}
		}
	}
	return v
}

// fromDB normalizes scanned values to the shapes the engine produces.
func fromDB(m map[string]any) domain.Row {
	row := make(domain.Row, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case time.Time:
			row[k] = x.Format(metadata.DateLayout)
		case int32:
			if k == metadata.ColQL {
				row[k] = int(x)
			} else {
				row[k] = int64(x)
			}
		case int16:
			row[k] = int64(x)
		case float32:
			row[k] = float64(x)
		default:
			row[k] = v
		}
	}
	return row
}

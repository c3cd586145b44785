package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"specforge/internal/metadata"
	"specforge/pkg/logger"
)

// labelDepth bounds nested FK label rendering in views; self references
// would otherwise recurse forever.
const labelDepth = 3

// DDL is the generated schema, grouped by apply phase.
type DDL struct {
	DropViews   []string
	Tables      []string
	Columns     []string
	Indexes     []string
	ForeignKeys []string
	Views       []string
}

// Statements returns every statement in apply order.
func (d DDL) Statements() []string {
	var out []string
	for _, phase := range [][]string{d.DropViews, d.Tables, d.Columns, d.Indexes, d.ForeignKeys, d.Views} {
		out = append(out, phase...)
	}
	return out
}

// String renders the script.
func (d DDL) String() string {
	return strings.Join(d.Statements(), ";\n\n") + ";\n"
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sqlType maps a column to its Postgres type.
func sqlType(c *metadata.Column) string {
	if c.FK != nil {
		return "bigint"
	}
	switch c.Scalar {
	case metadata.ScalarInteger:
		if c.Name == metadata.ColQL {
			return "integer"
		}
		return "bigint"
	case metadata.ScalarReal:
		return "double precision"
	case metadata.ScalarDate:
		return "date"
	case metadata.ScalarBoolean:
		return "boolean"
	default:
		return "text"
	}
}

func columnDef(c *metadata.Column) string {
	if c.Name == metadata.ColID {
		// id 1 is seeded explicitly for the null reference record
		return quote(c.Name) + " bigint GENERATED BY DEFAULT AS IDENTITY (START WITH 2) PRIMARY KEY"
	}
	var b strings.Builder
	b.WriteString(quote(c.Name))
	b.WriteByte(' ')
	b.WriteString(sqlType(c))
	if c.FK != nil || c.Required() || (c.System && !c.Nullable) {
		b.WriteString(" NOT NULL")
	}
	if c.Default != nil && c.FK == nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(literal(*c.Default))
	}
	return b.String()
}

// GenerateDDL builds tables, add-only column migrations, partial unique
// indexes over clean rows, deferred FK constraints and label views. Tables
// follow the schema's dependency order.
func GenerateDDL(s *metadata.Schema) DDL {
	var d DDL
	entities := s.Entities()

	for _, e := range entities {
		d.DropViews = append(d.DropViews, "DROP VIEW IF EXISTS "+quote(e.View.Name))

		defs := make([]string, 0, len(e.Columns))
		for _, c := range e.Columns {
			defs = append(defs, "\t"+columnDef(c))
		}
		d.Tables = append(d.Tables, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", quote(e.Table), strings.Join(defs, ",\n")))

		for _, c := range e.Columns {
			if c.System {
				continue
			}
			d.Columns = append(d.Columns, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", quote(e.Table), quote(c.Name), sqlType(c)))
		}

		for _, g := range e.UniqueKeys {
			d.Indexes = append(d.Indexes, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE %s",
				quote(g.Name), quote(e.Table), quoteList(g.Columns), qualifiedPredicate()))
		}
		for _, g := range e.Indexes {
			d.Indexes = append(d.Indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				quote(g.Name), quote(e.Table), quoteList(g.Columns)))
		}

		for _, fk := range e.ForeignKeys {
			target, _ := s.Entity(fk.Target)
			name := "fk_" + e.Table + "_" + fk.Column
			// ADD CONSTRAINT has no IF NOT EXISTS; an error would abort the
			// surrounding transaction
			d.ForeignKeys = append(d.ForeignKeys, fmt.Sprintf(
				"DO $$ BEGIN\n\tIF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = %s) THEN\n\t\tALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) DEFERRABLE INITIALLY DEFERRED;\n\tEND IF;\nEND $$",
				literal(name), quote(e.Table), quote(name), quote(fk.Column), quote(target.Table), quote(metadata.ColID)))
		}
	}

	for _, e := range entities {
		d.Views = append(d.Views, viewSQL(s, e))
	}
	return d
}

func quoteList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = quote(c)
	}
	return strings.Join(q, ", ")
}

func qualifiedPredicate() string {
	return quote(metadata.ColQL) + " = 0 AND " + quote(metadata.ColSys) + " = false"
}

func viewSQL(s *metadata.Schema, e *metadata.Entity) string {
	cols := []string{"t.*"}
	for i, l := range e.View.Labels {
		target, _ := s.Entity(l.Target)
		alias := fmt.Sprintf("l%d", i)
		cols = append(cols, fmt.Sprintf("CASE WHEN t.%s = %d THEN NULL ELSE (SELECT %s FROM %s %s WHERE %s.%s = t.%s) END AS %s",
			quote(l.Column), metadata.NullRecordID,
			labelSQL(s, target, alias, 1), quote(target.Table), alias,
			alias, quote(metadata.ColID), quote(l.Column), quote(l.Alias)))
	}
	return fmt.Sprintf("CREATE VIEW %s AS\nSELECT %s\nFROM %s t\nWHERE %s",
		quote(e.View.Name), strings.Join(cols, ",\n\t"), quote(e.Table), qualifiedPredicate())
}

// labelSQL renders the label expression of e for rows aliased as alias.
func labelSQL(s *metadata.Schema, e *metadata.Entity, alias string, depth int) string {
	if e.Label == nil {
		return alias + "." + quote(metadata.ColID) + "::text"
	}
	if !e.Label.IsConcat() {
		return alias + "." + quote(e.Label.Column) + "::text"
	}
	parts := make([]string, 0, len(e.Label.Parts))
	for i, p := range e.Label.Parts {
		switch {
		case p.IsLiteral():
			parts = append(parts, literal(p.Literal))
		case p.Target != "" && depth < labelDepth:
			target, _ := s.Entity(p.Target)
			inner := fmt.Sprintf("%s_%d", alias, i)
			parts = append(parts, fmt.Sprintf("(SELECT %s FROM %s %s WHERE %s.%s = %s.%s)",
				labelSQL(s, target, inner, depth+1), quote(target.Table), inner,
				inner, quote(metadata.ColID), alias, quote(p.Column)))
		default:
			parts = append(parts, alias+"."+quote(p.Column)+"::text")
		}
	}
	return "concat(" + strings.Join(parts, ", ") + ")"
}

// ApplyDDL executes statements in order. Every statement is idempotent;
// duplicate objects (42710) reported outside a transaction are skipped.
func ApplyDDL(ctx context.Context, q Querier, d DDL) error {
	for _, stmt := range d.Statements() {
		if _, err := q.Exec(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42710" {
				logger.Debug(ctx, "DDL skipped (already exists)", "constraint", pgErr.ConstraintName)
				continue
			}
			return fmt.Errorf("apply DDL: %w\n%s", err, stmt)
		}
	}
	return nil
}

package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/core/apperror"
	"specforge/internal/core/tx"
	"specforge/internal/domain"
	"specforge/internal/domain/filter"
	"specforge/internal/domain/importer"
	"specforge/internal/infrastructure/storage/memory"
	"specforge/internal/metadata"
	"specforge/internal/metadata/schematest"
)

func setup(t *testing.T) (*memory.Store, *metadata.Schema) {
	t.Helper()
	s := schematest.Fixture(t)
	store := memory.New()
	require.NoError(t, store.EnsureSchema(context.Background(), s))
	return store, s
}

func entity(t *testing.T, s *metadata.Schema, name string) *metadata.Entity {
	t.Helper()
	e, ok := s.Entity(name)
	require.True(t, ok)
	return e
}

func TestEnsureSchemaSeedsNullRecords(t *testing.T) {
	store, s := setup(t)
	ctx := context.Background()

	for _, e := range s.Entities() {
		row, err := store.Get(ctx, e, metadata.NullRecordID)
		require.NoError(t, err)
		assert.True(t, row.IsSystem(), e.Name)
		for _, fk := range e.ForeignKeys {
			assert.Equal(t, metadata.NullRecordID, row[fk.Column])
		}
	}

	require.NoError(t, store.EnsureSchema(ctx, s), "ensure twice keeps existing rows")
	n, err := store.Count(ctx, entity(t, s, "Client"), domain.All())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReadPath(t *testing.T) {
	store, s := setup(t)
	ctx := context.Background()
	client := entity(t, s, "Client")

	_, err := store.Insert(ctx, client, domain.Row{"name": "Acme Corp", "_ql": 0})
	require.NoError(t, err)
	_, err = store.Insert(ctx, client, domain.Row{"name": "Broken", "_ql": 2})
	require.NoError(t, err)

	clean, err := store.List(ctx, client, domain.ReadFilter{})
	require.NoError(t, err)
	require.Len(t, clean, 1)
	assert.Equal(t, "Acme Corp", clean[0]["name"])

	stored, err := store.List(ctx, client, domain.Stored())
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	all, err := store.List(ctx, client, domain.All())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := store.List(ctx, client, domain.ReadFilter{IncludeDefective: true, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Broken", page[0]["name"])

	hit, err := store.List(ctx, client, domain.ReadFilter{Where: []filter.Item{{Field: "name", Operator: filter.Contains, Value: "acme"}}})
	require.NoError(t, err)
	assert.Len(t, hit, 1)

	_, err = store.List(ctx, client, domain.ReadFilter{Where: []filter.Item{filter.Eq("nope", 1)}})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestWritesCheckInvariants(t *testing.T) {
	store, s := setup(t)
	ctx := context.Background()
	task := entity(t, s, "Task")

	_, err := store.Insert(ctx, task, domain.Row{"title": "x", "project_id": int64(42), "assignee_id": int64(1), "status": "A"})
	assert.True(t, apperror.IsInvariant(err))

	_, err = store.Insert(ctx, task, domain.Row{"title": "x", "project_id": nil, "assignee_id": int64(1), "status": "A"})
	assert.True(t, apperror.IsInvariant(err))

	rid, err := store.Insert(ctx, task, domain.Row{"title": "x", "project_id": int64(1), "assignee_id": int64(1), "status": "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rid)

	_, err = store.Insert(ctx, task, domain.Row{"title": "x", "project_id": int64(1), "assignee_id": int64(1), "status": "A"})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))

	err = store.Update(ctx, task, metadata.NullRecordID, domain.Row{"title": "y"})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	err = store.Update(ctx, task, 99, domain.Row{"title": "y", "project_id": int64(1), "assignee_id": int64(1)})
	assert.True(t, apperror.IsNotFound(err))

	_, err = store.Insert(ctx, task, domain.Row{"bogus": 1})
	assert.True(t, apperror.HasCode(err, apperror.CodeInternal))
}

func TestSavepointUndoesOnlyItsWrites(t *testing.T) {
	store, s := setup(t)
	ctx := context.Background()
	client := entity(t, s, "Client")

	err := store.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := store.Insert(ctx, client, domain.Row{"name": "Kept"}); err != nil {
			return err
		}
		failed := tx.Nested(ctx, store, func(ctx context.Context) error {
			if _, err := store.Insert(ctx, client, domain.Row{"name": "Dropped"}); err != nil {
				return err
			}
			return errors.New("boom")
		})
		assert.Error(t, failed)
		return nil
	})
	require.NoError(t, err)

	rows, err := store.List(ctx, client, domain.ReadFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Kept", rows[0]["name"])

	err = store.RunInTransaction(ctx, func(ctx context.Context) error {
		_, _ = store.Insert(ctx, client, domain.Row{"name": "Gone"})
		return errors.New("abort")
	})
	assert.Error(t, err)
	n, err := store.Count(ctx, client, domain.ReadFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestJournal(t *testing.T) {
	j := memory.NewJournal(2)
	ctx := context.Background()
	for _, e := range []string{"Client", "Task", "Client"} {
		require.NoError(t, j.Record(ctx, &importer.Result{Entity: e}))
	}

	all, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2, "oldest entries are evicted")
	assert.Equal(t, "Client", all[0].Entity)
	assert.Equal(t, "Task", all[1].Entity)

	clients, err := j.Recent(ctx, "client", 10)
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

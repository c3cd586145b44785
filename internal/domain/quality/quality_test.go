package quality_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/domain"
	"specforge/internal/domain/lookup"
	"specforge/internal/domain/quality"
	"specforge/internal/domain/resolve"
	"specforge/internal/domain/validation"
	"specforge/internal/infrastructure/storage/memory"
	"specforge/internal/metadata"
	"specforge/internal/metadata/schematest"
)

type env struct {
	schema     *metadata.Schema
	store      *memory.Store
	reconciler *quality.Reconciler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := schematest.Fixture(t)
	store := memory.New()
	require.NoError(t, store.EnsureSchema(context.Background(), s))
	return &env{schema: s, store: store, reconciler: quality.NewReconciler(validation.NewRules())}
}

func (v *env) entity(t *testing.T, name string) *metadata.Entity {
	t.Helper()
	e, ok := v.schema.Entity(name)
	require.True(t, ok)
	return e
}

// run resolves and reconciles one record the way a load does.
func (v *env) run(t *testing.T, entity string, rec domain.Record, accept int) quality.Outcome {
	t.Helper()
	e := v.entity(t, entity)
	res, err := resolve.NewResolver(lookup.NewBuilder(v.store, v.schema), nil).Resolve(context.Background(), e, 1, rec)
	require.NoError(t, err)
	out, err := v.reconciler.Reconcile(context.Background(), e, res.Record, res.Warnings, accept)
	require.NoError(t, err)
	return out
}

func TestCleanRecord(t *testing.T) {
	v := newEnv(t)
	prj, err := v.store.Insert(context.Background(), v.entity(t, "Project"),
		domain.Row{"client": "Acme Corp", "code": "PRJ001", "manager_id": metadata.NullRecordID})
	require.NoError(t, err)

	out := v.run(t, "Task", domain.Record{"title": "Kickoff", "project": "Acme Corp-PRJ001", "status": "Active", "hours": "1,5"}, 0)
	require.True(t, out.Accepted)
	assert.True(t, out.Clean())
	assert.Empty(t, out.Deficits)
	assert.Equal(t, domain.Row{
		"title":       "Kickoff",
		"project_id":  prj,
		"assignee_id": metadata.NullRecordID,
		"hours":       1.5,
		"status":      "A",
		"_ql":         0,
		"_qd":         nil,
	}, out.Row)
}

func TestAcceptUnresolvedForeignKey(t *testing.T) {
	v := newEnv(t)

	out := v.run(t, "Task", domain.Record{"title": "Kickoff", "project": "Nope-PRJ404", "status": "A"}, 8)
	require.True(t, out.Accepted)
	assert.Equal(t, 8, out.Mask)
	assert.Equal(t, metadata.NullRecordID, out.Row["project_id"])
	assert.Equal(t, 8, out.Row["_ql"])
	require.Len(t, out.Deficits, 1)
	assert.Equal(t, "project_id", out.Deficits[0].Field)
	assert.Equal(t, "Nope-PRJ404", out.Deficits[0].Value)

	decoded, err := quality.Decode(out.Row["_qd"])
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "Nope-PRJ404", decoded[0].Value)

	out = v.run(t, "Task", domain.Record{"title": "Kickoff", "project": "Nope-PRJ404", "status": "Z"}, 8)
	assert.False(t, out.Accepted, "an extra invalid value is outside the accepted set")
	assert.Equal(t, 9, out.Mask)
	assert.Nil(t, out.Row)
}

func TestStrictByDefault(t *testing.T) {
	v := newEnv(t)
	out := v.run(t, "Task", domain.Record{"title": "Kickoff", "project": "Nope-PRJ404", "status": "A"}, 0)
	assert.False(t, out.Accepted)
	assert.Equal(t, 8, out.Mask)
}

func TestNeutralValues(t *testing.T) {
	v := newEnv(t)

	out := v.run(t, "Project", domain.Record{"client": "", "code": "bad", "budget": "lots"}, int(validation.AllBits))
	require.True(t, out.Accepted)
	assert.Equal(t, int(validation.BitInvalid|validation.BitRequired), out.Mask)
	assert.Equal(t, "", out.Row["client"])
	assert.Equal(t, "AAA000", out.Row["code"], "pattern example")
	assert.Equal(t, float64(0), out.Row["budget"], "NULL= override")
	assert.Equal(t, metadata.NullRecordID, out.Row["manager_id"])

	out = v.run(t, "Task", domain.Record{"title": "T", "status": "nope", "hours": 30}, int(validation.AllBits))
	require.True(t, out.Accepted)
	assert.Equal(t, "A", out.Row["status"], "first enum value")
	assert.Equal(t, float64(0), out.Row["hours"])
	assert.Equal(t, metadata.NullRecordID, out.Row["project_id"])
	assert.Equal(t, int(validation.BitInvalid|validation.BitRequiredFK), out.Mask)
}

func TestMaskIsOrOfDeficits(t *testing.T) {
	v := newEnv(t)
	records := []domain.Record{
		{"title": "a", "status": "A"},
		{"title": "", "project": "x", "status": "?"},
		{"title": "b", "project": "Nope", "hours": -1, "status": "I"},
	}
	for _, rec := range records {
		out := v.run(t, "Task", rec, int(validation.AllBits))
		require.True(t, out.Accepted)
		deficits, err := quality.Decode(out.Row["_qd"])
		require.NoError(t, err)
		assert.Equal(t, out.Row["_ql"], quality.Mask(deficits))
		assert.Equal(t, out.Mask == 0, out.Row["_qd"] == nil)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	v := newEnv(t)
	rec := domain.Record{"title": "", "project": "Nope", "hours": 99, "status": "A"}

	first := v.run(t, "Task", rec, int(validation.AllBits))
	second := v.run(t, "Task", rec, int(validation.AllBits))
	assert.Equal(t, first, second)
}

func TestPartialRepairRecomputes(t *testing.T) {
	v := newEnv(t)
	broken := v.run(t, "Task", domain.Record{"title": "", "hours": 99, "status": "A"}, int(validation.AllBits))
	assert.Equal(t, int(validation.BitInvalid|validation.BitRequired|validation.BitRequiredFK), broken.Mask)

	repaired := v.run(t, "Task", domain.Record{"title": "Fixed", "hours": 99, "status": "A"}, int(validation.AllBits))
	assert.Equal(t, int(validation.BitInvalid|validation.BitRequiredFK), repaired.Mask)
	assert.Len(t, repaired.Deficits, 2)
}

func TestConstraintDeficit(t *testing.T) {
	v := newEnv(t)
	out := v.run(t, "Project", domain.Record{"client": "Acme", "code": "PRJ001", "budget": 5e6}, int(validation.BitConstraint))
	require.True(t, out.Accepted)
	assert.Equal(t, 16, out.Mask)
	assert.Equal(t, float64(0), out.Row["budget"])
	assert.Equal(t, "budget_cap", out.Deficits[0].Code)
	assert.Equal(t, 5e6, out.Deficits[0].Value)
}

func TestAccepts(t *testing.T) {
	assert.True(t, quality.Accepts(0, 0))
	assert.True(t, quality.Accepts(8, 8))
	assert.True(t, quality.Accepts(8, 31))
	assert.False(t, quality.Accepts(9, 8))
	assert.False(t, quality.Accepts(1, 0))
}

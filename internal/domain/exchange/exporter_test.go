package exchange_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/domain"
	"specforge/internal/domain/exchange"
	"specforge/internal/domain/importer"
	"specforge/internal/infrastructure/storage/memory"
	"specforge/internal/metadata"
	"specforge/internal/metadata/schematest"
	"specforge/internal/metrics"
)

type staticSchema struct{ s *metadata.Schema }

func (s staticSchema) Current() *metadata.Schema { return s.s }

func newStore(t *testing.T, s *metadata.Schema) (*memory.Store, *importer.Service) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.EnsureSchema(context.Background(), s))
	return store, importer.NewService(importer.Config{
		Schemas:   staticSchema{s},
		Store:     store,
		TxManager: store,
		Metrics:   metrics.New(),
	})
}

var seed = []importer.Batch{
	{Entity: "Employee", Records: []domain.Record{
		{"name": "Boss", "email": "boss@example.com"},
		{"name": "Jane Doe", "manager": "Boss"},
	}},
	{Entity: "Client", Records: []domain.Record{
		{"name": "Acme Corp", "short": "ACME", "status": "A", "address": map[string]any{"street": "Main St 1", "zip": "1010", "city": "Vienna"}},
		{"name": "Widget Inc"},
	}},
	{Entity: "Project", Records: []domain.Record{
		{"client": "Acme Corp", "code": "PRJ001", "manager": "Jane Doe", "budget": 1000},
		{"client": "Widget Inc", "code": "PRJ002"},
	}},
	{Entity: "Task", Records: []domain.Record{
		{"title": "Kickoff", "project": "Acme-PRJ001", "assignee": "Jane Doe", "hours": 2, "status": "A"},
		{"title": "Review", "project": "Widget Inc-PRJ002", "status": "I"},
	}},
}

func TestExportRendersLabels(t *testing.T) {
	s := schematest.Fixture(t)
	store, svc := newStore(t, s)
	_, err := svc.LoadAll(context.Background(), seed)
	require.NoError(t, err)

	recs, err := exchange.NewExporter(staticSchema{s}, store).Export(context.Background(), "Task", exchange.Options{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.Record{
		"title":    "Kickoff",
		"project":  "Acme Corp-PRJ001",
		"assignee": "Jane Doe",
		"hours":    2.0,
		"status":   "A",
	}, recs[0])
	assert.Nil(t, recs[1]["assignee"], "null reference exports as empty")

	clients, err := exchange.NewExporter(staticSchema{s}, store).Export(context.Background(), "Client", exchange.Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"street": "Main St 1", "zip": "1010", "city": "Vienna"}, clients[0]["address"])
	assert.NotContains(t, clients[0], "_ql")
	assert.NotContains(t, clients[0], "id")
}

func TestRoundTrip(t *testing.T) {
	s := schematest.Fixture(t)
	store, svc := newStore(t, s)
	_, err := svc.LoadAll(context.Background(), seed)
	require.NoError(t, err)

	first, err := exchange.NewExporter(staticSchema{s}, store).ExportAll(context.Background(), exchange.Options{})
	require.NoError(t, err)

	fresh := schematest.Fixture(t)
	freshStore, freshSvc := newStore(t, fresh)
	var batches []importer.Batch
	for _, b := range first {
		batches = append(batches, importer.Batch{Entity: b.Entity, Records: b.Records})
	}
	results, err := freshSvc.LoadAll(context.Background(), batches)
	require.NoError(t, err)
	for _, r := range results {
		assert.Empty(t, r.FKWarnings, r.Entity)
		assert.Zero(t, r.Rejected, r.Entity)
	}

	second, err := exchange.NewExporter(staticSchema{fresh}, freshStore).ExportAll(context.Background(), exchange.Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExportDefective(t *testing.T) {
	s := schematest.Fixture(t)
	store, svc := newStore(t, s)
	_, err := svc.Load(context.Background(), importer.Batch{Entity: "Task", AcceptQL: 8, Records: []domain.Record{
		{"title": "Orphan", "project": "Ghost", "status": "A"},
	}})
	require.NoError(t, err)

	x := exchange.NewExporter(staticSchema{s}, store)
	recs, err := x.Export(context.Background(), "Task", exchange.Options{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = x.Export(context.Background(), "Task", exchange.Options{IncludeDefective: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0]["project"])
}

package computed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/core/apperror"
	"specforge/internal/domain/computed"
	"specforge/internal/metadata"
	"specforge/internal/metadata/schematest"
)

const invoice = `# Invoice

| Attribute | Type | Description | Example |
|---|---|---|---|
| number | text [LABEL] [UNIQUE] | | INV-1 |
| total | real [IMMEDIATE=sum(Item.amount)] | | |
| lines | integer [ON_DEMAND=count(Item.invoice)] | | |
`

const item = `# Item

| Attribute | Type | Description | Example |
|---|---|---|---|
| name | text [LABEL] | | Bolt |
| invoice | Invoice | | INV-1 |
| amount | real | | 10 |
`

type recorder struct {
	mu    sync.Mutex
	rules []string
	err   error
}

func (r *recorder) handle(_ context.Context, rule *metadata.ComputedRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule.Entity+"."+rule.Column)
	return r.err
}

func TestSyncRegistersPeriodicRules(t *testing.T) {
	rec := &recorder{}
	s := computed.NewScheduler(rec.handle)
	require.NoError(t, s.Sync(schematest.Fixture(t)))
	assert.Equal(t, []string{"Project.open_tasks"}, s.Scheduled())

	require.NoError(t, s.Sync(schematest.Compile(t, schematest.Catalog, invoice, item)))
	assert.Empty(t, s.Scheduled(), "reload drops rules of the previous schema")
}

func TestChangedFiresImmediateRules(t *testing.T) {
	rec := &recorder{}
	s := computed.NewScheduler(rec.handle)
	require.NoError(t, s.Sync(schematest.Compile(t, schematest.Catalog, invoice, item)))

	require.NoError(t, s.Changed(context.Background(), "Item"))
	assert.Equal(t, []string{"Invoice.total"}, rec.rules, "on-demand rules never fire on change")

	rec.rules = nil
	require.NoError(t, s.Changed(context.Background(), "Unrelated"))
	assert.Empty(t, rec.rules)

	rec.err = errors.New("boom")
	assert.ErrorContains(t, s.Changed(context.Background(), "invoice"), "Invoice.total")
}

func TestRun(t *testing.T) {
	rec := &recorder{}
	s := computed.NewScheduler(rec.handle)
	require.NoError(t, s.Sync(schematest.Compile(t, schematest.Catalog, invoice, item)))

	require.NoError(t, s.Run(context.Background(), "invoice", "lines"))
	assert.Equal(t, []string{"Invoice.lines"}, rec.rules)

	err := s.Run(context.Background(), "Invoice", "number")
	assert.True(t, apperror.IsNotFound(err))
	err = s.Run(context.Background(), "Nope", "x")
	assert.True(t, apperror.IsNotFound(err))
}

func TestStartStop(t *testing.T) {
	s := computed.NewScheduler(computed.LogHandler)
	require.NoError(t, s.Sync(schematest.Fixture(t)))
	s.Start()
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}

package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appctx "specforge/internal/core/context"
)

func TestWithContextAddsBatchFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{zap.New(core).Sugar()}

	ctx := appctx.WithBatch(context.Background(), &appctx.BatchContext{
		BatchID: "b-1",
		Entity:  "Project",
		DryRun:  true,
	})
	ctx = WithLogger(ctx, l)

	Warn(ctx, "fk unresolved", "field", "client")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "b-1", fields["batch_id"])
		assert.Equal(t, "Project", fields["entity"])
		assert.Equal(t, true, fields["dry_run"])
		assert.Equal(t, "client", fields["field"])
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}

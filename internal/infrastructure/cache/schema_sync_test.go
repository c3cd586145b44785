package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleNotification(t *testing.T) {
	calls := 0
	s := NewSchemaSync(nil, func(context.Context) error {
		calls++
		return nil
	})
	ctx := context.Background()

	assert.False(t, s.handleNotification(ctx, s.payload(3)), "own announcements are ignored")
	assert.Equal(t, 0, calls)

	assert.True(t, s.handleNotification(ctx, "other:4"))
	assert.Equal(t, 1, calls)

	assert.True(t, s.handleNotification(ctx, "garbage"))
	assert.Equal(t, 2, calls)
}

func TestHandleNotificationSurvivesFailures(t *testing.T) {
	ctx := context.Background()
	failing := NewSchemaSync(nil, func(context.Context) error { return errors.New("compile failed") })
	assert.True(t, failing.handleNotification(ctx, "other:1"))

	panicking := NewSchemaSync(nil, func(context.Context) error { panic("boom") })
	assert.NotPanics(t, func() { panicking.handleNotification(ctx, "other:1") })
}

func TestPayload(t *testing.T) {
	s := NewSchemaSync(nil, nil)
	assert.Equal(t, s.Instance()+":7", s.payload(7))
	assert.NotEqual(t, s.Instance(), NewSchemaSync(nil, nil).Instance())
}

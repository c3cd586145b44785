package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/core/apperror"
)

func TestReplayFor(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	never := func() error { t.Fatal("unexpected reclaim"); return nil }

	replay, err := replayFor(IdempotencyRecord{Status: IdempotencyStatusSuccess, Response: []byte(`{"loaded":1}`)}, now, never)
	require.NoError(t, err)
	assert.Equal(t, &IdempotencyReplay{StatusCode: 200, ContentType: "application/json", Body: []byte(`{"loaded":1}`)}, replay)

	replay, err = replayFor(IdempotencyRecord{Status: IdempotencyStatusFailed, StatusCode: 422, ContentType: "application/problem+json"}, now, never)
	require.NoError(t, err)
	assert.Equal(t, 422, replay.StatusCode)

	_, err = replayFor(IdempotencyRecord{Key: "k", Status: IdempotencyStatusPending, UpdatedAt: now.Add(-10 * time.Second)}, now, never)
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	reclaimed := false
	replay, err = replayFor(IdempotencyRecord{Status: IdempotencyStatusPending, UpdatedAt: now.Add(-2 * time.Minute)}, now, func() error {
		reclaimed = true
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, replay)
	assert.True(t, reclaimed)

	boom := errors.New("boom")
	_, err = replayFor(IdempotencyRecord{Status: IdempotencyStatusPending, UpdatedAt: now.Add(-2 * time.Minute)}, now, func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

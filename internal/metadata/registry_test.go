package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReloadSwapsSnapshot(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Current())
	_, err := r.Must()
	assert.Error(t, err)

	first, err := r.Reload(context.Background(), func(context.Context) (*Schema, error) {
		return &Schema{Order: []string{"A"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Same(t, first, r.Current())

	_, err = r.Reload(context.Background(), func(context.Context) (*Schema, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.Same(t, first, r.Current(), "failed reload keeps the previous snapshot")
	assert.Equal(t, int64(1), r.Version())

	second, err := r.Reload(context.Background(), func(context.Context) (*Schema, error) {
		return &Schema{Order: []string{"A", "B"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
}

func TestRegistryReloadCancelled(t *testing.T) {
	r := NewRegistry()
	_, err := r.Reload(context.Background(), func(context.Context) (*Schema, error) { return &Schema{}, nil })
	require.NoError(t, err)
	before := r.Current()

	ctx, cancel := context.WithCancel(context.Background())
	_, err = r.Reload(ctx, func(context.Context) (*Schema, error) {
		cancel()
		return &Schema{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Same(t, before, r.Current())
}

func TestRegistryReadersDuringReload(t *testing.T) {
	r := NewRegistry()
	var observed []time.Duration
	var mu sync.Mutex
	r.OnReload = func(d time.Duration, err error) {
		mu.Lock()
		observed = append(observed, d)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Reload(context.Background(), func(context.Context) (*Schema, error) {
				return &Schema{}, nil
			})
			_ = r.Current()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(4), r.Version())
	assert.Len(t, observed, 4)
}

package metadata

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"specforge/internal/core/apperror"
	"specforge/pkg/logger"
)

// BuildFunc produces a fresh Schema, typically by parsing documents and
// compiling them.
type BuildFunc func(ctx context.Context) (*Schema, error)

// Registry owns the active Schema snapshot. Readers call Current without
// locking; Reload builds a complete new snapshot and swaps it in. A failed
// or cancelled reload leaves the previous snapshot in place.
type Registry struct {
	current atomic.Pointer[Schema]
	mu      sync.Mutex
	version int64

	// OnReload observes every reload attempt; used for metrics.
	OnReload func(d time.Duration, err error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Current returns the active snapshot or nil before the first reload.
func (r *Registry) Current() *Schema {
	return r.current.Load()
}

// Version returns the version of the active snapshot.
func (r *Registry) Version() int64 {
	if s := r.current.Load(); s != nil {
		return s.Version
	}
	return 0
}

// Reload serializes against other writers, builds a new snapshot and
// installs it on success.
func (r *Registry) Reload(ctx context.Context, build BuildFunc) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	s, err := build(ctx)
	if err == nil && s == nil {
		err = apperror.NewCompile("", "build returned no schema")
	}
	if err == nil {
		// a build that outlived its context is discarded
		err = ctx.Err()
	}
	if r.OnReload != nil {
		r.OnReload(time.Since(start), err)
	}
	if err != nil {
		logger.Warn(ctx, "schema reload failed, keeping previous snapshot",
			"version", r.Version(), "error", err)
		return nil, err
	}

	r.version++
	s.Version = r.version
	r.current.Store(s)
	logger.Info(ctx, "schema installed",
		"version", s.Version,
		"entities", len(s.Order),
		"order", s.Order,
		"took", time.Since(start))
	return s, nil
}

// Must returns the active snapshot or a compile error when none is installed.
func (r *Registry) Must() (*Schema, error) {
	s := r.current.Load()
	if s == nil {
		return nil, apperror.NewCompile("", "no schema installed")
	}
	return s, nil
}

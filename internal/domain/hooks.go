package domain

import "context"

// HookEvent represents a record lifecycle event during a load.
type HookEvent string

const (
	BeforeInsert HookEvent = "before_insert"
	AfterInsert  HookEvent = "after_insert"
	BeforeUpdate HookEvent = "before_update"
	AfterUpdate  HookEvent = "after_update"
	// Rejected fires for records the quality layer refused to store.
	Rejected HookEvent = "rejected"
)

// Hook is a function that runs at specific lifecycle points.
type Hook[T any] func(ctx context.Context, item T) error

// HookRegistry stores lifecycle hooks. Registration is not synchronized;
// register everything before the first load.
type HookRegistry[T any] struct {
	hooks map[HookEvent][]Hook[T]
}

// NewHookRegistry creates an empty hook registry.
func NewHookRegistry[T any]() *HookRegistry[T] {
	return &HookRegistry[T]{
		hooks: make(map[HookEvent][]Hook[T]),
	}
}

// On registers a hook for the specified event.
func (r *HookRegistry[T]) On(event HookEvent, hook Hook[T]) {
	r.hooks[event] = append(r.hooks[event], hook)
}

// Run executes all hooks for the event and stops at the first error.
func (r *HookRegistry[T]) Run(ctx context.Context, event HookEvent, item T) error {
	for _, hook := range r.hooks[event] {
		if err := hook(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether any hook is registered for the event.
func (r *HookRegistry[T]) Has(event HookEvent) bool {
	return len(r.hooks[event]) > 0
}

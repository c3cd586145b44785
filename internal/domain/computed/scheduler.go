// Package computed dispatches computed-field rules to a refresh handler.
// Rules are never evaluated here: DAILY and HOURLY rules are registered
// with cron, IMMEDIATE rules fire when an entity they depend on changes,
// and ON_DEMAND rules run only through Run.
package computed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"specforge/internal/core/apperror"
	"specforge/internal/metadata"
	"specforge/pkg/logger"
)

// Handler refreshes the values of one computed column.
type Handler func(ctx context.Context, rule *metadata.ComputedRule) error

// Scheduler keeps cron entries in sync with the installed schema.
type Scheduler struct {
	handler Handler
	cron    *cron.Cron

	mu      sync.Mutex
	schema  *metadata.Schema
	entries map[string]cron.EntryID
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(handler Handler) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		handler: handler,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func ruleKey(r *metadata.ComputedRule) string {
	return r.Entity + "." + r.Column
}

// Sync replaces the registered rules with those of s.
func (s *Scheduler) Sync(sc *metadata.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, key)
	}
	s.schema = sc
	if sc == nil {
		return nil
	}

	for _, rule := range sc.ComputedRules() {
		spec, periodic := rule.Schedule.CronSpec()
		if !periodic {
			continue
		}
		rule := rule
		entryID, err := s.cron.AddFunc(spec, func() { s.fire(s.ctx, rule) })
		if err != nil {
			return fmt.Errorf("schedule %s: %w", ruleKey(rule), err)
		}
		s.entries[ruleKey(rule)] = entryID
	}
	logger.Info(s.ctx, "computed rules scheduled", "periodic", len(s.entries), "schema_version", sc.Version)
	return nil
}

// Scheduled lists the keys of rules with a cron entry.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for key := range s.entries {
		out = append(out, key)
	}
	return out
}

// Start begins firing periodic rules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop halts the cron loop and waits for running rules until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Run refreshes one rule now regardless of its schedule.
func (s *Scheduler) Run(ctx context.Context, entity, column string) error {
	s.mu.Lock()
	sc := s.schema
	s.mu.Unlock()

	e, ok := sc.Entity(entity)
	if !ok {
		return apperror.NewNotFound("entity", entity)
	}
	c, ok := e.Column(column)
	if !ok || c.Computed == nil {
		return apperror.NewNotFound("computed column", e.Name+"."+column)
	}
	return s.handler(ctx, c.Computed)
}

// Changed fires the IMMEDIATE rules that depend on entity.
// It is meant for importer after-write hooks.
func (s *Scheduler) Changed(ctx context.Context, entity string) error {
	s.mu.Lock()
	sc := s.schema
	s.mu.Unlock()
	if sc == nil {
		return nil
	}

	for _, rule := range sc.ComputedRules() {
		if rule.Schedule != metadata.ScheduleImmediate || !dependsOn(rule, entity) {
			continue
		}
		if err := s.handler(ctx, rule); err != nil {
			return fmt.Errorf("refresh %s: %w", ruleKey(rule), err)
		}
	}
	return nil
}

func dependsOn(rule *metadata.ComputedRule, entity string) bool {
	if strings.EqualFold(rule.Entity, entity) {
		return true
	}
	for _, d := range rule.Dependencies {
		if ent, _, ok := strings.Cut(d, "."); ok && strings.EqualFold(ent, entity) {
			return true
		}
	}
	return false
}

func (s *Scheduler) fire(ctx context.Context, rule *metadata.ComputedRule) {
	if err := s.handler(ctx, rule); err != nil {
		logger.Error(ctx, "computed rule failed", "rule", ruleKey(rule), "schedule", string(rule.Schedule), "error", err)
		return
	}
	logger.Debug(ctx, "computed rule refreshed", "rule", ruleKey(rule))
}

// LogHandler records due rules without touching data. It is the default
// when no refresh backend is configured.
func LogHandler(ctx context.Context, rule *metadata.ComputedRule) error {
	logger.Info(ctx, "computed rule due", "rule", ruleKey(rule), "schedule", string(rule.Schedule), "expr", rule.Rule)
	return nil
}

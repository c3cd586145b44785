package importer

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"specforge/internal/core/apperror"
	appctx "specforge/internal/core/context"
	"specforge/internal/core/id"
	"specforge/internal/core/tx"
	"specforge/internal/domain"
	"specforge/internal/domain/filter"
	"specforge/internal/domain/lookup"
	"specforge/internal/domain/quality"
	"specforge/internal/domain/resolve"
	"specforge/internal/domain/validation"
	"specforge/internal/metadata"
	"specforge/internal/metrics"
	"specforge/pkg/logger"
)

var tracer = otel.Tracer("specforge/importer")

// SchemaSource yields the active schema snapshot.
type SchemaSource interface {
	Current() *metadata.Schema
}

// Config configures the import service.
type Config struct {
	Schemas   SchemaSource
	Store     domain.RecordStore
	TxManager tx.Manager
	// Validator defaults to validation.NewRules().
	Validator validation.Validator
	// Metrics defaults to metrics.Metrics.
	Metrics *metrics.Collectors
	// ErrorLimit defaults to DefaultErrorLimit.
	ErrorLimit int
	// Journal, when set, records every committed write batch.
	Journal Journal
}

// Journal records batch results inside the batch transaction.
type Journal interface {
	Record(ctx context.Context, res *Result) error
}

// Service runs import batches.
type Service struct {
	schemas    SchemaSource
	store      domain.RecordStore
	txManager  tx.Manager
	reconciler *quality.Reconciler
	metrics    *metrics.Collectors
	hooks      *domain.HookRegistry[*Item]
	journal    Journal
	errorLimit int
}

// NewService creates an import service.
func NewService(cfg Config) *Service {
	if cfg.Validator == nil {
		cfg.Validator = validation.NewRules()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Metrics
	}
	if cfg.ErrorLimit <= 0 {
		cfg.ErrorLimit = DefaultErrorLimit
	}
	if cfg.TxManager == nil {
		cfg.TxManager = tx.Nop{}
	}
	return &Service{
		schemas:    cfg.Schemas,
		store:      cfg.Store,
		txManager:  cfg.TxManager,
		reconciler: quality.NewReconciler(cfg.Validator),
		metrics:    cfg.Metrics,
		hooks:      domain.NewHookRegistry[*Item](),
		journal:    cfg.Journal,
		errorLimit: cfg.ErrorLimit,
	}
}

// Hooks returns the hook registry for external registration.
func (s *Service) Hooks() *domain.HookRegistry[*Item] {
	return s.hooks
}

func (s *Service) schema() (*metadata.Schema, error) {
	sc := s.schemas.Current()
	if sc == nil {
		return nil, apperror.NewConflict("no schema has been compiled yet")
	}
	return sc, nil
}

// Load runs one batch. Records are processed strictly in input order so
// fuzzy matches cached for one record serve the following ones. A write
// batch is stored inside one transaction; per-record store failures are
// itemized and only invariant violations abort the batch.
func (s *Service) Load(ctx context.Context, b Batch) (*Result, error) {
	sc, err := s.schema()
	if err != nil {
		return nil, err
	}
	e, ok := sc.Entity(b.Entity)
	if !ok {
		return nil, apperror.NewNotFound("entity", b.Entity)
	}
	if b.AcceptQL < 0 || b.AcceptQL > int(validation.AllBits) {
		return nil, apperror.NewValidation(fmt.Sprintf("accept_ql must be between 0 and %d", validation.AllBits)).
			WithDetail("accept_ql", b.AcceptQL)
	}

	res := &Result{
		Entity:       e.Name,
		BatchID:      id.NewBatch(),
		DryRun:       b.DryRun,
		Errors:       []RowError{},
		FKWarnings:   []resolve.Warning{},
		FuzzyMatches: []resolve.FuzzyMatch{},
	}
	ctx = appctx.WithBatch(ctx, &appctx.BatchContext{BatchID: res.BatchID, Entity: e.Name, DryRun: b.DryRun})
	ctx, span := tracer.Start(ctx, "import.batch", trace.WithAttributes(
		attribute.String("entity", e.Name),
		attribute.Int("records", len(b.Records)),
		attribute.Bool("dry_run", b.DryRun),
	))
	defer span.End()

	start := time.Now()
	logger.Info(ctx, "import batch started", "records", len(b.Records), "accept_ql", b.AcceptQL)

	var pending map[string][]domain.Record
	if b.DryRun {
		// synthetic pending ids must never reach a write
		pending = b.Pending
	}
	run := &batchRun{
		Service:  s,
		entity:   e,
		batch:    b,
		result:   res,
		resolver: resolve.NewResolver(lookup.NewBuilder(s.store, sc), pending),
	}

	if b.DryRun {
		err = run.records(ctx)
	} else {
		err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			if err := run.records(ctx); err != nil {
				return err
			}
			if s.journal == nil {
				return nil
			}
			return s.journal.Record(ctx, res)
		})
	}
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, "import batch aborted", "error", err)
		s.metrics.AddRecords(e.Name, "aborted", len(b.Records))
		return nil, err
	}

	s.metrics.ObserveBatch(e.Name, b.DryRun, time.Since(start))
	s.metrics.AddRecords(e.Name, "loaded", res.Loaded)
	s.metrics.AddRecords(e.Name, "updated", res.Updated)
	s.metrics.AddRecords(e.Name, "skipped", res.Skipped)
	s.metrics.AddRecords(e.Name, "rejected", res.Rejected)
	s.metrics.AddRecords(e.Name, "failed", res.Failed)
	logger.Info(ctx, "import batch finished",
		"loaded", res.Loaded, "updated", res.Updated, "skipped", res.Skipped,
		"rejected", res.Rejected, "failed", res.Failed, "defective", res.Defective,
		"fk_warnings", len(res.FKWarnings), "fuzzy_matches", len(res.FuzzyMatches),
		"duration", time.Since(start))
	return res, nil
}

// LoadAll runs batches for several entities in schema dependency order.
// Write runs share one transaction. Dry runs see every batch's records as
// pending for the targets that have no stored rows.
func (s *Service) LoadAll(ctx context.Context, batches []Batch) ([]*Result, error) {
	sc, err := s.schema()
	if err != nil {
		return nil, err
	}
	ordered, err := orderBatches(sc, batches)
	if err != nil {
		return nil, err
	}

	pending := make(map[string][]domain.Record)
	for _, b := range ordered {
		e, _ := sc.Entity(b.Entity)
		pending[e.Name] = append(pending[e.Name], b.Records...)
	}

	results := make([]*Result, 0, len(ordered))
	load := func(ctx context.Context) error {
		for _, b := range ordered {
			if b.DryRun && b.Pending == nil {
				b.Pending = pending
			}
			r, err := s.Load(ctx, b)
			if err != nil {
				return fmt.Errorf("load %s: %w", b.Entity, err)
			}
			results = append(results, r)
		}
		return nil
	}

	dry := len(ordered) > 0 && ordered[0].DryRun
	if dry {
		err = load(ctx)
	} else {
		err = s.txManager.RunInTransaction(ctx, load)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func orderBatches(sc *metadata.Schema, batches []Batch) ([]Batch, error) {
	pos := make(map[string]int, len(sc.Order))
	for i, name := range sc.Order {
		pos[name] = i
	}
	dry := false
	for i, b := range batches {
		e, ok := sc.Entity(b.Entity)
		if !ok {
			return nil, apperror.NewNotFound("entity", b.Entity)
		}
		if i == 0 {
			dry = b.DryRun
		} else if b.DryRun != dry {
			return nil, apperror.NewValidation("batches of one load must agree on dry_run")
		}
		batches[i].Entity = e.Name
	}
	out := slices.Clone(batches)
	slices.SortStableFunc(out, func(a, b Batch) int {
		return pos[a.Entity] - pos[b.Entity]
	})
	return out, nil
}

// batchRun is the state of one running batch.
type batchRun struct {
	*Service
	entity   *metadata.Entity
	batch    Batch
	result   *Result
	resolver *resolve.Resolver
}

func (r *batchRun) records(ctx context.Context) error {
	for i, in := range r.batch.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.record(ctx, i+1, in); err != nil {
			return err
		}
	}
	return nil
}

// record processes one input record. Only errors that must abort the
// batch are returned.
func (r *batchRun) record(ctx context.Context, row int, in domain.Record) error {
	e, res := r.entity, r.result
	if blank(in) {
		res.Skipped++
		return nil
	}

	rec, unknown := prepare(e, in)
	if len(unknown) > 0 {
		logger.Debug(ctx, "ignoring unknown fields", "row", row, "fields", unknown)
	}

	resolved, err := r.resolver.Resolve(ctx, e, row, rec)
	if err != nil {
		return err
	}
	res.FKWarnings = append(res.FKWarnings, resolved.Warnings...)
	res.FuzzyMatches = append(res.FuzzyMatches, resolved.Fuzzy...)
	for _, w := range resolved.Warnings {
		r.metrics.Unresolved(w.TargetEntity)
	}
	for _, f := range resolved.Fuzzy {
		r.metrics.FuzzyMatch(f.TargetEntity)
	}

	out, err := r.reconciler.Reconcile(ctx, e, resolved.Record, resolved.Warnings, r.batch.AcceptQL)
	if err != nil {
		return err
	}
	item := &Item{Entity: e, Row: row, Input: in, Outcome: out}

	if !out.Accepted {
		res.Rejected++
		rejected := apperror.NewRejected(e.Name, out.Mask, r.batch.AcceptQL)
		res.addError(r.errorLimit, RowError{Row: row, Code: rejected.Code, Message: rejected.Message, Deficits: out.Deficits})
		logger.Warn(ctx, "record rejected", "row", row, "ql", out.Mask, "accept_ql", r.batch.AcceptQL)
		return r.hooks.Run(ctx, domain.Rejected, item)
	}
	if !out.Clean() {
		res.Defective++
	}

	existing, err := r.findExisting(ctx, out)
	if err != nil {
		return err
	}

	if r.batch.DryRun {
		if existing != nil {
			res.Updated++
		} else {
			res.Loaded++
		}
		return nil
	}

	err = tx.Nested(ctx, r.txManager, func(ctx context.Context) error {
		if existing != nil {
			return r.update(ctx, item, existing)
		}
		return r.insert(ctx, item)
	})
	switch {
	case err == nil:
		if existing != nil {
			res.Updated++
		} else {
			res.Loaded++
		}
		return r.resolver.Stored(ctx, e.Name, storedRow(item))
	case apperror.IsInvariant(err):
		return err
	case storeRefusal(err):
		res.Failed++
		appErr, _ := apperror.AsAppError(err)
		res.addError(r.errorLimit, RowError{Row: row, Code: appErr.Code, Message: appErr.Message})
		logger.Warn(ctx, "record not stored", "row", row, "error", err)
		return nil
	default:
		return err
	}
}

// storedRow is the row as written, with its id.
func storedRow(item *Item) domain.Row {
	row := maps.Clone(item.Outcome.Row)
	row[metadata.ColID] = item.ID
	return row
}

func storeRefusal(err error) bool {
	return apperror.HasCode(err, apperror.CodeDuplicate) ||
		apperror.HasCode(err, apperror.CodeConflict) ||
		apperror.HasCode(err, apperror.CodeValidation)
}

func (r *batchRun) insert(ctx context.Context, item *Item) error {
	if err := r.hooks.Run(ctx, domain.BeforeInsert, item); err != nil {
		return err
	}
	rid, err := r.store.Insert(ctx, item.Entity, item.Outcome.Row)
	if err != nil {
		return err
	}
	item.ID = rid
	return r.hooks.Run(ctx, domain.AfterInsert, item)
}

func (r *batchRun) update(ctx context.Context, item *Item, existing domain.Row) error {
	item.ID = existing.ID()
	row := item.Outcome.Row
	// computed values belong to their rule, not to the input
	for _, c := range item.Entity.Columns {
		if _, given := row[c.Name]; c.Computed != nil && !given {
			row[c.Name] = existing[c.Name]
		}
	}
	if err := r.hooks.Run(ctx, domain.BeforeUpdate, item); err != nil {
		return err
	}
	if err := r.store.Update(ctx, item.Entity, item.ID, row); err != nil {
		return err
	}
	return r.hooks.Run(ctx, domain.AfterUpdate, item)
}

// findExisting looks up a stored row with the same upsert key. Defective
// key values never match.
func (r *batchRun) findExisting(ctx context.Context, out quality.Outcome) (domain.Row, error) {
	key := r.entity.UpsertKey()
	if len(key) == 0 {
		return nil, nil
	}
	for _, d := range out.Deficits {
		if slices.Contains(key, d.Field) {
			return nil, nil
		}
	}
	f := domain.Stored()
	f.Limit = 1
	for _, col := range key {
		v := out.Row[col]
		if metadata.IsEmpty(v) {
			return nil, nil
		}
		f.Where = append(f.Where, filter.Eq(col, v))
	}
	rows, err := r.store.List(ctx, r.entity, f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

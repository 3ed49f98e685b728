package core

import (
	"context"
	"fmt"
	"time"
)

// Defaults applied by NewService for zero Options fields.
const (
	DefaultPreviewMaxRows = 5000
	DefaultBulkBatchSize  = 100
	DefaultJobRetention   = 5 * time.Minute
)

// Options tunes the pipeline.
type Options struct {
	// PreviewMaxRows bounds a synchronous StageBatch call.
	PreviewMaxRows int
	// BulkBatchSize is the number of rows per bulk job transaction.
	BulkBatchSize int
	// MaxConcurrentJobs and JobSlotWait configure the job limiter.
	MaxConcurrentJobs int
	JobSlotWait       time.Duration
	// JobRetention is how long a finished job stays pollable.
	JobRetention time.Duration
	// AuditRetention sets each audit event's expiry.
	AuditRetention time.Duration

	// Jobs overrides the in-memory job store.
	Jobs JobStore
	// Now overrides the clock.
	Now func() time.Time
}

// Service is the entry point for staging, commit, bulk jobs and direct
// record edits. It has no transport dependencies.
type Service struct {
	store    Store
	registry SchemaRegistry
	jobs     JobStore
	limiter  *JobLimiter
	opts     Options
	now      func() time.Time
}

// NewService wires a Service over store and registry.
func NewService(store Store, registry SchemaRegistry, opts Options) *Service {
	if opts.PreviewMaxRows <= 0 {
		opts.PreviewMaxRows = DefaultPreviewMaxRows
	}
	if opts.BulkBatchSize <= 0 {
		opts.BulkBatchSize = DefaultBulkBatchSize
	}
	if opts.JobRetention <= 0 {
		opts.JobRetention = DefaultJobRetention
	}
	if opts.AuditRetention <= 0 {
		opts.AuditRetention = AuditRetention
	}
	if opts.Jobs == nil {
		opts.Jobs = NewMemoryJobStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		store:    store,
		registry: registry,
		jobs:     opts.Jobs,
		limiter:  NewJobLimiter(opts.MaxConcurrentJobs, opts.JobSlotWait),
		opts:     opts,
		now:      opts.Now,
	}
}

// Schema loads the current column dictionary.
func (s *Service) Schema(ctx context.Context) (*Schema, error) {
	defs, err := s.registry.ListFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	return NewSchema(defs), nil
}

// ListFields returns the column dictionary in display order.
func (s *Service) ListFields(ctx context.Context) ([]FieldDefinition, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	return schema.Fields(), nil
}

// JobLimiterStatus returns the bulk job limiter state.
func (s *Service) JobLimiterStatus() JobLimiterStatus {
	return s.limiter.Status()
}

// WaitForJobs blocks until running bulk jobs finish or ctx is done.
func (s *Service) WaitForJobs(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

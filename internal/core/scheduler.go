package core

// scheduler.go runs periodic maintenance.
//
// Each cycle purges audit events past their expiry and drops finished bulk
// jobs older than Options.JobRetention from the job store. Failures are
// logged and retried on the next tick; they never stop the scheduler.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartMaintenanceScheduler gets a
// non-positive interval.
const DefaultSweepInterval = time.Hour

// StartMaintenanceScheduler runs one cycle immediately, then every
// interval until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Service) StartMaintenanceScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("maintenance scheduler started",
		"interval", interval.String(),
		"job_retention", s.opts.JobRetention.String(),
	)

	s.runMaintenance(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

// runMaintenance performs one purge + sweep cycle.
func (s *Service) runMaintenance(ctx context.Context) {
	start := time.Now()

	purged, err := s.PurgeExpiredAudit(ctx)
	if err != nil {
		slog.Error("audit purge failed", "error", err)
	} else if purged > 0 {
		slog.Info("purged expired audit events", "events_purged", purged)
	}

	swept, err := s.SweepJobs(ctx)
	if err != nil {
		slog.Error("job sweep failed", "error", err)
	} else if swept > 0 {
		slog.Info("swept finished bulk jobs", "jobs_swept", swept)
	}

	slog.Debug("maintenance completed", "duration_ms", time.Since(start).Milliseconds())
}

package core

// bulk.go runs large imports in the background.
//
// A bulk job skips staging. Rows are validated, matched on the natural key
// only, and written in batches of Options.BulkBatchSize. Each batch is one
// transaction with a savepoint per row. Progress is visible to pollers
// through the JobStore after every row; counters and row errors are folded
// in when the batch commits. Jobs cannot be cancelled once started.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/roster/internal/logging"
)

// BulkRequest is the input of StartBulkJob.
type BulkRequest struct {
	FileName string
	Rows     []RawRow
	ActorID  string
}

// JobTicket is returned as soon as a bulk job is accepted.
type JobTicket struct {
	JobID uuid.UUID `json:"jobId"`
	Total int       `json:"total"`
}

// StartBulkJob accepts req for background processing and returns
// immediately. It fails with ErrTooManyJobs when no job slot frees up in
// time.
func (s *Service) StartBulkJob(ctx context.Context, req BulkRequest) (*JobTicket, error) {
	if len(req.Rows) == 0 {
		return nil, ErrNoRows
	}
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	jobID := uuid.New()
	upload := &AuditEvent{
		Kind:     KindUpload,
		FileName: req.FileName,
		RowCount: len(req.Rows),
		Status:   UploadInProgress,
		JobID:    &jobID,
	}
	if err := s.appendAudit(ctx, s.store, upload, req.ActorID); err != nil {
		s.limiter.Release()
		return nil, err
	}

	job := BulkJob{
		ID:            jobID,
		Status:        JobPending,
		FileName:      req.FileName,
		ActorID:       upload.ActorID,
		TotalRows:     len(req.Rows),
		Errors:        []string{},
		UploadEventID: upload.ID,
		StartedAt:     s.now().UTC(),
	}
	if err := s.jobs.Put(ctx, job); err != nil {
		s.limiter.Release()
		return nil, fmt.Errorf("store job: %w", err)
	}

	// The job outlives the request but keeps its values (request id, actor).
	runCtx := context.WithoutCancel(ctx)
	rows := req.Rows

	go func() {
		defer s.limiter.Release()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in bulk job", "job_id", jobID, "panic", r)
				s.finishJob(runCtx, jobID, fmt.Errorf("internal error: %v", r))
			}
		}()

		err := s.runBulkJob(runCtx, jobID, schema, rows, job.ActorID)
		s.finishJob(runCtx, jobID, err)
	}()

	logging.FromContext(ctx).Info("bulk job started",
		"job_id", jobID,
		"file", req.FileName,
		"rows", len(req.Rows),
	)
	return &JobTicket{JobID: jobID, Total: len(req.Rows)}, nil
}

// batchTally collects one batch's outcome until its transaction commits.
type batchTally struct {
	created, updated, unchanged int
	errors                      []string
}

func (s *Service) runBulkJob(ctx context.Context, jobID uuid.UUID, schema *Schema, rows []RawRow, actorID string) error {
	logger := logging.WithFields(ctx, "job_id", jobID)
	if err := s.jobs.Update(ctx, jobID, func(j *BulkJob) { j.Status = JobProcessing }); err != nil {
		return err
	}

	size := s.opts.BulkBatchSize
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))

		var tally batchTally
		err := s.store.InTx(ctx, func(tx Store) error {
			tally = batchTally{}
			for i := start; i < end; i++ {
				rowNumber := i + 1
				op, err := s.bulkRow(ctx, tx, schema, rows[i], actorID, rowNumber)
				switch {
				case err != nil:
					tally.errors = append(tally.errors, fmt.Sprintf("row %d: %v", rowNumber, err))
				case op == OpCreate:
					tally.created++
				case op == OpUpdate:
					tally.updated++
				default:
					tally.unchanged++
				}

				processed := rowNumber
				if err := s.jobs.Update(ctx, jobID, func(j *BulkJob) { j.ProcessedRows = processed }); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("rows %d-%d: %w", start+1, end, err)
		}

		if err := s.jobs.Update(ctx, jobID, func(j *BulkJob) {
			j.Created += tally.created
			j.Updated += tally.updated
			j.Unchanged += tally.unchanged
			j.Errors = append(j.Errors, tally.errors...)
		}); err != nil {
			return err
		}
		logger.Debug("bulk batch committed",
			"from", start+1,
			"to", end,
			"errors", len(tally.errors),
		)
	}
	return nil
}

// bulkRow validates one row and writes it inside its own savepoint.
func (s *Service) bulkRow(ctx context.Context, tx Store, schema *Schema, raw RawRow, actorID string, rowNumber int) (Operation, error) {
	fields, verrs := schema.ValidateRecord(raw)
	if len(verrs) > 0 {
		return "", errors.New(strings.Join(errorMessages(verrs), "; "))
	}

	var op Operation
	err := tx.InTx(ctx, func(sp Store) error {
		var match *Record
		if key := schema.NaturalKey(fields); key != "" {
			var err error
			match, err = sp.FindByNaturalKey(ctx, key)
			if err != nil {
				return fmt.Errorf("find by natural key: %w", err)
			}
		}
		var err error
		op, err = s.writeRow(ctx, sp, schema, match, fields, actorID, fmt.Sprintf("bulk row %d", rowNumber))
		return err
	})
	return op, err
}

// finishJob settles the upload event, appends the bulk summary and marks
// the job terminal. Audit failures are logged; the job still finishes.
func (s *Service) finishJob(ctx context.Context, jobID uuid.UUID, failure error) {
	logger := logging.WithFields(ctx, "job_id", jobID)

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		logger.Error("finish bulk job", "error", err)
		return
	}

	status, uploadStatus, errText := JobCompleted, UploadCompleted, ""
	if failure != nil {
		status, uploadStatus, errText = JobFailed, UploadFailed, failure.Error()
	}

	if err := s.store.SetUploadStatus(ctx, job.UploadEventID, uploadStatus, errText); err != nil {
		logger.Error("set upload status", "error", err)
	}

	summary := bulkEvent(
		fmt.Sprintf("bulk import of %s", displayName(job.FileName)),
		AuditStats{
			Created: job.Created,
			Updated: job.Updated,
			Total:   job.TotalRows,
			Errors:  len(job.Errors),
		},
	)
	if err := s.appendAudit(ctx, s.store, summary, job.ActorID); err != nil {
		logger.Error("append bulk summary", "error", err)
	}

	finished := s.now().UTC()
	if err := s.jobs.Update(ctx, jobID, func(j *BulkJob) {
		j.Status = status
		j.Failure = errText
		j.FinishedAt = &finished
	}); err != nil {
		logger.Error("mark job finished", "error", err)
		return
	}

	if failure != nil {
		logger.Error("bulk job failed", "error", failure, "processed", job.ProcessedRows)
		return
	}
	logger.Info("bulk job completed",
		"created", job.Created,
		"updated", job.Updated,
		"unchanged", job.Unchanged,
		"errors", len(job.Errors),
	)
}

func displayName(fileName string) string {
	if fileName == "" {
		return "unnamed file"
	}
	return fileName
}

// JobStatus returns a snapshot of a bulk job. It has no side effects.
func (s *Service) JobStatus(ctx context.Context, jobID uuid.UUID) (BulkJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// ListJobs returns every job still held by the job store.
func (s *Service) ListJobs(ctx context.Context) ([]BulkJob, error) {
	return s.jobs.List(ctx)
}

// SweepJobs drops terminal jobs that finished more than JobRetention ago
// and returns how many were removed.
func (s *Service) SweepJobs(ctx context.Context) (int, error) {
	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.opts.JobRetention)
	removed := 0
	for _, j := range jobs {
		if !j.Status.Terminal() || j.FinishedAt == nil || j.FinishedAt.After(cutoff) {
			continue
		}
		if err := s.jobs.Delete(ctx, j.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// PurgeExpiredAudit removes audit events past their expiry.
func (s *Service) PurgeExpiredAudit(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredAudit(ctx, s.now().UTC())
}

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRetention is how long audit events are kept.
const AuditRetention = 7 * 24 * time.Hour

// AuditKind discriminates audit events.
type AuditKind string

const (
	KindUpload       AuditKind = "upload"
	KindModification AuditKind = "modification"
	KindDownload     AuditKind = "download"
)

// UploadStatus tracks an upload event through its bulk job.
type UploadStatus string

const (
	UploadInProgress UploadStatus = "in_progress"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

// Operation is the kind of change a modification event records.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpBulk   Operation = "bulk"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// AuditStats is the aggregate block of a bulk modification event.
type AuditStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Total   int `json:"total"`
	Errors  int `json:"errors"`
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	ID        uuid.UUID     `json:"id"`
	Kind      AuditKind     `json:"kind"`
	Severity  AuditSeverity `json:"severity"`
	ActorID   string        `json:"actorId"`
	IPAddress string        `json:"ipAddress,omitempty"`
	UserAgent string        `json:"userAgent,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	ExpiresAt time.Time     `json:"expiresAt"`

	// upload
	FileName string       `json:"fileName,omitempty"`
	RowCount int          `json:"rowCount,omitempty"`
	Status   UploadStatus `json:"status,omitempty"`
	Error    string       `json:"error,omitempty"`
	JobID    *uuid.UUID   `json:"jobId,omitempty"`

	// modification
	Operation Operation     `json:"operation,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	RecordID  *uuid.UUID    `json:"recordId,omitempty"`
	Changes   []FieldChange `json:"changes,omitempty"`
	Stats     *AuditStats   `json:"stats,omitempty"`

	// download
	Format string `json:"format,omitempty"`
}

// determineSeverity returns the appropriate severity for an event.
func determineSeverity(ev *AuditEvent) AuditSeverity {
	switch {
	case ev.Kind == KindUpload, ev.Operation == OpBulk, ev.Operation == OpDelete:
		return SeverityHigh
	case ev.Kind == KindDownload:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// stamp fills the common fields of ev from ctx and the service clock.
func (s *Service) stamp(ctx context.Context, ev *AuditEvent, actorID string) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	meta := RequestMetaFrom(ctx)
	if actorID == "" {
		actorID = meta.ActorID
	}
	ev.ActorID = actorID
	ev.IPAddress = meta.IPAddress
	ev.UserAgent = meta.UserAgent
	ev.Timestamp = s.now().UTC()
	ev.ExpiresAt = ev.Timestamp.Add(s.opts.AuditRetention)
	ev.Severity = determineSeverity(ev)
}

func (s *Service) appendAudit(ctx context.Context, log AuditLog, ev *AuditEvent, actorID string) error {
	s.stamp(ctx, ev, actorID)
	if err := log.AppendAudit(ctx, ev); err != nil {
		return fmt.Errorf("append %s audit event: %w", ev.Kind, err)
	}
	return nil
}

func recordEvent(op Operation, rec *Record, changes []FieldChange, summary string) *AuditEvent {
	id := rec.ID
	return &AuditEvent{
		Kind:      KindModification,
		Operation: op,
		Summary:   summary,
		RecordID:  &id,
		Changes:   changes,
	}
}

func bulkEvent(summary string, stats AuditStats) *AuditEvent {
	return &AuditEvent{
		Kind:      KindModification,
		Operation: OpBulk,
		Summary:   summary,
		Stats:     &stats,
	}
}

// createdChanges lists every field of a new record as an addition.
func createdChanges(f Fields) []FieldChange {
	return DiffFields(Fields{}, f)
}

// ListAudit returns audit events, newest first.
func (s *Service) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultAuditLimit
	}
	return s.store.ListAudit(ctx, filter)
}

// DefaultAuditLimit caps ListAudit when the caller gives no limit.
const DefaultAuditLimit = 100

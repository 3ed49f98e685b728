package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordReader is the read side of the canonical member store.
type RecordReader interface {
	// GetRecord returns ErrRecordNotFound when id is unknown.
	GetRecord(ctx context.Context, id uuid.UUID) (*Record, error)
	// FindByNaturalKey returns nil, nil when no record holds key.
	FindByNaturalKey(ctx context.Context, key string) (*Record, error)
	// FindBySecondaryKey matches both name halves case-insensitively.
	FindBySecondaryKey(ctx context.Context, first, last SecondaryKeyPart) (*Record, error)
	ListRecords(ctx context.Context) ([]Record, error)
}

// RecordStore is the canonical member store. Writes return
// ErrDuplicateNaturalKey when another record already holds the natural key.
type RecordStore interface {
	RecordReader
	InsertRecord(ctx context.Context, rec *Record) error
	UpsertRecord(ctx context.Context, rec *Record) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error
}

// StagingStore holds preview rows partitioned by session.
type StagingStore interface {
	InsertStagedRows(ctx context.Context, rows []StagedRow) error
	// ListSession returns rows ordered by row number.
	ListSession(ctx context.Context, sessionID uuid.UUID) ([]StagedRow, error)
	// LockSession is ListSession that also locks the rows until the
	// surrounding transaction ends. A caller that waited on the lock sees
	// the rows as the previous holder left them.
	LockSession(ctx context.Context, sessionID uuid.UUID) ([]StagedRow, error)
	GetStagedRow(ctx context.Context, id uuid.UUID) (*StagedRow, error)
	UpdateStagedRow(ctx context.Context, row *StagedRow) error
	DeleteStagedRow(ctx context.Context, id uuid.UUID) error
	DeleteSession(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	Kind    AuditKind
	ActorID string
	Limit   int
}

// AuditLog is the append-only event store. SetUploadStatus is the only
// mutation and only touches upload events.
type AuditLog interface {
	AppendAudit(ctx context.Context, ev *AuditEvent) error
	SetUploadStatus(ctx context.Context, id uuid.UUID, status UploadStatus, errText string) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	PurgeExpiredAudit(ctx context.Context, now time.Time) (int64, error)
}

// Store combines the persistence collaborators. InTx runs fn inside a
// transaction; calling InTx on the Store handed to fn opens a savepoint whose
// failure rolls back only its own writes.
type Store interface {
	RecordStore
	StagingStore
	AuditLog
	InTx(ctx context.Context, fn func(tx Store) error) error
}

package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a bulk job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the job will not change again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BulkJob tracks one asynchronous import.
type BulkJob struct {
	ID            uuid.UUID  `json:"id"`
	Status        JobStatus  `json:"status"`
	FileName      string     `json:"fileName,omitempty"`
	ActorID       string     `json:"actorId,omitempty"`
	TotalRows     int        `json:"totalRows"`
	ProcessedRows int        `json:"processedRows"`
	Created       int        `json:"created"`
	Updated       int        `json:"updated"`
	Unchanged     int        `json:"unchanged"`
	Errors        []string   `json:"errors"`
	Failure       string     `json:"failure,omitempty"`
	UploadEventID uuid.UUID  `json:"auditUploadEventId"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// Percent returns progress in [0,100].
func (j BulkJob) Percent() int {
	if j.TotalRows == 0 {
		if j.Status.Terminal() {
			return 100
		}
		return 0
	}
	return j.ProcessedRows * 100 / j.TotalRows
}

func (j BulkJob) clone() BulkJob {
	j.Errors = append([]string(nil), j.Errors...)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		j.FinishedAt = &t
	}
	return j
}

// JobStore holds bulk job state. Implementations return copies; Update is
// the only way to mutate a stored job.
type JobStore interface {
	Put(ctx context.Context, job BulkJob) error
	// Get returns ErrJobNotFound when id is unknown.
	Get(ctx context.Context, id uuid.UUID) (BulkJob, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*BulkJob)) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]BulkJob, error)
}

// MemoryJobStore is a process-local JobStore. Its content does not survive
// a restart; pollers of a lost job see ErrJobNotFound.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*BulkJob
}

// NewMemoryJobStore returns an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]*BulkJob)}
}

func (m *MemoryJobStore) Put(ctx context.Context, job BulkJob) error {
	c := job.clone()
	m.mu.Lock()
	m.jobs[job.ID] = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryJobStore) Get(ctx context.Context, id uuid.UUID) (BulkJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return BulkJob{}, ErrJobNotFound
	}
	return j.clone(), nil
}

func (m *MemoryJobStore) Update(ctx context.Context, id uuid.UUID, fn func(*BulkJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	fn(j)
	return nil
}

func (m *MemoryJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
	return nil
}

// List returns all jobs, oldest first.
func (m *MemoryJobStore) List(ctx context.Context) ([]BulkJob, error) {
	m.mu.RLock()
	out := make([]BulkJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.Before(out[k].StartedAt) })
	return out, nil
}

// Package memory provides a process-local core.Store.
//
// Transactions work on a copy of the whole state. A top-level transaction
// holds the store's transaction lock, so transactions run one at a time, and
// its copy replaces the shared state only when fn succeeds. A nested InTx
// copies the transaction's state again and writes back on success, which
// gives savepoint semantics. Writes outside a transaction run as their own
// one-statement transaction.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/roster/internal/core"
)

type state struct {
	records map[uuid.UUID]core.Record
	byKey   map[string]uuid.UUID
	staged  map[uuid.UUID]core.StagedRow
	audit   map[uuid.UUID]core.AuditEvent
}

func newState() *state {
	return &state{
		records: map[uuid.UUID]core.Record{},
		byKey:   map[string]uuid.UUID{},
		staged:  map[uuid.UUID]core.StagedRow{},
		audit:   map[uuid.UUID]core.AuditEvent{},
	}
}

func (st *state) clone() *state {
	c := &state{
		records: make(map[uuid.UUID]core.Record, len(st.records)),
		byKey:   make(map[string]uuid.UUID, len(st.byKey)),
		staged:  make(map[uuid.UUID]core.StagedRow, len(st.staged)),
		audit:   make(map[uuid.UUID]core.AuditEvent, len(st.audit)),
	}
	for k, v := range st.records {
		c.records[k] = cloneRecord(v)
	}
	for k, v := range st.byKey {
		c.byKey[k] = v
	}
	for k, v := range st.staged {
		c.staged[k] = cloneStaged(v)
	}
	for k, v := range st.audit {
		c.audit[k] = cloneEvent(v)
	}
	return c
}

type shared struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

// Store is an in-memory core.Store. The zero value is not usable; call New.
type Store struct {
	db *shared
	tx *state // non-nil inside a transaction
}

var _ core.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{db: &shared{st: newState()}}
}

// InTx implements core.Store.
func (s *Store) InTx(ctx context.Context, fn func(tx core.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.tx != nil {
		sp := &Store{db: s.db, tx: s.tx.clone()}
		if err := fn(sp); err != nil {
			return err
		}
		*s.tx = *sp.tx
		return nil
	}

	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	s.db.mu.RLock()
	snapshot := s.db.st.clone()
	s.db.mu.RUnlock()

	tx := &Store{db: s.db, tx: snapshot}
	if err := fn(tx); err != nil {
		return err
	}

	s.db.mu.Lock()
	s.db.st = tx.tx
	s.db.mu.Unlock()
	return nil
}

func (s *Store) read(fn func(st *state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return fn(s.db.st)
}

func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.InTx(ctx, func(tx core.Store) error {
		return fn(tx.(*Store).tx)
	})
}

// Records

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*core.Record, error) {
	var out *core.Record
	err := s.read(func(st *state) error {
		rec, ok := st.records[id]
		if !ok {
			return core.ErrRecordNotFound
		}
		c := cloneRecord(rec)
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) FindByNaturalKey(ctx context.Context, key string) (*core.Record, error) {
	var out *core.Record
	err := s.read(func(st *state) error {
		id, ok := st.byKey[key]
		if !ok {
			return nil
		}
		c := cloneRecord(st.records[id])
		out = &c
		return nil
	})
	return out, err
}

// FindBySecondaryKey returns the oldest record whose name fields match both
// parts, ignoring case and surrounding space.
func (s *Store) FindBySecondaryKey(ctx context.Context, first, last core.SecondaryKeyPart) (*core.Record, error) {
	var out *core.Record
	err := s.read(func(st *state) error {
		for _, rec := range sortedRecords(st) {
			if sameName(rec.Fields.Value(first.Field), first.Value) &&
				sameName(rec.Fields.Value(last.Field), last.Value) {
				c := cloneRecord(rec)
				out = &c
				return nil
			}
		}
		return nil
	})
	return out, err
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ListRecords returns records oldest first.
func (s *Store) ListRecords(ctx context.Context) ([]core.Record, error) {
	var out []core.Record
	err := s.read(func(st *state) error {
		recs := sortedRecords(st)
		out = make([]core.Record, len(recs))
		for i, r := range recs {
			out[i] = cloneRecord(r)
		}
		return nil
	})
	return out, err
}

func sortedRecords(st *state) []core.Record {
	recs := make([]core.Record, 0, len(st.records))
	for _, r := range st.records {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID.String() < recs[j].ID.String()
	})
	return recs
}

func (s *Store) InsertRecord(ctx context.Context, rec *core.Record) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.records[rec.ID]; ok {
			return fmt.Errorf("record %s already exists", rec.ID)
		}
		return st.putRecord(rec)
	})
}

// UpsertRecord inserts rec or replaces the record with the same id.
func (s *Store) UpsertRecord(ctx context.Context, rec *core.Record) error {
	return s.write(ctx, func(st *state) error {
		return st.putRecord(rec)
	})
}

func (st *state) putRecord(rec *core.Record) error {
	if rec.NaturalKey != "" {
		if owner, ok := st.byKey[rec.NaturalKey]; ok && owner != rec.ID {
			return fmt.Errorf("%w: %s", core.ErrDuplicateNaturalKey, rec.NaturalKey)
		}
	}
	if prev, ok := st.records[rec.ID]; ok && prev.NaturalKey != "" {
		delete(st.byKey, prev.NaturalKey)
	}
	st.records[rec.ID] = cloneRecord(*rec)
	if rec.NaturalKey != "" {
		st.byKey[rec.NaturalKey] = rec.ID
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(st *state) error {
		rec, ok := st.records[id]
		if !ok {
			return core.ErrRecordNotFound
		}
		if rec.NaturalKey != "" {
			delete(st.byKey, rec.NaturalKey)
		}
		delete(st.records, id)
		return nil
	})
}

// Staging

func (s *Store) InsertStagedRows(ctx context.Context, rows []core.StagedRow) error {
	return s.write(ctx, func(st *state) error {
		for _, r := range rows {
			st.staged[r.ID] = cloneStaged(r)
		}
		return nil
	})
}

// ListSession returns a session's rows ordered by row number.
func (s *Store) ListSession(ctx context.Context, sessionID uuid.UUID) ([]core.StagedRow, error) {
	var out []core.StagedRow
	err := s.read(func(st *state) error {
		for _, r := range st.staged {
			if r.SessionID == sessionID {
				out = append(out, cloneStaged(r))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out, err
}

// LockSession is ListSession; transactions already run one at a time.
func (s *Store) LockSession(ctx context.Context, sessionID uuid.UUID) ([]core.StagedRow, error) {
	return s.ListSession(ctx, sessionID)
}

func (s *Store) GetStagedRow(ctx context.Context, id uuid.UUID) (*core.StagedRow, error) {
	var out *core.StagedRow
	err := s.read(func(st *state) error {
		r, ok := st.staged[id]
		if !ok {
			return core.ErrStagedRowNotFound
		}
		c := cloneStaged(r)
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) UpdateStagedRow(ctx context.Context, row *core.StagedRow) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.staged[row.ID]; !ok {
			return core.ErrStagedRowNotFound
		}
		st.staged[row.ID] = cloneStaged(*row)
		return nil
	})
}

func (s *Store) DeleteStagedRow(ctx context.Context, id uuid.UUID) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.staged[id]; !ok {
			return core.ErrStagedRowNotFound
		}
		delete(st.staged, id)
		return nil
	})
}

func (s *Store) DeleteSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var n int64
	err := s.write(ctx, func(st *state) error {
		n = 0
		for id, r := range st.staged {
			if r.SessionID == sessionID {
				delete(st.staged, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Audit

func (s *Store) AppendAudit(ctx context.Context, ev *core.AuditEvent) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.audit[ev.ID]; ok {
			return fmt.Errorf("audit event %s already exists", ev.ID)
		}
		st.audit[ev.ID] = cloneEvent(*ev)
		return nil
	})
}

func (s *Store) SetUploadStatus(ctx context.Context, id uuid.UUID, status core.UploadStatus, errText string) error {
	return s.write(ctx, func(st *state) error {
		ev, ok := st.audit[id]
		if !ok || ev.Kind != core.KindUpload {
			return fmt.Errorf("upload event %s not found", id)
		}
		ev.Status = status
		ev.Error = errText
		st.audit[id] = ev
		return nil
	})
}

// ListAudit returns matching events, newest first.
func (s *Store) ListAudit(ctx context.Context, filter core.AuditFilter) ([]core.AuditEvent, error) {
	var out []core.AuditEvent
	err := s.read(func(st *state) error {
		for _, ev := range st.audit {
			if filter.Kind != "" && ev.Kind != filter.Kind {
				continue
			}
			if filter.ActorID != "" && ev.ActorID != filter.ActorID {
				continue
			}
			out = append(out, cloneEvent(ev))
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func (s *Store) PurgeExpiredAudit(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, func(st *state) error {
		n = 0
		for id, ev := range st.audit {
			if !ev.ExpiresAt.After(now) {
				delete(st.audit, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func cloneRecord(r core.Record) core.Record {
	r.Fields = r.Fields.Clone()
	return r
}

func cloneStaged(r core.StagedRow) core.StagedRow {
	r.Fields = r.Fields.Clone()
	if r.PriorFields != nil {
		p := r.PriorFields.Clone()
		r.PriorFields = &p
	}
	if r.MatchedRecordID != nil {
		id := *r.MatchedRecordID
		r.MatchedRecordID = &id
	}
	r.Errors = append([]string(nil), r.Errors...)
	r.Changes = append([]core.FieldChange(nil), r.Changes...)
	return r
}

func cloneEvent(ev core.AuditEvent) core.AuditEvent {
	ev.Changes = append([]core.FieldChange(nil), ev.Changes...)
	if ev.Stats != nil {
		s := *ev.Stats
		ev.Stats = &s
	}
	if ev.JobID != nil {
		id := *ev.JobID
		ev.JobID = &id
	}
	if ev.RecordID != nil {
		id := *ev.RecordID
		ev.RecordID = &id
	}
	return ev
}

// Package postgres implements core.Store on a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/roster/internal/core"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx
// opens a savepoint.
type dbtx interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store is a core.Store backed by Postgres.
type Store struct {
	db dbtx
}

var _ core.Store = (*Store)(nil)

// New returns a store using pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// Migrate creates the tables and indexes the store needs.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InTx implements core.Store. Called on a transactional Store it opens a
// savepoint.
func (s *Store) InTx(ctx context.Context, fn func(tx core.Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ----------------------------------------------------------------------------
// Records
// ----------------------------------------------------------------------------

const recordColumns = `id, natural_key, fields, created_at, updated_at`

func scanRecord(row pgx.Row) (*core.Record, error) {
	var (
		rec    core.Record
		key    *string
		fields []byte
	)
	if err := row.Scan(&rec.ID, &key, &fields, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if key != nil {
		rec.NaturalKey = *key
	}
	if err := decodeJSON(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("member %s: decode fields: %w", rec.ID, err)
	}
	return &rec, nil
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*core.Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM members WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return rec, nil
}

func (s *Store) FindByNaturalKey(ctx context.Context, key string) (*core.Record, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM members WHERE natural_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find member by national id: %w", err)
	}
	return rec, nil
}

// FindBySecondaryKey returns the oldest member whose two name fields match,
// ignoring case and surrounding space.
func (s *Store) FindBySecondaryKey(ctx context.Context, first, last core.SecondaryKeyPart) (*core.Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM members
		WHERE lower(btrim(fields->>$1)) = lower(btrim($2::text))
		  AND lower(btrim(fields->>$3)) = lower(btrim($4::text))
		ORDER BY created_at, id
		LIMIT 1`,
		first.Field, first.Value, last.Field, last.Value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find member by name: %w", err)
	}
	return rec, nil
}

// ListRecords returns members oldest first.
func (s *Store) ListRecords(ctx context.Context) ([]core.Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM members ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func recordWriteError(rec *core.Record, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", core.ErrDuplicateNaturalKey, rec.NaturalKey)
	}
	return fmt.Errorf("write member %s: %w", rec.ID, err)
}

func (s *Store) InsertRecord(ctx context.Context, rec *core.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO members (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, nullIfEmpty(rec.NaturalKey), fields, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return recordWriteError(rec, err)
	}
	return nil
}

// UpsertRecord inserts rec or replaces the member with the same id.
func (s *Store) UpsertRecord(ctx context.Context, rec *core.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO members (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET natural_key = EXCLUDED.natural_key,
		    fields      = EXCLUDED.fields,
		    updated_at  = EXCLUDED.updated_at`,
		rec.ID, nullIfEmpty(rec.NaturalKey), fields, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return recordWriteError(rec, err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM members WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrRecordNotFound
	}
	return nil
}

// ----------------------------------------------------------------------------
// Staging
// ----------------------------------------------------------------------------

const stagedColumns = `id, session_id, row_number, state, fields, prior_fields,
	matched_record_id, errors, changes, created_at`

// stagedArgs encodes the JSON columns of r in stagedColumns order.
func stagedArgs(r *core.StagedRow) ([]any, error) {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return nil, err
	}
	var prior []byte
	if r.PriorFields != nil {
		if prior, err = json.Marshal(*r.PriorFields); err != nil {
			return nil, err
		}
	}
	errs, err := json.Marshal(r.Errors)
	if err != nil {
		return nil, err
	}
	changes, err := json.Marshal(r.Changes)
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID, r.SessionID, r.RowNumber, string(r.State), fields, prior,
		r.MatchedRecordID, errs, changes, r.CreatedAt,
	}, nil
}

func scanStaged(row pgx.Row) (*core.StagedRow, error) {
	var (
		r                            core.StagedRow
		state                        string
		fields, prior, errs, changes []byte
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.RowNumber, &state, &fields, &prior,
		&r.MatchedRecordID, &errs, &changes, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.State = core.RowState(state)
	if err := decodeJSON(fields, &r.Fields); err != nil {
		return nil, fmt.Errorf("staged row %s: decode fields: %w", r.ID, err)
	}
	if len(prior) > 0 {
		var p core.Fields
		if err := decodeJSON(prior, &p); err != nil {
			return nil, fmt.Errorf("staged row %s: decode prior fields: %w", r.ID, err)
		}
		r.PriorFields = &p
	}
	if err := decodeJSON(errs, &r.Errors); err != nil {
		return nil, fmt.Errorf("staged row %s: decode errors: %w", r.ID, err)
	}
	if err := decodeJSON(changes, &r.Changes); err != nil {
		return nil, fmt.Errorf("staged row %s: decode changes: %w", r.ID, err)
	}
	return &r, nil
}

// InsertStagedRows writes rows in a single batch.
func (s *Store) InsertStagedRows(ctx context.Context, rows []core.StagedRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range rows {
		args, err := stagedArgs(&rows[i])
		if err != nil {
			return fmt.Errorf("encode staged row %d: %w", rows[i].RowNumber, err)
		}
		batch.Queue(`INSERT INTO staged_rows (`+stagedColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, args...)
	}

	br := s.db.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert staged rows: %w", err)
		}
	}
	return br.Close()
}

// ListSession returns a session's rows ordered by row number.
func (s *Store) ListSession(ctx context.Context, sessionID uuid.UUID) ([]core.StagedRow, error) {
	return s.listSession(ctx, sessionID, "")
}

// LockSession implements core.StagingStore with SELECT ... FOR UPDATE. Rows
// deleted by the transaction that held the lock are skipped once it commits.
func (s *Store) LockSession(ctx context.Context, sessionID uuid.UUID) ([]core.StagedRow, error) {
	return s.listSession(ctx, sessionID, " FOR UPDATE")
}

func (s *Store) listSession(ctx context.Context, sessionID uuid.UUID, lock string) ([]core.StagedRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+stagedColumns+` FROM staged_rows
		WHERE session_id = $1
		ORDER BY row_number`+lock, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session: %w", err)
	}
	defer rows.Close()

	var out []core.StagedRow
	for rows.Next() {
		r, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) GetStagedRow(ctx context.Context, id uuid.UUID) (*core.StagedRow, error) {
	r, err := scanStaged(s.db.QueryRow(ctx,
		`SELECT `+stagedColumns+` FROM staged_rows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrStagedRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get staged row: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateStagedRow(ctx context.Context, row *core.StagedRow) error {
	args, err := stagedArgs(row)
	if err != nil {
		return fmt.Errorf("encode staged row: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE staged_rows
		SET state = $2, fields = $3, prior_fields = $4, matched_record_id = $5,
		    errors = $6, changes = $7
		WHERE id = $1`,
		args[0], args[3], args[4], args[5], args[6], args[7], args[8])
	if err != nil {
		return fmt.Errorf("update staged row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrStagedRowNotFound
	}
	return nil
}

func (s *Store) DeleteStagedRow(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM staged_rows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete staged row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrStagedRowNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM staged_rows WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ----------------------------------------------------------------------------
// Audit
// ----------------------------------------------------------------------------

func (s *Store) AppendAudit(ctx context.Context, ev *core.AuditEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_events (id, kind, actor_id, occurred_at, expires_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, string(ev.Kind), ev.ActorID, ev.Timestamp, ev.ExpiresAt, payload)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// SetUploadStatus patches the status of an upload event in place.
func (s *Store) SetUploadStatus(ctx context.Context, id uuid.UUID, status core.UploadStatus, errText string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE audit_events
		SET payload = payload || jsonb_build_object('status', $2::text, 'error', $3::text)
		WHERE id = $1 AND kind = 'upload'`,
		id, string(status), errText)
	if err != nil {
		return fmt.Errorf("set upload status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload event %s not found", id)
	}
	return nil
}

// ListAudit returns matching events, newest first.
func (s *Store) ListAudit(ctx context.Context, filter core.AuditFilter) ([]core.AuditEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT payload FROM audit_events
		WHERE ($1::text = '' OR kind = $1::text)
		  AND ($2::text = '' OR actor_id = $2::text)
		ORDER BY occurred_at DESC, id
		LIMIT NULLIF($3::int, 0)`,
		string(filter.Kind), filter.ActorID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev core.AuditEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) PurgeExpiredAudit(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM audit_events WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/roster/internal/core"
)

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{"field_definitions", "members", "staged_rows", "audit_events"} {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table, table)
	}
	assert.Contains(t, schemaSQL, "members_natural_key_key")
	assert.NotContains(t, strings.ToUpper(schemaSQL), "DROP ")
}

func TestRecordWriteError(t *testing.T) {
	rec := &core.Record{ID: uuid.New(), NaturalKey: "12345678-9"}

	err := recordWriteError(rec, fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}))
	assert.ErrorIs(t, err, core.ErrDuplicateNaturalKey)
	assert.Contains(t, err.Error(), "12345678-9")

	err = recordWriteError(rec, &pgconn.PgError{Code: "23502"})
	assert.False(t, errors.Is(err, core.ErrDuplicateNaturalKey))
}

func TestDecodeJSON(t *testing.T) {
	var f core.Fields
	require.NoError(t, decodeJSON(nil, &f))
	assert.True(t, f.IsZero())

	require.NoError(t, decodeJSON([]byte(`{"b":"2","a":"1"}`), &f))
	assert.Equal(t, []string{"b", "a"}, f.Keys())

	var errs []string
	require.NoError(t, decodeJSON([]byte(`null`), &errs))
	assert.Nil(t, errs)
}

func TestStagedArgs(t *testing.T) {
	matched := uuid.New()
	prior := core.NewFields("name", "Ana")
	row := &core.StagedRow{
		ID:              uuid.New(),
		SessionID:       uuid.New(),
		RowNumber:       3,
		Fields:          core.NewFields("name", "Ana María"),
		PriorFields:     &prior,
		MatchedRecordID: &matched,
		State:           core.StateUpdate,
		Changes:         []core.FieldChange{{Field: "name", Old: "Ana", New: "Ana María"}},
	}

	args, err := stagedArgs(row)
	require.NoError(t, err)
	require.Len(t, args, 10)
	assert.Equal(t, "update", args[3])
	assert.JSONEq(t, `{"name":"Ana María"}`, string(args[4].([]byte)))
	assert.JSONEq(t, `{"name":"Ana"}`, string(args[5].([]byte)))
	assert.JSONEq(t, `null`, string(args[7].([]byte)))

	row.PriorFields = nil
	args, err = stagedArgs(row)
	require.NoError(t, err)
	assert.Nil(t, args[5].([]byte))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	if p := nullIfEmpty("x"); assert.NotNil(t, p) {
		assert.Equal(t, "x", *p)
	}
}

// The tests below need a database. Set ROSTER_TEST_DATABASE_URL to run them.

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("ROSTER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ROSTER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return New(pool)
}

func newRecord(key, name string) *core.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &core.Record{
		ID:         uuid.New(),
		NaturalKey: key,
		Fields:     core.NewFields("id_code", key, "name", name),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestStore_RecordsIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key := uuid.NewString()[:8] + "-9"
	rec := newRecord(key, "Ana")
	require.NoError(t, s.InsertRecord(ctx, rec))
	t.Cleanup(func() { _ = s.DeleteRecord(ctx, rec.ID) })

	got, err := s.FindByNaturalKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, []string{"id_code", "name"}, got.Fields.Keys())

	dup := newRecord(key, "Eva")
	err = s.InsertRecord(ctx, dup)
	assert.ErrorIs(t, err, core.ErrDuplicateNaturalKey)

	byName, err := s.FindBySecondaryKey(ctx,
		core.SecondaryKeyPart{Field: "id_code", Value: " " + strings.ToUpper(key) + " "},
		core.SecondaryKeyPart{Field: "name", Value: "ANA"})
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, rec.ID, byName.ID)
}

func TestStore_SavepointIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	kept := newRecord(uuid.NewString()[:8]+"-1", "kept")
	dropped := newRecord(uuid.NewString()[:8]+"-2", "dropped")

	err := s.InTx(ctx, func(tx core.Store) error {
		require.NoError(t, tx.InsertRecord(ctx, kept))
		spErr := tx.InTx(ctx, func(sp core.Store) error {
			require.NoError(t, sp.InsertRecord(ctx, dropped))
			return errors.New("abandon row")
		})
		assert.Error(t, spErr)
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.DeleteRecord(ctx, kept.ID) })

	_, err = s.GetRecord(ctx, kept.ID)
	assert.NoError(t, err)
	_, err = s.GetRecord(ctx, dropped.ID)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestStore_StagingAndAuditIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	session := uuid.New()
	t.Cleanup(func() { _, _ = s.DeleteSession(ctx, session) })

	rows := []core.StagedRow{
		{ID: uuid.New(), SessionID: session, RowNumber: 2, Fields: core.NewFields("name", "b"), State: core.StateNew, CreatedAt: time.Now()},
		{ID: uuid.New(), SessionID: session, RowNumber: 1, Fields: core.NewFields("name", "a"), State: core.StateError, Errors: []string{"bad"}, CreatedAt: time.Now()},
	}
	require.NoError(t, s.InsertStagedRows(ctx, rows))

	listed, err := s.ListSession(ctx, session)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].RowNumber)
	assert.Equal(t, []string{"bad"}, listed[0].Errors)

	ev := &core.AuditEvent{
		ID:        uuid.New(),
		Kind:      core.KindUpload,
		ActorID:   "it-" + session.String(),
		Timestamp: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
		Status:    core.UploadInProgress,
	}
	require.NoError(t, s.AppendAudit(ctx, ev))
	require.NoError(t, s.SetUploadStatus(ctx, ev.ID, core.UploadCompleted, ""))

	events, err := s.ListAudit(ctx, core.AuditFilter{ActorID: ev.ActorID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.UploadCompleted, events[0].Status)

	n, err := s.PurgeExpiredAudit(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestStore_LockSessionIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	session := uuid.New()
	t.Cleanup(func() { _, _ = s.DeleteSession(ctx, session) })

	require.NoError(t, s.InsertStagedRows(ctx, []core.StagedRow{
		{ID: uuid.New(), SessionID: session, RowNumber: 1, Fields: core.NewFields("name", "a"), State: core.StateNew, CreatedAt: time.Now()},
		{ID: uuid.New(), SessionID: session, RowNumber: 2, Fields: core.NewFields("name", "b"), State: core.StateNew, CreatedAt: time.Now()},
	}))

	locked := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.InTx(ctx, func(tx core.Store) error {
			rows, err := tx.LockSession(ctx, session)
			if err != nil {
				return err
			}
			if len(rows) != 2 {
				return fmt.Errorf("first commit saw %d rows", len(rows))
			}
			close(locked)
			<-release
			_, err = tx.DeleteSession(ctx, session)
			return err
		})
	}()
	select {
	case <-locked:
	case err := <-firstDone:
		t.Fatalf("first transaction ended early: %v", err)
	}

	type result struct {
		rows int
		err  error
	}
	secondDone := make(chan result, 1)
	go func() {
		var n int
		err := s.InTx(ctx, func(tx core.Store) error {
			rows, err := tx.LockSession(ctx, session)
			n = len(rows)
			return err
		})
		secondDone <- result{rows: n, err: err}
	}()

	select {
	case r := <-secondDone:
		close(release)
		t.Fatalf("second lock returned while the first held it: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-firstDone)
	second := <-secondDone
	require.NoError(t, second.err)
	assert.Zero(t, second.rows, "rows deleted by the first transaction are gone")
}

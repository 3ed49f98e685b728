package core_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/store/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func floatPtr(f float64) *float64 { return &f }

func memberFields() []core.FieldDefinition {
	return []core.FieldDefinition{
		{Name: "id_code", Type: core.FieldText, Required: true, Rule: &core.SecondaryRule{Kind: core.RuleRegex, Spec: `^\d{7,8}-[0-9kK]$`}},
		{Name: "name", Type: core.FieldText},
		{Name: "age", Type: core.FieldNumber, MinValue: floatPtr(0)},
	}
}

type fixture struct {
	svc   *core.Service
	store *memory.Store
	clock *testClock
}

func newFixture(t *testing.T, opts core.Options, defs ...core.FieldDefinition) *fixture {
	t.Helper()
	if len(defs) == 0 {
		defs = memberFields()
	}
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	store := memory.New()
	reg, err := core.NewStaticRegistry(defs...)
	require.NoError(t, err)
	return &fixture{
		svc:   core.NewService(store, reg, opts),
		store: store,
		clock: clock,
	}
}

func (f *fixture) seed(t *testing.T, raw core.RawRow) *core.Record {
	t.Helper()
	rec, err := f.svc.CreateRecord(context.Background(), raw, "seed")
	require.NoError(t, err)
	return rec
}

func (f *fixture) auditCount(t *testing.T) int {
	t.Helper()
	events, err := f.svc.ListAudit(context.Background(), core.AuditFilter{Limit: 10000})
	require.NoError(t, err)
	return len(events)
}

func (f *fixture) recordCount(t *testing.T) int {
	t.Helper()
	recs, err := f.svc.ListRecords(context.Background())
	require.NoError(t, err)
	return len(recs)
}

func stageOne(t *testing.T, f *fixture, raw core.RawRow) core.StagedRow {
	t.Helper()
	res, err := f.svc.StageBatch(context.Background(), []core.RawRow{raw}, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	return res.Rows[0]
}

// ----------------------------------------------------------------------------
// Classification
// ----------------------------------------------------------------------------

func TestStage_NewRowIsCanonicalized(t *testing.T) {
	f := newFixture(t, core.Options{})

	row := stageOne(t, f, core.RawRow{"id_code": "12345678-9"})

	assert.Equal(t, core.StateNew, row.State)
	assert.Empty(t, row.Errors)
	assert.Equal(t, "12.345.678-9", row.Fields.Value("id_code"))
	assert.Nil(t, row.MatchedRecordID)
}

func TestStage_IdenticalRowIsUnchanged(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.seed(t, core.RawRow{"id_code": "12.345.678-9", "name": "Ana"})

	row := stageOne(t, f, core.RawRow{"id_code": "12345678-9", "name": "Ana"})

	assert.Equal(t, core.StateUnchanged, row.State)
	assert.Empty(t, row.Changes)
}

func TestStage_ChangedRowIsUpdate(t *testing.T) {
	f := newFixture(t, core.Options{})
	existing := f.seed(t, core.RawRow{"id_code": "12.345.678-9", "name": "Ana"})

	row := stageOne(t, f, core.RawRow{"id_code": "12345678-9", "name": "Ana María"})

	assert.Equal(t, core.StateUpdate, row.State)
	assert.Equal(t, []core.FieldChange{{Field: "name", Old: "Ana", New: "Ana María"}}, row.Changes)
	require.NotNil(t, row.PriorFields)
	assert.Equal(t, "Ana", row.PriorFields.Value("name"))
	require.NotNil(t, row.MatchedRecordID)
	assert.Equal(t, existing.ID, *row.MatchedRecordID)
}

func TestStage_InvalidNumberIsError(t *testing.T) {
	f := newFixture(t, core.Options{})

	row := stageOne(t, f, core.RawRow{"id_code": "1234567-8", "age": "abc"})

	assert.Equal(t, core.StateError, row.State)
	require.Len(t, row.Errors, 1)
	assert.Contains(t, row.Errors[0], "age")
	assert.Contains(t, row.Errors[0], "not a valid number")
}

func TestStage_MissingRequiredFieldIsError(t *testing.T) {
	f := newFixture(t, core.Options{})

	row := stageOne(t, f, core.RawRow{"name": "Ana"})

	assert.Equal(t, core.StateError, row.State)
	require.NotEmpty(t, row.Errors)
	assert.Contains(t, row.Errors[0], "required")
	assert.Contains(t, row.Errors[0], "id_code")
}

func TestStage_UnknownColumnIsError(t *testing.T) {
	f := newFixture(t, core.Options{})

	row := stageOne(t, f, core.RawRow{"id_code": "1234567-8", "nickname": "Ana"})

	assert.Equal(t, core.StateError, row.State)
	assert.Equal(t, []string{`unknown field "nickname"`}, row.Errors)
}

func TestStage_MatchesBySecondaryKey(t *testing.T) {
	f := newFixture(t, core.Options{},
		core.FieldDefinition{Name: "national id", Type: core.FieldText},
		core.FieldDefinition{Name: "first name", Type: core.FieldText},
		core.FieldDefinition{Name: "last name", Type: core.FieldText},
	)
	existing := f.seed(t, core.RawRow{"first name": "Ana", "last name": "Soto"})

	row := stageOne(t, f, core.RawRow{"national id": "12345678-9", "first name": "ANA", "last name": "Soto"})

	assert.Equal(t, core.StateUpdate, row.State)
	require.NotNil(t, row.MatchedRecordID)
	assert.Equal(t, existing.ID, *row.MatchedRecordID)
	assert.Equal(t, "12.345.678-9", row.Fields.Value("national id"))
}

func TestStage_ErrorsSortFirstAndCounts(t *testing.T) {
	f := newFixture(t, core.Options{})
	f.seed(t, core.RawRow{"id_code": "12.345.678-9", "name": "Ana"})

	res, err := f.svc.StageBatch(context.Background(), []core.RawRow{
		{"id_code": "1111111-1"},
		{"id_code": "12345678-9", "name": "Ana"},
		{"id_code": "bad"},
		{"id_code": "12345678-9", "name": "Eva"},
	}, uuid.Nil)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, core.StateCounts{New: 1, Update: 1, Error: 1, Unchanged: 1}, res.Counts)
	assert.Equal(t, core.StateError, res.Rows[0].State)
	assert.Equal(t, 3, res.Rows[0].RowNumber)
	assert.Equal(t, 1, res.Rows[1].RowNumber)
}

func TestStage_Limits(t *testing.T) {
	f := newFixture(t, core.Options{PreviewMaxRows: 2})
	ctx := context.Background()

	_, err := f.svc.StageBatch(ctx, nil, uuid.Nil)
	assert.ErrorIs(t, err, core.ErrNoRows)

	rows := []core.RawRow{{"id_code": "1111111-1"}, {"id_code": "2222222-2"}, {"id_code": "3333333-3"}}
	_, err = f.svc.StageBatch(ctx, rows, uuid.Nil)
	assert.ErrorIs(t, err, core.ErrTooManyRows)
}

func TestStage_RestageReplacesSession(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()
	rows := []core.RawRow{
		{"id_code": "1111111-1"},
		{"id_code": "bad"},
		{"id_code": "2222222-2", "age": "30"},
	}

	first, err := f.svc.StageBatch(ctx, rows, uuid.Nil)
	require.NoError(t, err)
	second, err := f.svc.StageBatch(ctx, rows, first.SessionID)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Counts, second.Counts)

	view, err := f.svc.GetSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Len(t, view.Rows, len(rows))
	assert.Equal(t, first.Counts, view.Counts)
}

// ----------------------------------------------------------------------------
// Session editing
// ----------------------------------------------------------------------------

func TestReviseStagedRow(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()

	row := stageOne(t, f, core.RawRow{"id_code": "1234567-8", "age": "abc"})
	require.Equal(t, core.StateError, row.State)

	revised, err := f.svc.ReviseStagedRow(ctx, row.ID, core.RawRow{"id_code": "1234567-8", "age": "41"})
	require.NoError(t, err)
	assert.Equal(t, core.StateNew, revised.State)
	assert.Empty(t, revised.Errors)
	assert.Equal(t, row.RowNumber, revised.RowNumber)

	view, err := f.svc.GetSession(ctx, row.SessionID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCounts{New: 1}, view.Counts)

	_, err = f.svc.ReviseStagedRow(ctx, uuid.New(), core.RawRow{})
	assert.ErrorIs(t, err, core.ErrStagedRowNotFound)
}

func TestDeleteStagedRowAndCancel(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()

	res, err := f.svc.StageBatch(ctx, []core.RawRow{{"id_code": "bad"}, {"id_code": "1111111-1"}}, uuid.Nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteStagedRow(ctx, res.Rows[0].ID))
	view, err := f.svc.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCounts{New: 1}, view.Counts)

	require.NoError(t, f.svc.CancelSession(ctx, res.SessionID))
	_, err = f.svc.GetSession(ctx, res.SessionID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	// Cancelling an empty session is not an error.
	assert.NoError(t, f.svc.CancelSession(ctx, res.SessionID))
}

// ----------------------------------------------------------------------------
// Commit
// ----------------------------------------------------------------------------

func TestCommit_RefusesWhileErrorsExist(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()

	res, err := f.svc.StageBatch(ctx, []core.RawRow{
		{"id_code": "1111111-1"},
		{"id_code": "1234567-8", "age": "abc"},
	}, uuid.Nil)
	require.NoError(t, err)

	recordsBefore, auditBefore := f.recordCount(t), f.auditCount(t)

	_, err = f.svc.CommitSession(ctx, res.SessionID, "alice")
	assert.ErrorIs(t, err, core.ErrSessionHasErrors)

	assert.Equal(t, recordsBefore, f.recordCount(t), "no records written")
	assert.Equal(t, auditBefore, f.auditCount(t), "no audit events written")

	view, err := f.svc.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Len(t, view.Rows, 2, "session kept for correction")
}

func TestCommit_AppliesSession(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()
	existing := f.seed(t, core.RawRow{"id_code": "12.345.678-9", "name": "Ana"})
	same := f.seed(t, core.RawRow{"id_code": "9.876.543-3", "name": "Eva"})

	res, err := f.svc.StageBatch(ctx, []core.RawRow{
		{"id_code": "1111111-1", "name": "Luz"},
		{"id_code": "12345678-9", "name": "Ana María"},
		{"id_code": "2222222-2", "name": "Sol"},
		{"id_code": "9876543-3", "name": "Eva"},
	}, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, core.StateCounts{New: 2, Update: 1, Unchanged: 1}, res.Counts)

	out, err := f.svc.CommitSession(ctx, res.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Created)
	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 1, out.Unchanged)
	assert.Equal(t, 4, out.Total)
	assert.Empty(t, out.Errors)

	assert.Equal(t, 4, f.recordCount(t))

	updated, err := f.svc.GetRecord(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana María", updated.Fields.Value("name"))

	untouched, err := f.svc.GetRecord(ctx, same.ID)
	require.NoError(t, err)
	assert.Equal(t, same.UpdatedAt, untouched.UpdatedAt)

	_, err = f.svc.GetSession(ctx, res.SessionID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound, "staged rows are cleared")

	events, err := f.svc.ListAudit(ctx, core.AuditFilter{Kind: core.KindModification, ActorID: "alice"})
	require.NoError(t, err)
	var summaries []core.AuditEvent
	var creates, updates int
	for _, ev := range events {
		switch ev.Operation {
		case core.OpBulk:
			summaries = append(summaries, ev)
		case core.OpCreate:
			creates++
		case core.OpUpdate:
			updates++
		}
	}
	require.Len(t, summaries, 1)
	assert.Equal(t, core.AuditStats{Created: 2, Updated: 1, Total: 4, Errors: 0}, *summaries[0].Stats)
	assert.Equal(t, 2, creates)
	assert.Equal(t, 1, updates)
}

func TestCommit_ReresolvesAgainstCurrentStore(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()

	row := stageOne(t, f, core.RawRow{"id_code": "1111111-1", "name": "Luz"})
	require.Equal(t, core.StateNew, row.State)

	// Someone adds the member between preview and commit.
	other := f.seed(t, core.RawRow{"id_code": "1.111.111-1", "name": "Luz Elena"})

	out, err := f.svc.CommitSession(ctx, row.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Created)
	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 1, f.recordCount(t))

	rec, err := f.svc.GetRecord(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "Luz", rec.Fields.Value("name"))
}

func TestCommit_UnknownSession(t *testing.T) {
	f := newFixture(t, core.Options{})

	_, err := f.svc.CommitSession(context.Background(), uuid.New(), "alice")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

// ----------------------------------------------------------------------------
// Bulk jobs
// ----------------------------------------------------------------------------

func waitForJob(t *testing.T, svc *core.Service, id uuid.UUID) core.BulkJob {
	t.Helper()
	var job core.BulkJob
	require.Eventually(t, func() bool {
		j, err := svc.JobStatus(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestBulkJob_ProcessesAllRows(t *testing.T) {
	f := newFixture(t, core.Options{BulkBatchSize: 100})
	ctx := context.Background()
	f.seed(t, core.RawRow{"id_code": "12.345.678-9", "name": "Ana"})
	eva := f.seed(t, core.RawRow{"id_code": "9.876.543-3", "name": "Eva"})

	rows := make([]core.RawRow, 250)
	for i := range rows {
		rows[i] = core.RawRow{"id_code": fmt.Sprintf("1000%04d-5", i), "name": fmt.Sprintf("member %d", i)}
	}
	rows[10] = core.RawRow{"id_code": "1234567-8", "age": "abc"}
	rows[20] = core.RawRow{"id_code": "12345678-9", "name": "Ana"}
	rows[30] = core.RawRow{"id_code": "9876543-3", "name": "Eva Luna"}

	ticket, err := f.svc.StartBulkJob(ctx, core.BulkRequest{FileName: "members.csv", Rows: rows, ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 250, ticket.Total)

	job := waitForJob(t, f.svc, ticket.JobID)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, 250, job.ProcessedRows)
	assert.Equal(t, 247, job.Created)
	assert.Equal(t, 1, job.Updated)
	assert.Equal(t, 1, job.Unchanged)
	require.Len(t, job.Errors, 1)
	assert.True(t, strings.HasPrefix(job.Errors[0], "row 11: "), job.Errors[0])
	assert.Equal(t, 100, job.Percent())
	assert.NotNil(t, job.FinishedAt)

	assert.Equal(t, 2+247, f.recordCount(t))
	rec, err := f.svc.GetRecord(ctx, eva.ID)
	require.NoError(t, err)
	assert.Equal(t, "Eva Luna", rec.Fields.Value("name"))

	uploads, err := f.svc.ListAudit(ctx, core.AuditFilter{Kind: core.KindUpload})
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, core.UploadCompleted, uploads[0].Status)
	assert.Equal(t, job.UploadEventID, uploads[0].ID)
	require.NotNil(t, uploads[0].JobID)
	assert.Equal(t, ticket.JobID, *uploads[0].JobID)
	assert.Equal(t, 250, uploads[0].RowCount)

	mods, err := f.svc.ListAudit(ctx, core.AuditFilter{Kind: core.KindModification, Limit: 10000})
	require.NoError(t, err)
	var summary *core.AuditEvent
	for i := range mods {
		if mods[i].Operation == core.OpBulk {
			summary = &mods[i]
		}
	}
	require.NotNil(t, summary)
	assert.Equal(t, core.AuditStats{Created: 247, Updated: 1, Total: 250, Errors: 1}, *summary.Stats)
}

func TestBulkJob_Validation(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()

	_, err := f.svc.StartBulkJob(ctx, core.BulkRequest{})
	assert.ErrorIs(t, err, core.ErrNoRows)

	_, err = f.svc.JobStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestSweepJobs(t *testing.T) {
	f := newFixture(t, core.Options{JobRetention: time.Minute})
	ctx := context.Background()

	ticket, err := f.svc.StartBulkJob(ctx, core.BulkRequest{Rows: []core.RawRow{{"id_code": "1111111-1"}}})
	require.NoError(t, err)
	waitForJob(t, f.svc, ticket.JobID)

	removed, err := f.svc.SweepJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "recently finished jobs stay pollable")

	f.clock.Advance(2 * time.Minute)
	removed, err = f.svc.SweepJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.svc.JobStatus(ctx, ticket.JobID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestPurgeExpiredAudit(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()
	f.seed(t, core.RawRow{"id_code": "1111111-1"})
	require.Equal(t, 1, f.auditCount(t))

	f.clock.Advance(core.AuditRetention - time.Hour)
	n, err := f.svc.PurgeExpiredAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.svc.PurgeExpiredAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, f.auditCount(t))
}

// ----------------------------------------------------------------------------
// Records
// ----------------------------------------------------------------------------

func TestRecords_CreateValidation(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()

	_, err := f.svc.CreateRecord(ctx, core.RawRow{"name": "Ana", "age": "-3"}, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidRecord)

	var verr *core.RecordValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Errors, 2)
	assert.Equal(t, "id_code", verr.Errors[0].Field)
	assert.Equal(t, "age", verr.Errors[1].Field)
}

func TestRecords_NaturalKeyUniqueness(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()
	f.seed(t, core.RawRow{"id_code": "12.345.678-9", "name": "Ana"})
	eva := f.seed(t, core.RawRow{"id_code": "9.876.543-3", "name": "Eva"})

	_, err := f.svc.CreateRecord(ctx, core.RawRow{"id_code": "12345678-9"}, "alice")
	assert.ErrorIs(t, err, core.ErrDuplicateNaturalKey)

	_, err = f.svc.UpdateRecord(ctx, eva.ID, core.RawRow{"id_code": "12345678-9", "name": "Eva"}, "alice")
	assert.ErrorIs(t, err, core.ErrDuplicateNaturalKey)
}

func TestRecords_UpdateAndDelete(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()
	rec := f.seed(t, core.RawRow{"id_code": "12.345.678-9", "name": "Ana"})

	f.clock.Advance(time.Minute)
	updated, err := f.svc.UpdateRecord(ctx, rec.ID, core.RawRow{"id_code": "12.345.678-9", "name": "Ana", "age": "30"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "30", updated.Fields.Value("age"))
	assert.Equal(t, rec.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(rec.UpdatedAt))

	events, err := f.svc.ListAudit(ctx, core.AuditFilter{Kind: core.KindModification, ActorID: "alice"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.OpUpdate, events[0].Operation)
	assert.Equal(t, []core.FieldChange{{Field: "age", Old: "", New: "30"}}, events[0].Changes)

	// A no-op update writes nothing.
	_, err = f.svc.UpdateRecord(ctx, rec.ID, core.RawRow{"id_code": "12.345.678-9", "name": "Ana", "age": "30"}, "alice")
	require.NoError(t, err)
	events, err = f.svc.ListAudit(ctx, core.AuditFilter{Kind: core.KindModification, ActorID: "alice"})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	require.NoError(t, f.svc.DeleteRecord(ctx, rec.ID, "alice"))
	_, err = f.svc.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
	assert.ErrorIs(t, f.svc.DeleteRecord(ctx, rec.ID, "alice"), core.ErrRecordNotFound)

	// The released national id can be reused.
	f.seed(t, core.RawRow{"id_code": "12.345.678-9"})
}

func TestRecords_Export(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := context.Background()
	f.seed(t, core.RawRow{"id_code": "12.345.678-9", "name": "Ana"})
	f.seed(t, core.RawRow{"id_code": "9.876.543-3", "name": "Eva, Luna"})

	var buf bytes.Buffer
	n, err := f.svc.ExportRecords(ctx, "alice", &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"id", "id_code", "name", "age"}, lines[0])

	downloads, err := f.svc.ListAudit(ctx, core.AuditFilter{Kind: core.KindDownload})
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, "alice", downloads[0].ActorID)
	assert.Equal(t, 2, downloads[0].RowCount)
}

func TestAuditCarriesRequestMeta(t *testing.T) {
	f := newFixture(t, core.Options{})
	ctx := core.WithRequestMeta(context.Background(), core.RequestMeta{
		ActorID:   "from-header",
		IPAddress: "10.0.0.7",
		UserAgent: "rosterctl",
	})

	_, err := f.svc.CreateRecord(ctx, core.RawRow{"id_code": "1111111-1"}, "")
	require.NoError(t, err)

	events, err := f.svc.ListAudit(ctx, core.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "from-header", ev.ActorID)
	assert.Equal(t, "10.0.0.7", ev.IPAddress)
	assert.Equal(t, "rosterctl", ev.UserAgent)
	assert.Equal(t, core.SeverityMedium, ev.Severity)
	assert.Equal(t, ev.Timestamp.Add(core.AuditRetention), ev.ExpiresAt)
}

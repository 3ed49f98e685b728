package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	stmts  []string
	failOn string
}

func (e *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if _, ok := ctx.Deadline(); !ok {
		return pgconn.CommandTag{}, errors.New("no deadline")
	}
	e.stmts = append(e.stmts, sql)
	if sql == e.failOn {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	return pgconn.NewCommandTag("TRUNCATE TABLE"), nil
}

func TestReset(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   []string
	}{
		{"staging", TargetStaging, []string{"TRUNCATE staged_rows"}},
		{"members", TargetMembers, []string{"TRUNCATE members"}},
		{"audit", TargetAudit, []string{"TRUNCATE audit_events"}},
		{"all", TargetAll, []string{"TRUNCATE staged_rows", "TRUNCATE members", "TRUNCATE audit_events"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &recordingExecer{}
			r := &ResetDbs{DB: db}

			require.NoError(t, r.Reset(context.Background(), tt.target))
			assert.Equal(t, tt.want, db.stmts)
		})
	}
}

func TestReset_UnknownTarget(t *testing.T) {
	db := &recordingExecer{}
	r := &ResetDbs{DB: db}

	err := r.Reset(context.Background(), Target("fields"))

	assert.ErrorContains(t, err, "unknown reset target")
	assert.Empty(t, db.stmts)
}

func TestReset_StopsAtFirstFailure(t *testing.T) {
	db := &recordingExecer{failOn: "TRUNCATE members"}
	r := &ResetDbs{DB: db}

	err := r.Reset(context.Background(), TargetAll)

	assert.ErrorContains(t, err, "reset members")
	assert.Equal(t, []string{"TRUNCATE staged_rows", "TRUNCATE members"}, db.stmts)
}

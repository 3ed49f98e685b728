// Package admin provides administrative operations for database management.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ResetTimeout is the maximum duration for database reset operations.
const ResetTimeout = 30 * time.Second

// Execer is the part of pgxpool.Pool that resets need.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Target names a group of tables that can be emptied.
type Target string

const (
	TargetStaging Target = "staging"
	TargetMembers Target = "members"
	TargetAudit   Target = "audit"
	TargetAll     Target = "all"
)

var resetStatements = map[Target]string{
	TargetStaging: "TRUNCATE staged_rows",
	TargetMembers: "TRUNCATE members",
	TargetAudit:   "TRUNCATE audit_events",
}

// The dictionary is never reset; fields are removed one at a time.
var resetOrder = []Target{TargetStaging, TargetMembers, TargetAudit}

// ResetDbs handles database reset operations.
type ResetDbs struct {
	DB Execer
}

// Reset empties the tables behind target. TargetAll empties staging,
// members and audit in that order and stops at the first failure.
// This is a destructive operation - use with caution.
func (r *ResetDbs) Reset(ctx context.Context, target Target) error {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	if target == TargetAll {
		return r.runResets(ctx, resetOrder)
	}
	if _, ok := resetStatements[target]; !ok {
		return fmt.Errorf("unknown reset target %q", target)
	}
	return r.runResets(ctx, []Target{target})
}

func (r *ResetDbs) runResets(ctx context.Context, targets []Target) error {
	for _, t := range targets {
		if _, err := r.DB.Exec(ctx, resetStatements[t]); err != nil {
			return fmt.Errorf("reset %s: %w", t, err)
		}
		slog.Info("table reset", "target", string(t))
	}
	return nil
}

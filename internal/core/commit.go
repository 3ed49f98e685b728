package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/roster/internal/logging"
)

// CommitSession applies a reviewed session to the member store.
//
// The whole commit runs in one transaction. It refuses outright while any
// row is in the error state. Each row is applied inside its own savepoint
// after re-resolving its match against the current store, so a conflicting
// row is reported without undoing the rows before it. A fault outside a row
// savepoint rolls everything back.
func (s *Service) CommitSession(ctx context.Context, sessionID uuid.UUID, actorID string) (*CommitResult, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}

	logger := logging.WithFields(ctx, "session_id", sessionID, "actor_id", actorID)
	start := time.Now()

	result := &CommitResult{SessionID: sessionID, Errors: []RowError{}}
	err = s.store.InTx(ctx, func(tx Store) error {
		// A concurrent commit of the same session waits here and then finds
		// the rows gone.
		rows, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if len(rows) == 0 {
			return ErrSessionNotFound
		}
		for _, r := range rows {
			if r.State == StateError {
				return ErrSessionHasErrors
			}
		}

		// Counters are only updated once a row's savepoint is released.
		*result = CommitResult{SessionID: sessionID, Total: len(rows), Errors: []RowError{}}
		for _, row := range rows {
			if row.State == StateUnchanged {
				result.Unchanged++
				continue
			}

			var outcome Operation
			err := tx.InTx(ctx, func(sp Store) error {
				match, err := MatchRecord(ctx, sp, schema, row.Fields)
				if err != nil {
					return err
				}
				outcome, err = s.writeRow(ctx, sp, schema, match, row.Fields, actorID, fmt.Sprintf("row %d", row.RowNumber))
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("row not committed", "row", row.RowNumber, "error", err)
				result.Errors = append(result.Errors, RowError{RowNumber: row.RowNumber, Message: err.Error()})
				continue
			}

			switch outcome {
			case OpCreate:
				result.Created++
			case OpUpdate:
				result.Updated++
			default:
				result.Unchanged++
			}
		}

		summary := bulkEvent(
			fmt.Sprintf("committed staging session %s", sessionID),
			AuditStats{
				Created: result.Created,
				Updated: result.Updated,
				Total:   result.Total,
				Errors:  len(result.Errors),
			},
		)
		if err := s.appendAudit(ctx, tx, summary, actorID); err != nil {
			return err
		}

		if _, err := tx.DeleteSession(ctx, sessionID); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrSessionHasErrors) && !errors.Is(err, ErrSessionNotFound) {
			logger.Error("commit failed", "error", err)
		}
		return nil, err
	}

	logger.Info("session committed",
		"created", result.Created,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"errors", len(result.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// writeRow inserts fields as a new record when match is nil and updates
// match otherwise, recording a per-row modification event. An update that
// would change nothing is skipped and reported as "" (no operation).
func (s *Service) writeRow(ctx context.Context, tx Store, schema *Schema, match *Record, fields Fields, actorID, source string) (Operation, error) {
	key := schema.NaturalKey(fields)
	now := s.now().UTC()

	if match == nil {
		if err := ensureUniqueKey(ctx, tx, key, uuid.Nil); err != nil {
			return "", err
		}
		rec := &Record{
			ID:         uuid.New(),
			Fields:     fields.Clone(),
			NaturalKey: key,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return "", fmt.Errorf("insert record: %w", err)
		}
		ev := recordEvent(OpCreate, rec, createdChanges(rec.Fields), fmt.Sprintf("created member from %s", source))
		if err := s.appendAudit(ctx, tx, ev, actorID); err != nil {
			return "", err
		}
		return OpCreate, nil
	}

	changes := DiffFields(match.Fields, fields)
	if len(changes) == 0 {
		return "", nil
	}
	if err := ensureUniqueKey(ctx, tx, key, match.ID); err != nil {
		return "", err
	}
	rec := &Record{
		ID:         match.ID,
		Fields:     fields.Clone(),
		NaturalKey: key,
		CreatedAt:  match.CreatedAt,
		UpdatedAt:  now,
	}
	if err := tx.UpsertRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("upsert record: %w", err)
	}
	ev := recordEvent(OpUpdate, rec, changes, fmt.Sprintf("updated %d field(s) from %s", len(changes), source))
	if err := s.appendAudit(ctx, tx, ev, actorID); err != nil {
		return "", err
	}
	return OpUpdate, nil
}

// ensureUniqueKey fails when a record other than self already holds key.
// It runs inside the write transaction, right before the write.
func ensureUniqueKey(ctx context.Context, rs RecordReader, key string, self uuid.UUID) error {
	if key == "" {
		return nil
	}
	existing, err := rs.FindByNaturalKey(ctx, key)
	if err != nil {
		return fmt.Errorf("uniqueness check: %w", err)
	}
	if existing != nil && existing.ID != self {
		return duplicateKeyError(key)
	}
	return nil
}

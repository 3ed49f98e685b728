package core

// staging.go turns raw import rows into reviewable staged rows.
//
// Each row is validated against the column dictionary, matched against the
// member store and classified as new, update, unchanged or error. Rows live
// in the staging store under a session id until the session is committed or
// cancelled. Staging the same session id again replaces its rows.

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/JonMunkholm/roster/internal/logging"
)

// StageBatch validates and classifies rows under sessionID. A zero
// sessionID starts a new session. Row numbers are 1-based positions in rows.
func (s *Service) StageBatch(ctx context.Context, rows []RawRow, sessionID uuid.UUID) (*StageResult, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if len(rows) > s.opts.PreviewMaxRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d (use a bulk job)", ErrTooManyRows, len(rows), s.opts.PreviewMaxRows)
	}

	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}

	logger := logging.WithFields(ctx, "session_id", sessionID, "rows", len(rows))
	now := s.now().UTC()

	staged := make([]StagedRow, 0, len(rows))
	err = s.store.InTx(ctx, func(tx Store) error {
		replaced, err := tx.DeleteSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		if replaced > 0 {
			logger.Debug("replacing staged rows", "previous", replaced)
		}

		for i, raw := range rows {
			row := StagedRow{
				ID:        uuid.New(),
				SessionID: sessionID,
				RowNumber: i + 1,
				CreatedAt: now,
			}
			if err := classifyRow(ctx, tx, schema, raw, &row); err != nil {
				return fmt.Errorf("row %d: %w", row.RowNumber, err)
			}
			staged = append(staged, row)
		}

		return tx.InsertStagedRows(ctx, staged)
	})
	if err != nil {
		return nil, err
	}

	sortStaged(staged)
	result := &StageResult{
		SessionID: sessionID,
		Total:     len(staged),
		Rows:      staged,
	}
	for _, r := range staged {
		result.Counts.add(r.State)
	}

	logger.Info("batch staged",
		"new", result.Counts.New,
		"update", result.Counts.Update,
		"unchanged", result.Counts.Unchanged,
		"error", result.Counts.Error,
	)
	return result, nil
}

// classifyRow fills row's values, errors, match snapshot and state from raw.
func classifyRow(ctx context.Context, rs RecordReader, schema *Schema, raw RawRow, row *StagedRow) error {
	fields, verrs := schema.ValidateStagedRow(raw)
	errs := errorMessages(verrs)

	var match *Record
	if len(errs) == 0 {
		var err error
		match, err = MatchRecord(ctx, rs, schema, fields)
		if err != nil {
			return err
		}
	}

	state, changes := Classify(errs, fields, match)
	row.Fields = fields
	row.Errors = errs
	row.State = state
	row.Changes = changes
	row.PriorFields = nil
	row.MatchedRecordID = nil
	if match != nil {
		id := match.ID
		prior := match.Fields.Clone()
		row.MatchedRecordID = &id
		row.PriorFields = &prior
	}
	return nil
}

// sortStaged puts error rows first, then orders by row number.
func sortStaged(rows []StagedRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		ei, ej := rows[i].State == StateError, rows[j].State == StateError
		if ei != ej {
			return ei
		}
		return rows[i].RowNumber < rows[j].RowNumber
	})
}

// GetSession returns the staged rows of a session with per-state counts.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	rows, err := s.store.ListSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrSessionNotFound
	}

	sortStaged(rows)
	view := &SessionView{SessionID: sessionID, Rows: rows}
	for _, r := range rows {
		view.Counts.add(r.State)
	}
	return view, nil
}

// ReviseStagedRow replaces a staged row's values and re-runs classification.
func (s *Service) ReviseStagedRow(ctx context.Context, rowID uuid.UUID, raw RawRow) (*StagedRow, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}

	var revised *StagedRow
	err = s.store.InTx(ctx, func(tx Store) error {
		row, err := tx.GetStagedRow(ctx, rowID)
		if err != nil {
			return err
		}
		if err := classifyRow(ctx, tx, schema, raw, row); err != nil {
			return err
		}
		if err := tx.UpdateStagedRow(ctx, row); err != nil {
			return fmt.Errorf("update staged row: %w", err)
		}
		revised = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug("staged row revised",
		"session_id", revised.SessionID,
		"row", revised.RowNumber,
		"state", revised.State,
	)
	return revised, nil
}

// DeleteStagedRow drops one row from its session.
func (s *Service) DeleteStagedRow(ctx context.Context, rowID uuid.UUID) error {
	return s.store.DeleteStagedRow(ctx, rowID)
}

// CancelSession discards every staged row of a session.
func (s *Service) CancelSession(ctx context.Context, sessionID uuid.UUID) error {
	n, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("cancel session: %w", err)
	}
	logging.FromContext(ctx).Info("session cancelled", "session_id", sessionID, "rows", n)
	return nil
}

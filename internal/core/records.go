package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/JonMunkholm/roster/internal/logging"
)

// CreateRecord validates raw as a whole record and inserts it.
// A natural key already held by another member fails with
// ErrDuplicateNaturalKey; invalid input fails with a *RecordValidationError.
func (s *Service) CreateRecord(ctx context.Context, raw RawRow, actorID string) (*Record, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	fields, verrs := schema.ValidateRecord(raw)
	if len(verrs) > 0 {
		return nil, &RecordValidationError{Errors: verrs}
	}

	now := s.now().UTC()
	rec := &Record{
		ID:         uuid.New(),
		Fields:     fields,
		NaturalKey: schema.NaturalKey(fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := ensureUniqueKey(ctx, tx, rec.NaturalKey, uuid.Nil); err != nil {
			return err
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		ev := recordEvent(OpCreate, rec, createdChanges(rec.Fields), "created member")
		return s.appendAudit(ctx, tx, ev, actorID)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("record created", "record_id", rec.ID, "actor_id", actorID)
	return rec, nil
}

// UpdateRecord replaces the fields of record id with raw. Fields not present
// in raw are removed, as with an import. An update that changes nothing
// writes no audit event.
func (s *Service) UpdateRecord(ctx context.Context, id uuid.UUID, raw RawRow, actorID string) (*Record, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	fields, verrs := schema.ValidateRecord(raw)
	if len(verrs) > 0 {
		return nil, &RecordValidationError{Errors: verrs}
	}

	var updated *Record
	err = s.store.InTx(ctx, func(tx Store) error {
		current, err := tx.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		changes := DiffFields(current.Fields, fields)
		if len(changes) == 0 {
			updated = current
			return nil
		}

		key := schema.NaturalKey(fields)
		if err := ensureUniqueKey(ctx, tx, key, id); err != nil {
			return err
		}
		rec := &Record{
			ID:         id,
			Fields:     fields,
			NaturalKey: key,
			CreatedAt:  current.CreatedAt,
			UpdatedAt:  s.now().UTC(),
		}
		if err := tx.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		ev := recordEvent(OpUpdate, rec, changes, fmt.Sprintf("updated %d field(s)", len(changes)))
		if err := s.appendAudit(ctx, tx, ev, actorID); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRecord removes record id. The audit event keeps the deleted values.
func (s *Service) DeleteRecord(ctx context.Context, id uuid.UUID, actorID string) error {
	return s.store.InTx(ctx, func(tx Store) error {
		current, err := tx.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteRecord(ctx, id); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		ev := recordEvent(OpDelete, current, DiffFields(current.Fields, Fields{}), "deleted member")
		return s.appendAudit(ctx, tx, ev, actorID)
	})
}

// GetRecord returns one member or ErrRecordNotFound.
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.store.GetRecord(ctx, id)
}

// ListRecords returns every member, oldest first.
func (s *Service) ListRecords(ctx context.Context) ([]Record, error) {
	return s.store.ListRecords(ctx)
}

// ExportRecords writes every member as CSV to w, columns in dictionary
// order, and records a download event. It returns the number of data rows.
// Stored keys that are no longer defined are appended after the defined
// columns so nothing is lost on export.
func (s *Service) ExportRecords(ctx context.Context, actorID string, w io.Writer) (int, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return 0, err
	}
	records, err := s.store.ListRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}

	header := exportHeader(schema, records)
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"id"}, header...)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	line := make([]string, len(header)+1)
	for _, rec := range records {
		line[0] = rec.ID.String()
		for i, name := range header {
			line[i+1] = rec.Fields.Value(name)
		}
		if err := cw.Write(line); err != nil {
			return 0, fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}

	ev := &AuditEvent{
		Kind:     KindDownload,
		Format:   "csv",
		RowCount: len(records),
		FileName: "members.csv",
	}
	if err := s.appendAudit(ctx, s.store, ev, actorID); err != nil {
		return len(records), err
	}
	return len(records), nil
}

func exportHeader(schema *Schema, records []Record) []string {
	header := schema.Names()
	seen := make(map[string]bool, len(header))
	for _, n := range header {
		seen[n] = true
	}
	for _, rec := range records {
		for _, k := range rec.Fields.Keys() {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	return header
}

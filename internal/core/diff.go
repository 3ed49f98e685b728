package core

import (
	"context"
	"fmt"
)

// DiffFields compares a stored record against incoming values.
//
// Changed and added fields are reported in incoming order. A field present
// in prior but absent from incoming counts as a deletion when prior held a
// non-empty value. A missing prior key compares as "".
func DiffFields(prior, incoming Fields) []FieldChange {
	var changes []FieldChange

	for _, k := range incoming.Keys() {
		newVal := incoming.Value(k)
		oldVal := prior.Value(k)
		if oldVal != newVal {
			changes = append(changes, FieldChange{Field: k, Old: oldVal, New: newVal})
		}
	}

	for _, k := range prior.Keys() {
		if incoming.Has(k) {
			continue
		}
		if oldVal := prior.Value(k); oldVal != "" {
			changes = append(changes, FieldChange{Field: k, Old: oldVal, New: ""})
		}
	}

	return changes
}

// Classify derives a staged row's state. It is a pure function of the
// validation outcome and the matched record, and is recomputed on every
// validation pass.
func Classify(errs []string, incoming Fields, match *Record) (RowState, []FieldChange) {
	if len(errs) > 0 {
		return StateError, nil
	}
	if match == nil {
		return StateNew, nil
	}
	changes := DiffFields(match.Fields, incoming)
	if len(changes) > 0 {
		return StateUpdate, changes
	}
	return StateUnchanged, nil
}

// MatchRecord looks up the record an incoming row refers to: first by
// natural key, then by first/last name when both halves are present.
// Returns nil when nothing matches.
func MatchRecord(ctx context.Context, rs RecordReader, schema *Schema, f Fields) (*Record, error) {
	if key := schema.NaturalKey(f); key != "" {
		rec, err := rs.FindByNaturalKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("find by natural key: %w", err)
		}
		if rec != nil {
			return rec, nil
		}
	}

	first, last, ok := schema.SecondaryKey(f)
	if !ok {
		return nil, nil
	}
	rec, err := rs.FindBySecondaryKey(ctx, first, last)
	if err != nil {
		return nil, fmt.Errorf("find by secondary key: %w", err)
	}
	return rec, nil
}

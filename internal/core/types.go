package core

import (
	"time"

	"github.com/google/uuid"
)

// FieldType is the declared type of a column dictionary entry.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldEmail    FieldType = "email"
	FieldURL      FieldType = "url"
	FieldPhone    FieldType = "phone"
	FieldSelect   FieldType = "select"
	FieldLongText FieldType = "long_text"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldBoolean, FieldDate, FieldEmail,
		FieldURL, FieldPhone, FieldSelect, FieldLongText:
		return true
	}
	return false
}

// RuleKind selects how a SecondaryRule's Spec is interpreted.
type RuleKind string

const (
	RuleList  RuleKind = "list"
	RuleRegex RuleKind = "regex"
	RuleRange RuleKind = "range"
)

// SecondaryRule is an extra constraint evaluated after type validation.
//
//	list:  "a, b, c" or `["a","b","c"]`
//	regex: full-match pattern
//	range: "min,max" (inclusive)
type SecondaryRule struct {
	Kind RuleKind `json:"kind" db:"rule_kind"`
	Spec string   `json:"spec" db:"rule_spec"`
}

// SemanticKind tags a field with a role the pipeline understands.
type SemanticKind string

const (
	KindNone       SemanticKind = ""
	KindNationalID SemanticKind = "national_id"
	KindFirstName  SemanticKind = "first_name"
	KindLastName   SemanticKind = "last_name"
)

// FieldDefinition is one entry of the column dictionary.
type FieldDefinition struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Type         FieldType      `json:"type"`
	Required     bool           `json:"required"`
	DefaultValue string         `json:"defaultValue,omitempty"`
	Rule         *SecondaryRule `json:"rule,omitempty"`
	MinLength    *int           `json:"minLength,omitempty"`
	MaxLength    *int           `json:"maxLength,omitempty"`
	MinValue     *float64       `json:"minValue,omitempty"`
	MaxValue     *float64       `json:"maxValue,omitempty"`
	Description  string         `json:"description,omitempty"`
	SemanticKind SemanticKind   `json:"semanticKind,omitempty"`
	Position     int            `json:"position"`
}

// RawRow is one decoded input row. Values are string, bool, numeric or nil.
type RawRow map[string]any

// Record is a committed community member.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// NaturalKey is the canonical national id, empty when the record has none.
	NaturalKey string `json:"-"`
}

// RowState classifies a staged row.
type RowState string

const (
	StateNew       RowState = "new"
	StateUpdate    RowState = "update"
	StateError     RowState = "error"
	StateUnchanged RowState = "unchanged"
)

// FieldChange is one entry of a field-by-field diff.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// StagedRow is a candidate record awaiting review and commit.
type StagedRow struct {
	ID              uuid.UUID     `json:"id"`
	SessionID       uuid.UUID     `json:"sessionId"`
	RowNumber       int           `json:"rowNumber"`
	Fields          Fields        `json:"fields"`
	PriorFields     *Fields       `json:"priorFields,omitempty"`
	MatchedRecordID *uuid.UUID    `json:"matchedRecordId,omitempty"`
	State           RowState      `json:"state"`
	Errors          []string      `json:"errors,omitempty"`
	Changes         []FieldChange `json:"changes,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// StateCounts tallies staged rows by state.
type StateCounts struct {
	New       int `json:"new"`
	Update    int `json:"update"`
	Error     int `json:"error"`
	Unchanged int `json:"unchanged"`
}

func (c *StateCounts) add(s RowState) {
	switch s {
	case StateNew:
		c.New++
	case StateUpdate:
		c.Update++
	case StateError:
		c.Error++
	case StateUnchanged:
		c.Unchanged++
	}
}

// Total returns the number of counted rows.
func (c StateCounts) Total() int {
	return c.New + c.Update + c.Error + c.Unchanged
}

// StageResult is returned by StageBatch.
type StageResult struct {
	SessionID uuid.UUID   `json:"sessionId"`
	Total     int         `json:"total"`
	Counts    StateCounts `json:"counts"`
	Rows      []StagedRow `json:"rows"`
}

// SessionView is the current content of a staging session.
type SessionView struct {
	SessionID uuid.UUID   `json:"sessionId"`
	Rows      []StagedRow `json:"rows"`
	Counts    StateCounts `json:"counts"`
}

// RowError ties a commit or job failure to a source row.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
}

// CommitResult summarizes a committed session.
type CommitResult struct {
	SessionID uuid.UUID  `json:"sessionId"`
	Created   int        `json:"created"`
	Updated   int        `json:"updated"`
	Unchanged int        `json:"unchanged"`
	Total     int        `json:"total"`
	Errors    []RowError `json:"errors"`
}

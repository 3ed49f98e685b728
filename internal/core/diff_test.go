package core

import (
	"reflect"
	"testing"
)

func TestDiffFields(t *testing.T) {
	tests := []struct {
		name     string
		prior    Fields
		incoming Fields
		want     []FieldChange
	}{
		{
			name:     "identical",
			prior:    NewFields("id_code", "12.345.678-9", "name", "Ana"),
			incoming: NewFields("id_code", "12.345.678-9", "name", "Ana"),
			want:     nil,
		},
		{
			name:     "changed value",
			prior:    NewFields("id_code", "12.345.678-9", "name", "Ana"),
			incoming: NewFields("id_code", "12.345.678-9", "name", "Ana María"),
			want:     []FieldChange{{Field: "name", Old: "Ana", New: "Ana María"}},
		},
		{
			name:     "added field",
			prior:    NewFields("name", "Ana"),
			incoming: NewFields("name", "Ana", "email", "ana@example.cl"),
			want:     []FieldChange{{Field: "email", Old: "", New: "ana@example.cl"}},
		},
		{
			name:     "removed field",
			prior:    NewFields("name", "Ana", "email", "ana@example.cl"),
			incoming: NewFields("name", "Ana"),
			want:     []FieldChange{{Field: "email", Old: "ana@example.cl", New: ""}},
		},
		{
			name:     "removed empty field is not a change",
			prior:    NewFields("name", "Ana", "email", ""),
			incoming: NewFields("name", "Ana"),
			want:     nil,
		},
		{
			name:     "order follows incoming then removals",
			prior:    NewFields("a", "1", "b", "2", "c", "3"),
			incoming: NewFields("c", "30", "a", "10"),
			want: []FieldChange{
				{Field: "c", Old: "3", New: "30"},
				{Field: "a", Old: "1", New: "10"},
				{Field: "b", Old: "2", New: ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffFields(tt.prior, tt.incoming)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DiffFields() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	match := &Record{Fields: NewFields("name", "Ana")}

	tests := []struct {
		name        string
		errs        []string
		incoming    Fields
		match       *Record
		wantState   RowState
		wantChanges int
	}{
		{"errors win", []string{"field name is required"}, Fields{}, match, StateError, 0},
		{"no match is new", nil, NewFields("name", "Ana"), nil, StateNew, 0},
		{"same values unchanged", nil, NewFields("name", "Ana"), match, StateUnchanged, 0},
		{"different values update", nil, NewFields("name", "Eva"), match, StateUpdate, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, changes := Classify(tt.errs, tt.incoming, tt.match)
			if state != tt.wantState {
				t.Errorf("state = %s, want %s", state, tt.wantState)
			}
			if len(changes) != tt.wantChanges {
				t.Errorf("changes = %v, want %d", changes, tt.wantChanges)
			}
		})
	}
}

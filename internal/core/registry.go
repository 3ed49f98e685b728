package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SchemaRegistry is the read side of the column dictionary.
type SchemaRegistry interface {
	ListFields(ctx context.Context) ([]FieldDefinition, error)
}

// StaticRegistry is an in-memory SchemaRegistry.
type StaticRegistry struct {
	mu   sync.RWMutex
	defs []FieldDefinition
}

// NewStaticRegistry returns a registry holding defs. Definitions without a
// semantic kind get one inferred, the same way the dictionary does on save.
func NewStaticRegistry(defs ...FieldDefinition) (*StaticRegistry, error) {
	r := &StaticRegistry{}
	if err := r.Set(defs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Set replaces the registry content. Names are compared case-insensitively;
// a repeated name fails with ErrFieldExists and leaves the content as it was.
func (r *StaticRegistry) Set(defs ...FieldDefinition) error {
	seen := make(map[string]bool, len(defs))
	out := make([]FieldDefinition, len(defs))
	for i, d := range defs {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if seen[key] {
			return fmt.Errorf("%w: %s", ErrFieldExists, d.Name)
		}
		seen[key] = true
		if d.SemanticKind == KindNone {
			d.SemanticKind = InferSemanticKind(d)
		}
		if d.Position == 0 {
			d.Position = i + 1
		}
		out[i] = d
	}

	r.mu.Lock()
	r.defs = out
	r.mu.Unlock()
	return nil
}

// ListFields returns a copy of the definitions.
func (r *StaticRegistry) ListFields(ctx context.Context) ([]FieldDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]FieldDefinition(nil), r.defs...), nil
}

// Schema is an immutable lookup over one snapshot of the column dictionary.
type Schema struct {
	defs   []FieldDefinition
	byName map[string]int

	nationalID string
	firstName  string
	lastName   string
}

// NewSchema indexes defs. Fields are ordered by Position, then name.
func NewSchema(defs []FieldDefinition) *Schema {
	sorted := append([]FieldDefinition(nil), defs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	s := &Schema{defs: sorted, byName: make(map[string]int, len(sorted))}
	for i, d := range sorted {
		s.byName[strings.ToLower(strings.TrimSpace(d.Name))] = i
		switch d.SemanticKind {
		case KindNationalID:
			if s.nationalID == "" {
				s.nationalID = d.Name
			}
		case KindFirstName:
			if s.firstName == "" {
				s.firstName = d.Name
			}
		case KindLastName:
			if s.lastName == "" {
				s.lastName = d.Name
			}
		}
	}

	// Conventional names when nothing is tagged.
	if s.nationalID == "" {
		s.nationalID = s.conventional("national id")
	}
	if s.firstName == "" {
		s.firstName = s.conventional("first name")
	}
	if s.lastName == "" {
		s.lastName = s.conventional("last name")
	}
	return s
}

func (s *Schema) conventional(name string) string {
	for _, d := range s.defs {
		if normalizeFieldName(d.Name) == name {
			return d.Name
		}
	}
	return ""
}

// Fields returns the definitions in display order.
func (s *Schema) Fields() []FieldDefinition { return s.defs }

// Names returns the field names in display order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.defs))
	for i, d := range s.defs {
		out[i] = d.Name
	}
	return out
}

// Lookup finds a definition by name, ignoring case and surrounding spaces.
func (s *Schema) Lookup(name string) (FieldDefinition, bool) {
	i, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return FieldDefinition{}, false
	}
	return s.defs[i], true
}

// NationalIDField returns the name of the natural key field, or "".
func (s *Schema) NationalIDField() string { return s.nationalID }

// NaturalKey returns the natural key value held in f.
func (s *Schema) NaturalKey(f Fields) string {
	if s.nationalID == "" {
		return ""
	}
	return f.Value(s.nationalID)
}

// SecondaryKey returns the first/last name pair. ok is false unless both
// halves are configured and non-empty.
func (s *Schema) SecondaryKey(f Fields) (first, last SecondaryKeyPart, ok bool) {
	if s.firstName == "" || s.lastName == "" {
		return SecondaryKeyPart{}, SecondaryKeyPart{}, false
	}
	first = SecondaryKeyPart{Field: s.firstName, Value: f.Value(s.firstName)}
	last = SecondaryKeyPart{Field: s.lastName, Value: f.Value(s.lastName)}
	if first.Value == "" || last.Value == "" {
		return first, last, false
	}
	return first, last, true
}

// SecondaryKeyPart is one half of the compound first/last name key.
type SecondaryKeyPart struct {
	Field string
	Value string
}

// normalizeFieldName folds case and accents and treats _ and - as spaces.
func normalizeFieldName(name string) string {
	n := foldText(name)
	n = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(n)
	return strings.Join(strings.Fields(n), " ")
}

var (
	nationalIDWords   = []string{"rut", "run", "dni", "cedula", "curp", "nif"}
	nationalIDPhrases = []string{"national id", "id code", "id number", "identification number", "numero de identificacion", "documento de identidad"}
	firstNameNames    = []string{"first name", "firstname", "given name", "nombre", "nombres"}
	lastNameNames     = []string{"last name", "lastname", "surname", "family name", "apellido", "apellidos"}
	checkDigitClasses = []string{"[0-9kK]", "[0-9Kk]", "[kK0-9]", "[Kk0-9]", `[\dkK]`, `[\dKk]`}
)

// InferSemanticKind guesses the role of a field from its name, description
// and regex rule. It runs once when a definition is saved; the pipeline only
// ever reads the stored SemanticKind.
func InferSemanticKind(def FieldDefinition) SemanticKind {
	name := normalizeFieldName(def.Name)
	desc := normalizeFieldName(def.Description)

	if looksLikeNationalID(name) || looksLikeNationalID(desc) {
		return KindNationalID
	}
	if def.Rule != nil && def.Rule.Kind == RuleRegex {
		for _, c := range checkDigitClasses {
			if strings.Contains(def.Rule.Spec, c) {
				return KindNationalID
			}
		}
	}
	for _, n := range firstNameNames {
		if name == n {
			return KindFirstName
		}
	}
	for _, n := range lastNameNames {
		if name == n {
			return KindLastName
		}
	}
	return KindNone
}

func looksLikeNationalID(text string) bool {
	if text == "" {
		return false
	}
	for _, p := range nationalIDPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	for _, w := range strings.Fields(text) {
		for _, nw := range nationalIDWords {
			if w == nw {
				return true
			}
		}
	}
	return false
}

// Check validates a definition before it is saved.
func (d FieldDefinition) Check() error {
	var problems []string
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !d.Type.Valid() {
		problems = append(problems, fmt.Sprintf("unknown type %q", d.Type))
	}
	if d.MinLength != nil && *d.MinLength < 0 {
		problems = append(problems, "minLength must be non-negative")
	}
	if d.MinLength != nil && d.MaxLength != nil && *d.MinLength > *d.MaxLength {
		problems = append(problems, "minLength must be <= maxLength")
	}
	if d.MinValue != nil && d.MaxValue != nil && *d.MinValue > *d.MaxValue {
		problems = append(problems, "minValue must be <= maxValue")
	}
	if d.Rule != nil {
		switch d.Rule.Kind {
		case RuleList, RuleRegex, RuleRange:
		default:
			problems = append(problems, fmt.Sprintf("unknown rule kind %q", d.Rule.Kind))
		}
	}
	switch d.SemanticKind {
	case KindNone, KindNationalID, KindFirstName, KindLastName:
	default:
		problems = append(problems, fmt.Sprintf("unknown semantic kind %q", d.SemanticKind))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidField, strings.Join(problems, "; "))
	}
	return nil
}

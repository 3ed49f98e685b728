package core

// validation.go converts raw cells into normalized strings against the column
// dictionary.
//
// Validation happens at two levels:
//  1. Cell validation: type check, secondary rule, national id canonicalization
//  2. Row validation: required fields, defaults, unknown columns
//
// Two row validators exist. ValidateRecord serves direct create/update and
// silently drops unknown columns. ValidateStagedRow serves bulk preview and
// reports unknown columns so the operator sees unmapped data.

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field/column name
	Value   string // The invalid value
	Message string // Human-readable error message, naming the field
}

func (e ValidationError) Error() string {
	return e.Message
}

var (
	emailRegex = regexp.MustCompile(`^[A-Za-z0-9._%+\-']+@[A-Za-z0-9](?:[A-Za-z0-9\-]*[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9\-]*[A-Za-z0-9])?)*\.[A-Za-z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9 ()\-]{7,15}$`)
)

// rulePatterns caches compiled regex rules by their source text.
var rulePatterns sync.Map

func fieldError(def FieldDefinition, value, format string, args ...any) ValidationError {
	return ValidationError{
		Field:   def.Name,
		Value:   value,
		Message: fmt.Sprintf("field %s: ", def.Name) + fmt.Sprintf(format, args...),
	}
}

func requiredError(def FieldDefinition) ValidationError {
	return ValidationError{Field: def.Name, Message: fmt.Sprintf("field %s is required", def.Name)}
}

// Validate normalizes one raw cell for def. On failure the returned string
// is the cleaned input, so callers can keep it for in-place correction.
func Validate(raw any, def FieldDefinition) (string, error) {
	s := stringify(raw)
	if _, isString := raw.(string); isString {
		s = CleanCell(s)
	}
	if s == "" {
		if def.Required {
			return "", requiredError(def)
		}
		return "", nil
	}

	v, err := validateType(raw, s, def)
	if err != nil {
		return s, err
	}

	if def.Rule != nil {
		v, err = applyRule(v, def)
		if err != nil {
			return s, err
		}
	}

	if def.SemanticKind == KindNationalID {
		v = CanonicalNationalID(v)
	}
	return v, nil
}

func validateType(raw any, s string, def FieldDefinition) (string, error) {
	switch def.Type {
	case FieldNumber:
		f, ok := ParseNumber(s)
		if !ok {
			return "", fieldError(def, s, "%q is not a valid number", s)
		}
		if def.MinValue != nil && f < *def.MinValue {
			return "", fieldError(def, s, "must be at least %s", formatNumber(*def.MinValue))
		}
		if def.MaxValue != nil && f > *def.MaxValue {
			return "", fieldError(def, s, "must be at most %s", formatNumber(*def.MaxValue))
		}
		return formatNumber(f), nil

	case FieldBoolean:
		if b, ok := raw.(bool); ok {
			return boolString(b), nil
		}
		b, ok := ParseBool(s)
		if !ok {
			return "", fieldError(def, s, "%q must be true/false, sí/no, or 1/0", s)
		}
		return boolString(b), nil

	case FieldDate:
		t, ok := ParseDate(s)
		if !ok {
			return "", fieldError(def, s, "invalid date %q (use YYYY-MM-DD)", s)
		}
		return t.Format("2006-01-02"), nil

	case FieldEmail:
		if strings.Count(s, "@") != 1 || !emailRegex.MatchString(s) {
			return "", fieldError(def, s, "%q is not a valid email address", s)
		}
		return s, nil

	case FieldURL:
		u, err := url.Parse(s)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return "", fieldError(def, s, "%q is not a valid absolute URL", s)
		}
		return s, nil

	case FieldPhone:
		if !phoneRegex.MatchString(s) {
			return "", fieldError(def, s, "%q must be 7-15 digits, spaces, parentheses or hyphens, with an optional leading +", s)
		}
		return s, nil

	case FieldText, FieldLongText:
		n := utf8.RuneCountInString(s)
		if def.MinLength != nil && n < *def.MinLength {
			return "", fieldError(def, s, "must be at least %d characters", *def.MinLength)
		}
		if def.MaxLength != nil && n > *def.MaxLength {
			return "", fieldError(def, s, "must be at most %d characters", *def.MaxLength)
		}
		return s, nil

	case FieldSelect:
		return s, nil
	}
	return "", fieldError(def, s, "unknown field type %q", def.Type)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func applyRule(v string, def FieldDefinition) (string, error) {
	rule := def.Rule
	switch rule.Kind {
	case RuleList:
		options, err := parseListRule(rule.Spec)
		if err != nil {
			return "", fieldError(def, v, "invalid list rule: %v", err)
		}
		fv := foldText(v)
		for _, o := range options {
			if foldText(o) == fv {
				return o, nil
			}
		}
		return "", fieldError(def, v, "value %q must be one of: %s", v, strings.Join(options, ", "))

	case RuleRegex:
		re, err := compileRule(rule.Spec)
		if err != nil {
			return "", fieldError(def, v, "invalid pattern %q: %v", rule.Spec, err)
		}
		for _, c := range ruleCandidates(v, def) {
			if re.MatchString(c) {
				return v, nil
			}
		}
		return "", fieldError(def, v, "value %q does not match pattern %s", v, rule.Spec)

	case RuleRange:
		lo, hi, err := parseRangeRule(rule.Spec)
		if err != nil {
			return "", fieldError(def, v, "invalid range rule %q: %v", rule.Spec, err)
		}
		f, ok := ParseNumber(v)
		if !ok {
			return "", fieldError(def, v, "%q is not a valid number", v)
		}
		if f < lo || f > hi {
			return "", fieldError(def, v, "must be between %s and %s", formatNumber(lo), formatNumber(hi))
		}
		return v, nil
	}
	return "", fieldError(def, v, "unknown rule kind %q", rule.Kind)
}

// ruleCandidates lists the spellings a regex rule may accept. National ids
// match in their written, compact, or canonical form.
func ruleCandidates(v string, def FieldDefinition) []string {
	if def.SemanticKind != KindNationalID {
		return []string{v}
	}
	out := []string{v}
	if c, ok := CompactNationalID(v); ok {
		out = append(out, c, strings.ToLower(c), CanonicalNationalID(v))
	}
	return out
}

func compileRule(pattern string) (*regexp.Regexp, error) {
	if re, ok := rulePatterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, err
	}
	rulePatterns.Store(pattern, re)
	return re, nil
}

// parseListRule accepts a JSON array or a comma-separated list.
func parseListRule(spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	var out []string
	if strings.HasPrefix(spec, "[") {
		var items []any
		if err := json.Unmarshal([]byte(spec), &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			if s := stringify(it); s != "" {
				out = append(out, s)
			}
		}
	} else {
		for _, p := range strings.Split(spec, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no options")
	}
	return out, nil
}

// parseRangeRule reads "min,max", optionally wrapped in brackets.
func parseRangeRule(spec string) (float64, float64, error) {
	spec = strings.Trim(strings.TrimSpace(spec), "[]()")
	parts := strings.Split(spec, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected min,max")
	}
	lo, ok := ParseNumber(parts[0])
	if !ok {
		return 0, 0, fmt.Errorf("invalid minimum %q", strings.TrimSpace(parts[0]))
	}
	hi, ok := ParseNumber(parts[1])
	if !ok {
		return 0, 0, fmt.Errorf("invalid maximum %q", strings.TrimSpace(parts[1]))
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("minimum greater than maximum")
	}
	return lo, hi, nil
}

type rawCell struct {
	key   string
	value any
}

// indexRaw keys a raw row by lower-cased trimmed column name.
func indexRaw(raw RawRow) map[string]rawCell {
	idx := make(map[string]rawCell, len(raw))
	for k, v := range raw {
		idx[strings.ToLower(strings.TrimSpace(k))] = rawCell{key: k, value: v}
	}
	return idx
}

func isBlank(v any) bool {
	return stringify(v) == ""
}

// ValidateRecord validates a whole record for direct create/update. Unknown
// columns are dropped; absent optional fields get their default (or "").
func (s *Schema) ValidateRecord(raw RawRow) (Fields, []ValidationError) {
	idx := indexRaw(raw)
	var out Fields
	var errs []ValidationError

	for _, d := range s.defs {
		cell, present := idx[strings.ToLower(strings.TrimSpace(d.Name))]
		if !present || isBlank(cell.value) {
			if d.Required {
				errs = append(errs, requiredError(d))
				continue
			}
			out.Set(d.Name, d.DefaultValue)
			continue
		}
		v, err := Validate(cell.value, d)
		if err != nil {
			errs = append(errs, asValidationError(d, err))
		}
		out.Set(d.Name, v)
	}
	return out, errs
}

// ValidateStagedRow validates one import row for preview. Unknown columns
// are reported; absent optional fields appear only when they have a default.
func (s *Schema) ValidateStagedRow(raw RawRow) (Fields, []ValidationError) {
	idx := indexRaw(raw)
	var out Fields
	var errs []ValidationError

	for _, d := range s.defs {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		cell, present := idx[key]
		delete(idx, key)
		if !present || isBlank(cell.value) {
			if d.Required {
				errs = append(errs, requiredError(d))
				continue
			}
			if d.DefaultValue != "" {
				out.Set(d.Name, d.DefaultValue)
			}
			continue
		}
		v, err := Validate(cell.value, d)
		if err != nil {
			errs = append(errs, asValidationError(d, err))
		}
		out.Set(d.Name, v)
	}

	unknown := make([]string, 0, len(idx))
	for _, cell := range idx {
		if strings.TrimSpace(cell.key) == "" && isBlank(cell.value) {
			continue
		}
		unknown = append(unknown, cell.key)
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = append(errs, ValidationError{Field: k, Message: fmt.Sprintf("unknown field %q", k)})
	}
	return out, errs
}

func asValidationError(def FieldDefinition, err error) ValidationError {
	if ve, ok := err.(ValidationError); ok {
		return ve
	}
	return ValidationError{Field: def.Name, Message: err.Error()}
}

func errorMessages(errs []ValidationError) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Message
	}
	return out
}

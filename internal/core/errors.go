package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionNotFound     = errors.New("staging session not found")
	ErrSessionHasErrors    = errors.New("cannot commit while errors exist")
	ErrStagedRowNotFound   = errors.New("staged row not found")
	ErrTooManyRows         = errors.New("too many rows for preview")
	ErrNoRows              = errors.New("empty file: no rows to import")
	ErrRecordNotFound      = errors.New("record not found")
	ErrDuplicateNaturalKey = errors.New("duplicate natural key")
	ErrJobNotFound         = errors.New("bulk job not found")
	ErrFieldExists         = errors.New("field already exists")
	ErrFieldNotFound       = errors.New("field not found")
	ErrInvalidField        = errors.New("invalid field definition")
	ErrInvalidRecord       = errors.New("invalid record")
)

// RecordValidationError carries every field error of a rejected record.
type RecordValidationError struct {
	Errors []ValidationError
}

func (e *RecordValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRecord, strings.Join(msgs, "; "))
}

func (e *RecordValidationError) Unwrap() error { return ErrInvalidRecord }

func duplicateKeyError(key string) error {
	return fmt.Errorf("%w: a member with national id %q already exists", ErrDuplicateNaturalKey, key)
}

package core

// error_messages.go maps technical errors to messages an operator can act on.
//
// # Error Codes Reference
//
// Every message carries a short code that can be quoted to support.
//
// # Store (DB001-DB099)
//
//	DB001 - Duplicate national id: another member already holds this id
//	        Patterns: "duplicate natural key"
//	DB002 - Unique violation reported by the database
//	        Patterns: "unique constraint", "violates unique", "duplicate key"
//	DB004 - Database unreachable
//	        Patterns: "connection refused"
//	DB005 - Connection interrupted
//	        Patterns: "connection reset"
//	DB006 - Timeout
//	        Patterns: "timeout"
//	DB007 - Deadlock
//	        Patterns: "deadlock"
//
// # Validation (VAL001-VAL099)
//
//	VAL001 - Invalid date                 "invalid date"
//	VAL002 - Invalid number               "not a valid number"
//	VAL003 - Missing required value       "is required"
//	VAL004 - Column not in the dictionary "unknown field"
//	VAL005 - Value outside the option list "must be one of"
//	VAL006 - Value rejected by a pattern  "does not match pattern"
//	VAL007 - Record rejected              "invalid record"
//
// # Files (FILE002-FILE099)
//
//	FILE002 - Not a readable CSV          "invalid csv"
//	FILE003 - Undecodable characters      "encoding error"
//	FILE004 - No file in the request      "no file provided"
//	FILE005 - No data rows                "empty file"
//
// # Staging sessions (SES001-SES099)
//
//	SES001 - Session not found            "staging session not found"
//	SES002 - Session still has errors     "cannot commit while errors exist"
//	SES003 - Staged row not found         "staged row not found"
//	SES004 - Too many rows for preview    "too many rows"
//
// # Bulk jobs (JOB001-JOB099)
//
//	JOB001 - Job not found                "bulk job not found"
//	JOB002 - All job slots busy           "too many bulk jobs"
//
// # Records and fields (REC, FLD)
//
//	REC001 - Member not found             "record not found"
//	FLD001 - Field name taken             "field already exists"
//	FLD002 - Field not found              "field not found"
//	FLD003 - Field definition rejected    "invalid field definition"
//
// # Requests (REQ001-REQ099)
//
//	REQ001 - Request cancelled            "context canceled"
//	REQ002 - Request timed out            "context deadline exceeded"
//	REQ003 - Unreadable request body      "malformed request"
//	REQ004 - Bad id in the path           "invalid uuid"
//
// ERR000 is the fallback when nothing matches; the log holds the original.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Store constraints
	{
		pattern: "duplicate natural key",
		msg: UserMessage{
			Message: "Another member already has this national id",
			Action:  "Edit the existing member or correct the id in your file",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate national ids",
			Code:    "DB002",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate national ids",
			Code:    "DB002",
		},
	},

	// Store connectivity
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},

	// Requests. These sit above "timeout" so a deadline is not reported
	// as a database problem.
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Split the file into smaller batches or use a bulk job",
			Code:    "REQ002",
		},
	},

	// Request decoding. Ahead of validation so a decoder message such as
	// "unknown field" is not reported as a dictionary problem.
	{
		pattern: "malformed request",
		msg: UserMessage{
			Message: "The request body could not be read",
			Action:  "Send JSON or a CSV file as documented",
			Code:    "REQ003",
		},
	},
	{
		pattern: "invalid uuid",
		msg: UserMessage{
			Message: "The id in the request is not valid",
			Action:  "Check the id and try again",
			Code:    "REQ004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// Staging sessions
	{
		pattern: "staging session not found",
		msg: UserMessage{
			Message: "Staging session not found",
			Action:  "The session was committed or cancelled. Stage the file again",
			Code:    "SES001",
		},
	},
	{
		pattern: "cannot commit while errors exist",
		msg: UserMessage{
			Message: "The session still contains rows with errors",
			Action:  "Fix or remove the rows marked as errors, then commit again",
			Code:    "SES002",
		},
	},
	{
		pattern: "staged row not found",
		msg: UserMessage{
			Message: "Staged row not found",
			Action:  "Reload the session to see its current rows",
			Code:    "SES003",
		},
	},
	{
		pattern: "too many rows",
		msg: UserMessage{
			Message: "The file is too large for an interactive preview",
			Action:  "Start a bulk job for this file instead",
			Code:    "SES004",
		},
	},

	// Validation
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD or DD/MM/YYYY",
			Code:    "VAL001",
		},
	},
	{
		pattern: "not a valid number",
		msg: UserMessage{
			Message: "Invalid number format detected",
			Action:  "Remove currency symbols and thousands separators",
			Code:    "VAL002",
		},
	},
	{
		pattern: "is required",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Ensure all required columns have values",
			Code:    "VAL003",
		},
	},
	{
		pattern: "unknown field",
		msg: UserMessage{
			Message: "The file has a column that is not in the field dictionary",
			Action:  "Rename the column or add the field before importing",
			Code:    "VAL004",
		},
	},
	{
		pattern: "must be one of",
		msg: UserMessage{
			Message: "Value is not in the allowed list",
			Action:  "Check the allowed values for this field",
			Code:    "VAL005",
		},
	},
	{
		pattern: "does not match pattern",
		msg: UserMessage{
			Message: "Value does not have the expected format",
			Action:  "Check the field description for the expected format",
			Code:    "VAL006",
		},
	},
	{
		pattern: "invalid record",
		msg: UserMessage{
			Message: "The member data is not valid",
			Action:  "Correct the listed fields and try again",
			Code:    "VAL007",
		},
	},

	// Files
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a CSV file with data rows",
			Code:    "FILE005",
		},
	},

	// Bulk jobs
	{
		pattern: "bulk job not found",
		msg: UserMessage{
			Message: "Bulk job not found",
			Action:  "Finished jobs are kept for a few minutes. Check the audit log for the outcome",
			Code:    "JOB001",
		},
	},
	{
		pattern: "too many bulk jobs",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "JOB002",
		},
	},

	// Records and fields
	{
		pattern: "record not found",
		msg: UserMessage{
			Message: "Member not found",
			Action:  "The member may have been deleted",
			Code:    "REC001",
		},
	},
	{
		pattern: "field already exists",
		msg: UserMessage{
			Message: "A field with this name already exists",
			Action:  "Choose a different name",
			Code:    "FLD001",
		},
	},
	{
		pattern: "field not found",
		msg: UserMessage{
			Message: "Field not found",
			Action:  "Reload the field dictionary",
			Code:    "FLD002",
		},
	},
	{
		pattern: "invalid field definition",
		msg: UserMessage{
			Message: "The field definition is not valid",
			Action:  "Check the field type and rule",
			Code:    "FLD003",
		},
	},

}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the first matching pattern's message, or ERR000.
//
// Example:
//
//	msg := MapError(ErrSessionHasErrors)
//	// msg.Code == "SES002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

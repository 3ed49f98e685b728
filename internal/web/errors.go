package web

// errors.go turns errors into problem detail responses (RFC 9457).
//
// The status comes from the sentinel the error wraps; the title, action and
// code come from core.MapError. Client errors carry the error text as the
// detail, and record validation failures list their messages per field.
// Server errors are logged with the request id and the client only sees the
// mapped message.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
)

// Problem is an application/problem+json body.
type Problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Code     string              `json:"code,omitempty"`
	Action   string              `json:"action,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
}

// Errors raised by request decoding before the service is reached.
var (
	errNoFile      = errors.New("no file provided")
	errBadRequest  = errors.New("malformed request")
	errInvalidUUID = errors.New("invalid uuid")
)

// statusFor maps err onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrStagedRowNotFound),
		errors.Is(err, core.ErrRecordNotFound),
		errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrFieldNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSessionHasErrors),
		errors.Is(err, core.ErrDuplicateNaturalKey),
		errors.Is(err, core.ErrFieldExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidRecord),
		errors.Is(err, core.ErrInvalidField):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrTooManyRows):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNoRows),
		errors.Is(err, errNoFile),
		errors.Is(err, errBadRequest),
		errors.Is(err, errInvalidUUID):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyJobs):
		return http.StatusServiceUnavailable
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return http.StatusBadRequest
	}
	switch code := core.MapError(err).Code; {
	case strings.HasPrefix(code, "FILE"), strings.HasPrefix(code, "VAL"):
		return http.StatusBadRequest
	case code == "REQ002":
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes it as a problem response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	var fieldErrs map[string][]string
	detail := msg.Message
	var verr *core.RecordValidationError
	if errors.As(err, &verr) {
		fieldErrs = make(map[string][]string, len(verr.Errors))
		for _, fe := range verr.Errors {
			fieldErrs[fe.Field] = append(fieldErrs[fe.Field], fe.Message)
		}
		detail = "one or more fields are invalid"
	} else if status < http.StatusInternalServerError {
		detail = err.Error()
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "10")
	}
	p := Problem{
		Title:    msg.Message,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Code:     msg.Code,
		Action:   msg.Action,
		Errors:   fieldErrs,
	}
	writeProblemBody(w, p)
}

// writeProblem writes a problem response not derived from an error.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail, code string, errs map[string][]string) {
	writeProblemBody(w, Problem{
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Code:     code,
		Errors:   errs,
	})
}

func writeProblemBody(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

package web

// handlers_common.go holds request decoding shared by the handlers.

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/csvrows"
)

// multipartMemory is how much of a multipart upload is held in memory
// before spilling to temp files.
const multipartMemory = 32 << 20

// upload is a decoded staging or bulk request body.
type upload struct {
	FileName  string        `json:"fileName"`
	SessionID string        `json:"sessionId"`
	Rows      []core.RawRow `json:"rows"`
}

// uuidParam parses the chi URL parameter name.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q", errInvalidUUID, name, raw)
	}
	return id, nil
}

// parseOptionalUUID parses s, treating blank as uuid.Nil.
func parseOptionalUUID(field, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q", errInvalidUUID, field, s)
	}
	return id, nil
}

// parseIntParam parses a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// decodeJSON reads a JSON body into v. Unknown fields are rejected and
// numbers are kept as json.Number so values are validated as written.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// readUpload decodes rows from a JSON body, a multipart form with a "file"
// part, or a raw CSV body. The body is capped at maxBytes.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer r.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var u upload
		if err := decodeJSON(r, &u); err != nil {
			return nil, err
		}
		return &u, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, errNoFile
		}
		defer file.Close()

		rows, err := csvrows.Decode(file)
		if err != nil {
			return nil, err
		}
		return &upload{
			FileName:  filepath.Base(header.Filename),
			SessionID: r.FormValue("sessionId"),
			Rows:      rows,
		}, nil

	default:
		rows, err := csvrows.Decode(r.Body)
		if err != nil {
			return nil, err
		}
		q := r.URL.Query()
		return &upload{
			FileName:  q.Get("fileName"),
			SessionID: q.Get("sessionId"),
			Rows:      rows,
		}, nil
	}
}

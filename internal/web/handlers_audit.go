package web

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/roster/internal/core"
)

// maxAuditLimit caps the limit query parameter.
const maxAuditLimit = 1000

// handleListAudit lists audit events, newest first.
//
// Query parameters: kind (upload, modification, download), actor, limit,
// and format=csv for a download instead of JSON.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.AuditFilter{
		Kind:    core.AuditKind(q.Get("kind")),
		ActorID: q.Get("actor"),
		Limit:   min(parseIntParam(r, "limit", core.DefaultAuditLimit), maxAuditLimit),
	}
	switch filter.Kind {
	case "", core.KindUpload, core.KindModification, core.KindDownload:
	default:
		respondError(w, r, fmt.Errorf("%w: unknown audit kind %q", errBadRequest, filter.Kind))
		return
	}

	events, err := s.service.ListAudit(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if events == nil {
		events = []core.AuditEvent{}
	}

	if q.Get("format") == "csv" {
		writeAuditCSV(w, events)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeAuditCSV(w http.ResponseWriter, events []core.AuditEvent) {
	filename := "audit_" + time.Now().UTC().Format("20060102_150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "timestamp", "kind", "severity", "actor", "operation", "file", "rows", "status", "summary"})
	for _, ev := range events {
		_ = cw.Write([]string{
			ev.ID.String(),
			ev.Timestamp.UTC().Format(time.RFC3339),
			string(ev.Kind),
			string(ev.Severity),
			ev.ActorID,
			string(ev.Operation),
			ev.FileName,
			strconv.Itoa(ev.RowCount),
			string(ev.Status),
			ev.Summary,
		})
	}
	cw.Flush()
}

package web

// handlers_staging.go serves the interactive import flow: stage a file,
// review and fix the session, then commit or cancel it.

import (
	"net/http"

	"github.com/JonMunkholm/roster/internal/core"
)

// handleStage stages rows into a new session, or replaces the rows of the
// session named by sessionId.
func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(w, r, s.cfg.Import.MaxFileSize)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sessionID, err := parseOptionalUUID("sessionId", up.SessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.StageBatch(r.Context(), up.Rows, sessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuidParam(r, "sessionID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	view, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuidParam(r, "sessionID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.service.CancelSession(r.Context(), sessionID); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reviseRequest struct {
	Fields core.RawRow `json:"fields"`
}

// handleReviseRow replaces every value of a staged row and re-classifies it.
func (s *Server) handleReviseRow(w http.ResponseWriter, r *http.Request) {
	rowID, err := uuidParam(r, "rowID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req reviseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Fields == nil {
		req.Fields = core.RawRow{}
	}

	row, err := s.service.ReviseStagedRow(r.Context(), rowID, req.Fields)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	rowID, err := uuidParam(r, "rowID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.service.DeleteStagedRow(r.Context(), rowID); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuidParam(r, "sessionID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	result, err := s.service.CommitSession(r.Context(), sessionID, core.ActorFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

package web

import (
	"net/http"

	"github.com/JonMunkholm/roster/internal/core"
	"github.com/JonMunkholm/roster/internal/logging"
)

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	defs, err := s.service.ListFields(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": defs})
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	def, err := s.fields.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var def core.FieldDefinition
	if err := decodeJSON(r, &def); err != nil {
		respondError(w, r, err)
		return
	}
	created, err := s.fields.Create(r.Context(), def)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateField replaces a definition. The name in the body is ignored;
// renaming goes through handleRenameField so stored member keys follow.
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var def core.FieldDefinition
	if err := decodeJSON(r, &def); err != nil {
		respondError(w, r, err)
		return
	}
	def.ID = id

	updated, err := s.fields.Update(r.Context(), def)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.fields.Delete(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameField(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	def, moved, err := s.fields.Rename(r.Context(), id, req.Name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("field renamed over http",
		"field_id", id, "name", def.Name, "records", moved)
	writeJSON(w, http.StatusOK, map[string]any{
		"field":          def,
		"recordsUpdated": moved,
	})
}

package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/libinventory/internal/core"
)

// handleListTemplates returns all saved mapping templates.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

// handleMatchTemplates finds templates that match the given CSV headers.
// Headers are passed as a comma-separated "headers" query parameter.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("headers")
	if raw == "" {
		s.respondError(w, r, badRequest(&RequestError{Fields: map[string]string{"headers": "is required"}}))
		return
	}

	var headers []string
	for _, h := range strings.Split(raw, ",") {
		if h = strings.TrimSpace(h); h != "" {
			headers = append(headers, h)
		}
	}

	matches, err := s.service.MatchTemplates(r.Context(), headers)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if matches == nil {
		matches = []core.TemplateMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetTemplate returns a single template.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// createTemplateRequest saves either a session's current mapping or an
// explicit mapping with the headers it was built for.
type createTemplateRequest struct {
	Name      string            `json:"name" validate:"required,max=100"`
	SessionID string            `json:"sessionId" validate:"required_without=Mapping"`
	Mapping   map[string]string `json:"mapping" validate:"required_without=SessionID"`
	Headers   []string          `json:"headers" validate:"required_with=Mapping"`
}

// handleCreateTemplate creates a new mapping template.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	var (
		err      error
		template any
	)
	if req.SessionID != "" {
		template, err = s.service.SaveSessionTemplate(r.Context(), req.SessionID, req.Name)
	} else {
		template, err = s.service.CreateTemplate(r.Context(), req.Name, core.MappingFromMap(req.Mapping), req.Headers)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, template)
}

// handleDeleteTemplate deletes a mapping template.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), chi.URLParam(r, "templateID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

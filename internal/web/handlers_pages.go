package web

import (
	"log/slog"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/libinventory/internal/web/templates"
)

// dashboardHistoryLimit is the number of recent runs on the dashboard.
const dashboardHistoryLimit = 20

// handleDashboard renders the landing page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListHistory(r.Context(), dashboardHistoryLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	mappings, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.render(w, r, templates.Layout("Import", templates.Dashboard(runs, mappings)))
}

// handleImportPage renders a wizard session.
func (s *Server) handleImportPage(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.render(w, r, templates.Layout(view.FileName, templates.ImportWizard(view)))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		slog.Warn("render page failed", "path", r.URL.Path, "error", err)
	}
}

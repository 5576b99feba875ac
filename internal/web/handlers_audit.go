package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/libinventory/internal/catalog"
	"github.com/JonMunkholm/libinventory/internal/core"
	"github.com/JonMunkholm/libinventory/internal/logging"
)

// handleDownloadTemplate serves the import template with sample rows.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, core.TemplateFileName))
	_, _ = w.Write(core.TemplateCSV())
}

// handleExportLibrary streams the whole catalog as CSV.
// Errors after the first row can only be logged since headers are sent.
func (s *Server) handleExportLibrary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, core.ExportFileName(time.Now())))

	n, err := s.service.ExportLibrary(r.Context(), w)
	if err != nil {
		logging.FromContext(r.Context()).Error("library export failed", "rows", n, "error", err)
	}
}

// handleHistory lists recent import runs, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListHistory(r.Context(), parseIntParam(r, "limit", catalog.DefaultListLimit))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleHistoryRun returns one stored run with its per-row outcomes.
func (s *Server) handleHistoryRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleAuditLog lists audit entries, newest first. With format=csv the
// entries are downloaded instead.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListAudit(r.Context(), parseIntParam(r, "limit", catalog.DefaultListLimit))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") != "csv" {
		writeJSON(w, http.StatusOK, entries)
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit_log_%s.csv"`, timestamp))

	rows := make([][]string, 0, len(entries)+1)
	rows = append(rows, []string{"ID", "Timestamp", "Action", "Severity", "User", "IP Address", "User Agent", "Run ID", "Detail"})
	for _, e := range entries {
		rows = append(rows, []string{
			e.ID,
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Action,
			e.Severity,
			e.UserID,
			e.IPAddress,
			e.UserAgent,
			e.RunID,
			e.Detail,
		})
	}
	if err := writeCSV(w, rows); err != nil {
		logging.FromContext(r.Context()).Warn("audit export failed", "error", err, "rows", len(entries))
	}
}

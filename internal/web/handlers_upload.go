package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/libinventory/internal/core"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// multipart boundaries and part headers.
const multipartOverhead = 64 << 10

// handleUpload starts an import session from a multipart "file" upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, maxSize))
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, core.ErrNoFile)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	view, err := s.service.StartSession(r.Context(), header.Filename, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/imports/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

// handleGetImport returns the current state of a session.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// updateMappingRequest binds field keys to headers. An empty header
// unbinds the field.
type updateMappingRequest struct {
	Mapping map[string]string `json:"mapping" validate:"required,min=1"`
}

// handleUpdateMapping applies column bindings to a session.
func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	var req updateMappingRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	view, err := s.service.UpdateMapping(chi.URLParam(r, "id"), req.Mapping)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleApplyTemplate replaces a session mapping with a saved template.
func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.ApplyTemplate(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "templateID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handlePreview dry-runs the import and reports what would happen.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleRunImport freezes the mapping and starts the import. Progress is
// read from the progress stream.
func (s *Server) handleRunImport(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.RunImport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, core.ErrTooManyImports) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.Import.MaxWaitTime.Seconds())))
		}
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// handleImportProgress streams import progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter or the
// Last-Event-ID header; the event ID is the processed row count.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var last core.Progress
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			last = progress

			// Skip rows the client already saw, but always pass phase changes.
			if progress.Row <= lastEventID && progress.Phase == core.PhaseProcessing {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Row, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// finishedReport returns the report of a session's finished import.
// ok is false while the import is still running.
func (s *Server) finishedReport(r *http.Request) (view *core.SessionView, report *core.ImportReport, ok bool, err error) {
	id := chi.URLParam(r, "id")
	view, err = s.service.Session(id)
	if err != nil {
		return nil, nil, false, err
	}
	if view.RunID == "" {
		return nil, nil, false, core.ErrNoActiveImport
	}
	if view.Progress != nil && (view.Progress.Phase == core.PhaseQueued || view.Progress.Phase == core.PhaseProcessing) {
		return view, nil, false, nil
	}

	// Finished runs return at once.
	report, err = s.service.Result(r.Context(), id)
	if err != nil {
		return nil, nil, false, err
	}
	return view, report, true, nil
}

// handleImportReport returns the outcome report as JSON, or the current
// progress with 202 while the import runs.
func (s *Server) handleImportReport(w http.ResponseWriter, r *http.Request) {
	view, report, ok, err := s.finishedReport(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusAccepted, view.Progress)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleImportReportCSV downloads the per-row outcomes.
func (s *Server) handleImportReportCSV(w http.ResponseWriter, r *http.Request) {
	view, report, ok, err := s.finishedReport(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusAccepted, view.Progress)
		return
	}

	name := strings.TrimSuffix(view.FileName, ".csv") + "_report.csv"
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, name))
	if err := report.WriteCSV(w); err != nil {
		s.respondError(w, r, err)
	}
}

// handleCancelImport asks a running import to stop.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleBack moves the wizard one step back.
func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Back(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleResetImport ends a session.
func (s *Server) handleResetImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reset(chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

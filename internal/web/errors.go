package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. Error is mapped via core.MapError to get a user-friendly message
//  4. The status code follows from the message code
//  5. Technical error and request ID are logged for correlation
//  6. User message is rendered as JSON for the API or HTML for pages

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/libinventory/internal/core"
	"github.com/JonMunkholm/libinventory/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Action  string            `json:"action,omitempty"`
	Code    string            `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// statusByCode maps user message codes to HTTP status codes. Codes not
// listed here are server errors.
var statusByCode = map[string]int{
	"IMP001":  http.StatusUnprocessableEntity,
	"IMP002":  http.StatusConflict,
	"IMP003":  http.StatusConflict,
	"IMP004":  http.StatusNotFound,
	"IMP005":  http.StatusNotFound,
	"IMP006":  http.StatusUnprocessableEntity,
	"IMP007":  http.StatusBadRequest,
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE002": http.StatusBadRequest,
	"FILE004": http.StatusBadRequest,
	"FILE005": http.StatusBadRequest,
	"FILE006": http.StatusUnsupportedMediaType,
	"TPL001":  http.StatusConflict,
	"TPL002":  http.StatusNotFound,
	"TPL003":  http.StatusBadRequest,
	"REQ001":  http.StatusBadRequest,
	"DB004":   http.StatusServiceUnavailable,
	"DB005":   http.StatusServiceUnavailable,
	"DB006":   http.StatusGatewayTimeout,
	"DB007":   http.StatusServiceUnavailable,
	"RATE001": http.StatusTooManyRequests,
}

// statusFor returns the HTTP status for a mapped error.
func statusFor(msg core.UserMessage) int {
	if status, ok := statusByCode[msg.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error server-side and returns the mapped
// user message with a status derived from its code.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	userMsg := core.MapError(err)
	statusCode := statusFor(userMsg)

	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", chimw.GetReqID(r.Context()),
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("request error", attrs...)
	} else {
		slog.Warn("request error", attrs...)
	}

	if wantsJSON(r) {
		respondErrorJSON(w, userMsg, fieldErrors(err), statusCode)
		return
	}
	respondErrorHTML(w, r, userMsg, statusCode)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, fields map[string]string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Fields:  fields,
	})
}

// respondErrorHTML renders the error page.
func respondErrorHTML(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := templates.ErrorPage(msg).Render(r.Context(), w); err != nil {
		slog.Warn("render error page failed", "error", err)
	}
}

// wantsJSON checks if the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}

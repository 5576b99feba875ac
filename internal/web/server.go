// Package web provides the HTTP server and handlers for the library import wizard.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/JonMunkholm/libinventory/internal/config"
	"github.com/JonMunkholm/libinventory/internal/core"
	"github.com/JonMunkholm/libinventory/internal/ratelimit"
	"github.com/JonMunkholm/libinventory/internal/web/middleware"
)

// Server is the HTTP server for the import wizard.
type Server struct {
	service  *core.Service
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	validate *Validator

	limiters []*ratelimit.KeyedRateLimiter
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service:  service,
		cfg:      cfg,
		router:   chi.NewRouter(),
		validate: NewValidator(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(withRequestMetadata)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))

	// Security hardening
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if len(s.cfg.Security.CORSOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Security.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-Id", "Last-Event-ID"},
			ExposedHeaders: []string{"Content-Disposition", "Retry-After"},
			MaxAge:         300,
		}))
	}

	if s.cfg.Rate.Enabled {
		s.router.Use(s.rateLimit(s.cfg.Rate.RequestsPerMinute))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	// Pages
	s.router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
		r.Get("/", s.handleDashboard)
		r.Get("/imports/{id}", s.handleImportPage)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		// Progress streams outlive the request timeout.
		r.Get("/imports/{id}/progress", s.handleImportProgress)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

			// Downloads
			r.Get("/template.csv", s.handleDownloadTemplate)
			r.Get("/export.csv", s.handleExportLibrary)

			// Import sessions
			r.Get("/imports/{id}", s.handleGetImport)
			r.Delete("/imports/{id}", s.handleResetImport)
			r.Put("/imports/{id}/mapping", s.handleUpdateMapping)
			r.Post("/imports/{id}/template/{templateID}", s.handleApplyTemplate)
			r.Post("/imports/{id}/preview", s.handlePreview)
			r.Get("/imports/{id}/report", s.handleImportReport)
			r.Get("/imports/{id}/report.csv", s.handleImportReportCSV)
			r.Post("/imports/{id}/cancel", s.handleCancelImport)
			r.Post("/imports/{id}/back", s.handleBack)

			// Uploads and runs are limited separately.
			r.Group(func(r chi.Router) {
				if s.cfg.Rate.Enabled {
					r.Use(s.rateLimit(s.cfg.Rate.UploadLimit))
				}
				r.Post("/imports", s.handleUpload)
				r.Post("/imports/{id}/run", s.handleRunImport)
			})

			// History and audit
			r.Get("/history", s.handleHistory)
			r.Get("/history/{runID}", s.handleHistoryRun)
			r.Get("/audit-log", s.handleAuditLog)

			// Mapping templates
			r.Get("/mapping-templates", s.handleListTemplates)
			r.Get("/mapping-templates/match", s.handleMatchTemplates)
			r.Post("/mapping-templates", s.handleCreateTemplate)
			r.Get("/mapping-templates/{templateID}", s.handleGetTemplate)
			r.Delete("/mapping-templates/{templateID}", s.handleDeleteTemplate)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its rate limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, l := range s.limiters {
		l.Stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			if enableCSP {
				// Pages carry their own inline styles and scripts
				w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit returns middleware allowing perMinute requests per client IP.
// TrustedRealIP has already replaced RemoteAddr when the proxy is trusted.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	limiter := ratelimit.PerInterval(perMinute, time.Minute)
	s.limiters = append(s.limiters, limiter)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes a JSON error response for failures that happen before a
// handler runs. Handlers use respondError.
func writeError(w http.ResponseWriter, status int, message string) {
	msg := core.MapError(errorString(message))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

// handleHealth reports limiter and session state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"imports":  s.service.Limiter().Status(),
		"sessions": s.service.ActiveSessions(),
	})
}

// parseIntParam parses a positive integer query parameter with a default value.
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

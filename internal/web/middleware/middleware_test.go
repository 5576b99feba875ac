package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/libinventory/internal/config"
	"github.com/JonMunkholm/libinventory/internal/identity"
)

func userEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(identity.CurrentUserID(r.Context())))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name       string
		require    bool
		keys       []string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"optional without key", false, []string{"alice:s3cret"}, "", http.StatusOK, identity.Anonymous},
		{"optional with key", false, []string{"alice:s3cret"}, "s3cret", http.StatusOK, "alice"},
		{"optional with bad key", false, []string{"alice:s3cret"}, "nope", http.StatusForbidden, ""},
		{"required without key", true, []string{"alice:s3cret"}, "", http.StatusUnauthorized, ""},
		{"required with bad key", true, []string{"alice:s3cret"}, "nope", http.StatusForbidden, ""},
		{"required with key", true, []string{"alice:s3cret", "bob:other"}, "other", http.StatusOK, "bob"},
		{"bare key is its own user", true, []string{"kiosk"}, "kiosk", http.StatusOK, "kiosk"},
		{"required with no keys configured", true, nil, "anything", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.SecurityConfig{RequireAPIKey: tt.require, APIKeys: tt.keys}
			h := APIKeyAuth(cfg)(userEcho())

			req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantUser, rec.Body.String())
			} else {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		realIP     string
		forwarded  string
		want       string
	}{
		{"no trusted proxies", nil, "10.0.0.1:4000", "203.0.113.9", "", "10.0.0.1:4000"},
		{"untrusted peer", []string{"10.0.0.0/8"}, "192.0.2.1:4000", "203.0.113.9", "", "192.0.2.1:4000"},
		{"trusted X-Real-IP", []string{"10.0.0.0/8"}, "10.1.2.3:4000", "203.0.113.9", "", "203.0.113.9"},
		{"trusted forwarded chain", []string{"10.0.0.0/8"}, "10.1.2.3:4000", "", "203.0.113.9, 10.1.2.3", "203.0.113.9"},
		{"single address entry", []string{"127.0.0.1"}, "127.0.0.1:4000", "203.0.113.9", "", "203.0.113.9"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.1.2.3:4000", "not-an-ip", "", "10.1.2.3:4000"},
		{"invalid cidr skipped", []string{"bogus", "10.0.0.0/8"}, "10.1.2.3:4000", "203.0.113.9", "", "203.0.113.9"},
		{"ipv6 proxy", []string{"::1"}, "[::1]:4000", "2001:db8::7", "", "2001:db8::7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_KeepsStatusAndFlusher(t *testing.T) {
	var flushable bool
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK) // ignored
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, flushable)
}

func TestLogger_RouteFields(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := chi.NewRouter()
	r.Use(Logger)
	r.Get("/api/imports/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/imports/abc", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "/api/imports/{id}", entry["route"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.EqualValues(t, 500, entry["status"])
	assert.EqualValues(t, len("boom\n"), entry["bytes"])
}

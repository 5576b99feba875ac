package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"json", func(t *testing.T, out string) {
			var m map[string]any
			if err := json.Unmarshal([]byte(out), &m); err != nil {
				t.Fatalf("json output not parseable: %v (%q)", err, out)
			}
			if m["msg"] != "row imported" || m["row"] != float64(3) {
				t.Errorf("unexpected record %v", m)
			}
		}},
		{"text", func(t *testing.T, out string) {
			if !strings.Contains(out, `msg="row imported"`) || !strings.Contains(out, "row=3") {
				t.Errorf("unexpected text output %q", out)
			}
		}},
		{"pretty", func(t *testing.T, out string) {
			if !strings.Contains(out, "row imported") || !strings.Contains(out, "row=3") {
				t.Errorf("unexpected pretty output %q", out)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf, "info", tt.format).Info("row imported", "row", 3)
			tt.check(t, strings.TrimSpace(buf.String()))
		})
	}
}

func TestNew_LevelFilters(t *testing.T) {
	for _, format := range []string{"text", "json", "pretty"} {
		var buf bytes.Buffer
		logger := New(&buf, "warn", format)
		logger.Info("hidden")
		logger.Debug("hidden")
		if buf.Len() != 0 {
			t.Errorf("%s: info logged at warn level: %q", format, buf.String())
		}
		logger.Warn("shown")
		if !strings.Contains(buf.String(), "shown") {
			t.Errorf("%s: warn not logged: %q", format, buf.String())
		}
	}
}

func TestFromContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "info", "json"))
	defer slog.SetDefault(prev)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	WithFields(ctx, "session_id", "s1").Info("hello")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-42"`) || !strings.Contains(out, `"session_id":"s1"`) {
		t.Errorf("missing context fields: %s", out)
	}
}

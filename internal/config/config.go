// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds catalog store connection settings.
type DatabaseConfig struct {
	// URL is a postgres:// connection string or a SQLite file path (required).
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// Pool settings below apply to PostgreSQL only.
	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig limits the files accepted by the import wizard.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 10MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"10485760"`
}

// ImportConfig tunes the reconciliation run.
type ImportConfig struct {
	// MaxConcurrent is the number of imports allowed to write at once (default: 1).
	// Values above 1 let two runs race on the same titles.
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"1"`

	// MaxWaitTime is how long RunImport waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// RowRate caps rows per second sent to the catalog, 0 for no limit (default: 20)
	RowRate float64 `env:"IMPORT_ROW_RATE" default:"20"`

	// CallTimeout bounds each catalog lookup and write (default: 10s)
	CallTimeout time.Duration `env:"IMPORT_CALL_TIMEOUT" default:"10s"`

	// Timeout bounds a whole run (default: 30m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"30m"`

	// MatchPolicy selects how rows are matched to entries: substring or similarity
	MatchPolicy string `env:"IMPORT_MATCH_POLICY" default:"substring"`

	// SimilarityThreshold is the minimum Jaro-Winkler score for the similarity policy
	SimilarityThreshold float64 `env:"IMPORT_SIMILARITY_THRESHOLD" default:"0.92"`

	// SessionTTL is how long an idle wizard session is kept (default: 30m)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"30m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload and run endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// APIKeys is a comma-separated list of user:key pairs
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey rejects unauthenticated API calls (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// CORSOrigins lists origins allowed to call the API
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// Credentials maps each configured API key to its user id. Entries without
// a colon use the key itself as the user id.
func (c *SecurityConfig) Credentials() map[string]string {
	out := make(map[string]string, len(c.APIKeys))
	for _, pair := range c.APIKeys {
		user, key, ok := strings.Cut(pair, ":")
		if !ok {
			key, user = pair, pair
		}
		user, key = strings.TrimSpace(user), strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = user
	}
	return out
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text, json or pretty (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

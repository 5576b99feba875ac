package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads the configuration from the process environment and validates it.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with a custom variable lookup. The command line uses it
// to let flags take precedence over the environment.
func LoadFrom(lookup func(string) string) (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// loadStruct fills v from the env, envAlt, default and required tags of
// its fields, descending into nested sections.
func loadStruct(v reflect.Value, lookup func(string) string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct && sf.Type != timeType {
			if err := loadStruct(fv, lookup); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		value, err := lookupTagged(sf.Tag, lookup)
		if err != nil {
			return err
		}
		if value == "" {
			continue
		}
		if err := setField(fv, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}
	return nil
}

// lookupTagged resolves one field: env, then envAlt, then default.
func lookupTagged(tag reflect.StructTag, lookup func(string) string) (string, error) {
	name := tag.Get("env")
	if v := lookup(name); v != "" {
		return v, nil
	}
	if alt := tag.Get("envAlt"); alt != "" {
		if v := lookup(alt); v != "" {
			return v, nil
		}
	}
	if tag.Get("required") == "true" {
		return "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return tag.Get("default"), nil
}

func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// splitList splits a comma-separated value, dropping blank items.
func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// problems collects validation failures so every one is reported at once.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func oneOf(value string, allowed ...string) bool {
	value = strings.ToLower(value)
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// Validate checks the loaded values and reports every failure together.
func (c *Config) Validate() error {
	var p problems

	db := c.Database
	p.check(db.URL != "", "DATABASE_URL is required")
	p.check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)
	p.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")

	srv := c.Server
	p.check(srv.Port > 0 && srv.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", srv.Port)
	p.check(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	p.check(c.Upload.MaxFileSize > 0, "UPLOAD_MAX_FILE_SIZE must be positive")

	imp := c.Import
	p.check(imp.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	p.check(imp.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	p.check(imp.RowRate >= 0, "IMPORT_ROW_RATE must be non-negative")
	p.check(imp.CallTimeout > 0, "IMPORT_CALL_TIMEOUT must be positive")
	p.check(imp.Timeout > 0, "IMPORT_TIMEOUT must be positive")
	p.check(imp.SessionTTL > 0, "IMPORT_SESSION_TTL must be positive")
	p.check(oneOf(imp.MatchPolicy, "substring", "similarity"),
		"IMPORT_MATCH_POLICY (%q) must be one of: substring, similarity", imp.MatchPolicy)
	p.check(imp.SimilarityThreshold > 0 && imp.SimilarityThreshold <= 1,
		"IMPORT_SIMILARITY_THRESHOLD must be in (0, 1]")

	if c.Rate.Enabled {
		p.check(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		p.check(c.Rate.UploadLimit > 0, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	p.check(!c.Security.RequireAPIKey || len(c.Security.Credentials()) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")

	p.check(oneOf(c.Logging.Level, "debug", "info", "warn", "error"),
		"LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	p.check(oneOf(c.Logging.Format, "text", "json", "pretty"),
		"LOG_FORMAT (%q) must be one of: text, json, pretty", c.Logging.Format)

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

// String renders the config for logs with the database URL and API keys
// masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: {Host: %q, Port: %d}, "+
		"Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, "+
		"Upload: {MaxFileSize: %d}, "+
		"Import: {MaxConcurrent: %d, RowRate: %g, CallTimeout: %s, MatchPolicy: %q}, "+
		"Security: {APIKeys: %d configured, RequireAPIKey: %v}, "+
		"Rate: {Enabled: %v, RequestsPerMinute: %d}, "+
		"Logging: {Level: %q, Format: %q}}",
		c.Server.Host, c.Server.Port,
		c.Database.MaxConns, c.Database.MinConns,
		c.Upload.MaxFileSize,
		c.Import.MaxConcurrent, c.Import.RowRate, c.Import.CallTimeout, c.Import.MatchPolicy,
		len(c.Security.APIKeys), c.Security.RequireAPIKey,
		c.Rate.Enabled, c.Rate.RequestsPerMinute,
		c.Logging.Level, c.Logging.Format)
}

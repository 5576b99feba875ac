package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/JonMunkholm/libinventory/internal/catalog"
	"github.com/JonMunkholm/libinventory/internal/config"
	"github.com/JonMunkholm/libinventory/internal/logging"
)

// defaultDatabase is used when neither --db nor DATABASE_URL is given.
const defaultDatabase = "library.db"

// Runner holds the dependencies shared by every command.
type Runner struct {
	logger *slog.Logger
	output io.Writer
	getenv func(string) string
	now    func() time.Time
}

// RunnerOpts configures NewRunner. Zero fields get process defaults.
type RunnerOpts struct {
	Logger *slog.Logger
	Output io.Writer
	Getenv func(string) string
	Now    func() time.Time
}

// NewRunner creates a Runner, filling unset options with defaults.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Logger == nil {
		level := opts.Getenv("LOG_LEVEL")
		if level == "" {
			level = "warn"
		}
		opts.Logger = logging.New(os.Stderr, level, "pretty")
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Runner{
		logger: opts.Logger,
		output: opts.Output,
		getenv: opts.Getenv,
		now:    opts.Now,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		importCommand, templateCommand, exportCommand, historyCommand, presetCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "db",
		Aliases: []string{"d"},
		Usage:   "Database location: a SQLite path or a postgres:// URL (default $DATABASE_URL, then " + defaultDatabase + ")",
	}
}

// loadConfig reads the environment the same way the server does, with
// --db taking precedence over DATABASE_URL.
func (r *Runner) loadConfig(cmd *cli.Command) (*config.Config, error) {
	db := cmd.String("db")
	cfg, err := config.LoadFrom(func(key string) string {
		switch {
		case key == "DATABASE_URL" && db != "":
			return db
		case key == "DATABASE_URL" && r.getenv(key) == "" && r.getenv("DB_URL") == "":
			return defaultDatabase
		}
		return r.getenv(key)
	})
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (r *Runner) openStore(ctx context.Context, cfg *config.Config) (catalog.Backend, error) {
	store, err := catalog.Open(ctx, cfg.Database.URL, catalog.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	r.logger.Debug("catalog opened", "postgres", catalog.IsPostgresDSN(cfg.Database.URL))
	return store, nil
}

// createOutput opens path for writing. An empty path or "-" is stdout.
func (r *Runner) createOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{r.output}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (r *Runner) writeJSON(data any) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) {
	fmt.Fprintf(r.output, format, args...)
}

func (r *Runner) writePlainHeader(title string) {
	line := strings.Repeat("═", 39)
	r.writePlain("%s\n%s\n%s\n", line, title, line)
}

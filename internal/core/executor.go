package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/libinventory/internal/catalog"
	"github.com/JonMunkholm/libinventory/internal/identity"
	"github.com/JonMunkholm/libinventory/internal/ratelimit"
)

// DefaultCallTimeout bounds each catalog lookup and write.
const DefaultCallTimeout = 10 * time.Second

// ProgressFunc receives a snapshot after every processed row.
type ProgressFunc func(Progress)

// ExecutorConfig tunes an Executor. Zero values pick the defaults.
type ExecutorConfig struct {
	// CallTimeout bounds each lookup and each write.
	CallTimeout time.Duration
	// RowRate caps rows per second that reach the catalog. 0 is unlimited.
	RowRate float64
	// Clock supplies the inventory date. Defaults to time.Now.
	Clock func() time.Time
	// OnProgress is called after each row.
	OnProgress ProgressFunc
	Logger     *slog.Logger
}

// Executor drives rows through validate, match, resolve and persist.
//
// Rows run one at a time in file order, so a row can match an entry created
// by an earlier row of the same file. A failing row is recorded and the run
// moves on.
type Executor struct {
	matcher     Matcher
	writer      catalog.Writer
	pacer       *ratelimit.Pacer
	callTimeout time.Duration
	clock       func() time.Time
	onProgress  ProgressFunc
	logger      *slog.Logger
}

// NewExecutor wires a matcher and a writer into an executor.
func NewExecutor(m Matcher, w catalog.Writer, cfg ExecutorConfig) *Executor {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		matcher:     m,
		writer:      w,
		pacer:       ratelimit.NewPacer(cfg.RowRate),
		callTimeout: cfg.CallTimeout,
		clock:       cfg.Clock,
		onProgress:  cfg.OnProgress,
		logger:      cfg.Logger,
	}
}

// Run imports every row of table using mapping.
//
// It returns a *MappingError without touching the catalog when a required
// field is unbound. Cancelling ctx stops the run before the next row; the
// row in flight always completes. A cancelled run returns its partial report
// with Cancelled set and a nil error.
func (e *Executor) Run(ctx context.Context, table *Table, mapping ColumnMapping) (*ImportReport, error) {
	if err := mapping.Validate(table.Headers); err != nil {
		return nil, err
	}

	env := ResolveEnv{Today: e.clock(), UserID: identity.CurrentUserID(ctx)}
	rep := NewReporter(len(table.Rows))
	cancelled := false

	e.logger.Info("import started", "rows", len(table.Rows), "user", env.UserID)

	for i, raw := range table.Rows {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		values := mapping.Extract(raw)
		if _, reason := ValidateRow(values); reason == "" {
			// Only rows that will reach the catalog are paced.
			if err := e.pacer.Wait(ctx); err != nil {
				cancelled = true
				break
			}
		}

		outcome, err := e.processRow(context.WithoutCancel(ctx), i+1, raw, values, env)
		if err != nil {
			e.logger.Debug("row failed", "row", outcome.Row, "line", raw.Line, "error", err)
		} else {
			e.logger.Debug("row imported", "row", outcome.Row, "status", outcome.Status, "entry_id", outcome.EntryID)
		}
		if err := rep.Record(outcome); err != nil {
			return nil, err
		}
		if e.onProgress != nil {
			e.onProgress(rep.Snapshot())
		}
	}

	report := rep.Finalize(cancelled)
	e.logger.Info("import finished",
		"total", report.Total,
		"created", report.Created,
		"updated", report.Updated,
		"errors", report.Errors,
		"cancelled", report.Cancelled,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// processRow always returns an outcome. The error, when set, is the typed
// cause behind an error outcome.
func (e *Executor) processRow(ctx context.Context, n int, raw RawRow, v RowValues, env ResolveEnv) (RowOutcome, error) {
	out := RowOutcome{Row: n, Line: raw.Line, Title: v.Title}
	if out.Title == "" {
		out.Title = UnknownTitle
	}

	fail := func(msg string, err error) (RowOutcome, error) {
		out.Status = StatusError
		out.Message = msg
		return out, err
	}

	if _, reason := ValidateRow(v); reason != "" {
		return fail(reason, &RowValidationError{Row: n, Reason: reason})
	}

	match, err := e.lookup(ctx, v)
	if err != nil {
		return fail(fmt.Sprintf(msgLookupErrFormat, err), &MatchLookupError{Row: n, Err: err})
	}

	action := Resolve(v, match, env)
	switch action.Kind {
	case ActionUpdate:
		if err := e.update(ctx, action); err != nil {
			return fail(fmt.Sprintf(msgDatabaseErrFormat, err), &PersistenceError{Row: n, Op: "update", Err: err})
		}
		out.Status = StatusUpdated
		out.EntryID = action.TargetID
		out.Message = fmt.Sprintf(msgUpdatedFormat, action.Copies)
	case ActionCreate:
		id, err := e.create(ctx, action)
		if err != nil {
			return fail(fmt.Sprintf(msgDatabaseErrFormat, err), &PersistenceError{Row: n, Op: "create", Err: err})
		}
		out.Status = StatusCreated
		out.EntryID = id
		out.Message = fmt.Sprintf(msgCreatedFormat, action.Copies)
	default:
		return fail(action.Reason, &RowValidationError{Row: n, Reason: action.Reason})
	}
	return out, nil
}

func (e *Executor) lookup(ctx context.Context, v RowValues) (*catalog.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.matcher.FindExisting(ctx, v.Title, v.Composer)
}

func (e *Executor) update(ctx context.Context, a Action) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.writer.Update(ctx, a.TargetID, a.Update)
}

func (e *Executor) create(ctx context.Context, a Action) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.writer.Create(ctx, a.Create)
}

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JonMunkholm/libinventory/internal/catalog"
	"github.com/JonMunkholm/libinventory/internal/logging"
)

// RunDetail is a stored import run with its decoded row outcomes.
type RunDetail struct {
	catalog.ImportRun
	Rows []RowOutcome `json:"rows"`
}

// ListHistory returns recent import runs, newest first, without outcomes.
func (s *Service) ListHistory(ctx context.Context, limit int) ([]catalog.ImportRun, error) {
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return runs, nil
}

// GetRun returns one stored run with its outcomes.
func (s *Service) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	detail := &RunDetail{ImportRun: *run, Rows: []RowOutcome{}}
	if len(run.Outcomes) > 0 {
		if err := json.Unmarshal(run.Outcomes, &detail.Rows); err != nil {
			return nil, fmt.Errorf("decode outcomes for run %s: %w", id, err)
		}
	}
	detail.Outcomes = nil
	return detail, nil
}

// ImportOptions configures a one-shot import outside the wizard.
type ImportOptions struct {
	// Bindings pin fields to headers. Fields left out are auto-mapped.
	Bindings map[Field]string
	// DryRun previews without writing.
	DryRun bool
	// OnProgress receives a snapshot after each row.
	OnProgress ProgressFunc
	// Logger receives the run's log lines. Defaults to the context logger.
	Logger *slog.Logger
}

// ImportResult is the outcome of ImportFile. Exactly one of Report and
// Preview is set.
type ImportResult struct {
	RunID   string
	Mapping ColumnMapping
	Report  *ImportReport
	Preview *PreviewResponse
}

// ImportFile parses data and imports it synchronously, holding an import
// slot for the whole run. Used by the command line.
func (s *Service) ImportFile(ctx context.Context, fileName string, data []byte, opts ImportOptions) (*ImportResult, error) {
	table, err := Parse(data)
	if err != nil {
		return nil, err
	}

	mapper := NewColumnMapper(table.Headers)
	for f, h := range opts.Bindings {
		mapper.Assign(f, h)
	}
	mapper.AutoMap()
	mapping, err := mapper.Freeze()
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		preview, err := s.previewTable(ctx, table, mapping)
		if err != nil {
			return nil, err
		}
		return &ImportResult{Mapping: mapping, Preview: preview}, nil
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger = logger.With("run_id", runID, "file", fileName)
	exec := NewExecutor(s.matcher, s.store, ExecutorConfig{
		CallTimeout: s.cfg.Import.CallTimeout,
		RowRate:     s.cfg.Import.RowRate,
		Clock:       s.now,
		Logger:      logger,
		OnProgress:  opts.OnProgress,
	})

	report, err := exec.Run(ctx, table, mapping)
	if err != nil {
		s.LogAudit(ctx, AuditLogParams{Action: ActionImportFailed, RunID: runID, Detail: err.Error()})
		return nil, err
	}
	s.recordRun(ctx, runID, fileName, report)

	return &ImportResult{RunID: runID, Mapping: mapping, Report: report}, nil
}

package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/libinventory/internal/catalog"
	"github.com/JonMunkholm/libinventory/internal/config"
	"github.com/JonMunkholm/libinventory/internal/identity"
	"github.com/JonMunkholm/libinventory/internal/logging"
)

// resultRetention is how long a finished import stays readable after the
// session would otherwise have expired.
const resultRetention = 10 * time.Minute

// sampleRowCount is the number of parsed rows shown on the preview step.
const sampleRowCount = 5

// Service runs import wizard sessions against a catalog backend.
type Service struct {
	store   catalog.Backend
	cfg     *config.Config
	matcher Matcher
	limiter *ImportLimiter
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	ID        string
	FileName  string
	CreatedAt time.Time

	mu      sync.Mutex
	table   *Table
	mapper  *ColumnMapper
	wizard  *Wizard
	touched time.Time
	run     *activeImport
}

type activeImport struct {
	RunID      string
	Cancel     context.CancelFunc
	Progress   Progress
	Report     *ImportReport
	Err        error
	Done       chan struct{}
	Listeners  []chan Progress
	ListenerMu sync.Mutex
}

// SessionView is the client-facing state of a session.
type SessionView struct {
	ID        string              `json:"id"`
	FileName  string              `json:"fileName"`
	Step      Step                `json:"step"`
	Headers   []string            `json:"headers"`
	RowCount  int                 `json:"rowCount"`
	Sample    []map[string]string `json:"sample"`
	Mapping   ColumnMapping       `json:"mapping"`
	Missing   []Field             `json:"missing"`
	Valid     bool                `json:"valid"`
	Templates []TemplateMatch     `json:"templates,omitempty"`
	RunID     string              `json:"runId,omitempty"`
	Progress  *Progress           `json:"progress,omitempty"`
	Report    *ImportReport       `json:"report,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
}

// NewService creates a Service. It fails when the configured match policy
// is unknown.
func NewService(store catalog.Backend, cfg *config.Config) (*Service, error) {
	matcher, err := NewMatcher(cfg.Import.MatchPolicy, store, MatcherOptions{
		SimilarityThreshold: cfg.Import.SimilarityThreshold,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		store:    store,
		cfg:      cfg,
		matcher:  matcher,
		limiter:  NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		now:      time.Now,
		sessions: make(map[string]*session),
	}, nil
}

// Limiter exposes the import limiter for health output and shutdown.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// StartSession parses an uploaded file and opens a wizard session on the
// preview step with the mapping pre-filled from known header spellings.
func (s *Service) StartSession(ctx context.Context, fileName string, data []byte) (*SessionView, error) {
	if len(data) == 0 && fileName == "" {
		return nil, ErrNoFile
	}
	if !strings.EqualFold(filepath.Ext(fileName), ".csv") {
		return nil, ErrInvalidFileType
	}
	if limit := s.cfg.Upload.MaxFileSize; limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, len(data), limit)
	}

	table, err := Parse(data)
	if err != nil {
		return nil, err
	}

	mapper := NewColumnMapper(table.Headers)
	mapper.AutoMap()

	wiz := NewWizard()
	if err := wiz.Advance(StepPreview); err != nil {
		return nil, err
	}

	now := s.now()
	sess := &session{
		ID:        uuid.NewString(),
		FileName:  filepath.Base(fileName),
		CreatedAt: now,
		table:     table,
		mapper:    mapper,
		wizard:    wiz,
		touched:   now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.scheduleExpiry(sess.ID, s.cfg.Import.SessionTTL)

	logging.WithFields(ctx, "session_id", sess.ID, "file", sess.FileName).
		Info("import session started", "rows", len(table.Rows), "headers", len(table.Headers))

	view := s.view(sess)
	if matches, err := s.MatchTemplates(ctx, table.Headers); err != nil {
		logging.FromContext(ctx).Warn("template match failed", "error", err)
	} else {
		view.Templates = matches
	}
	return view, nil
}

// Session returns the current view of a session.
func (s *Service) Session(id string) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// AssignColumn binds field to header. The first edit moves the wizard from
// preview to mapping.
func (s *Service) AssignColumn(id string, field Field, header string) (*SessionView, error) {
	return s.editMapping(id, func(m *ColumnMapper) error {
		return assign(m, field, header)
	})
}

// UpdateMapping applies several field bindings at once. Keys are field
// names as accepted by ParseField.
func (s *Service) UpdateMapping(id string, bindings map[string]string) (*SessionView, error) {
	return s.editMapping(id, func(m *ColumnMapper) error {
		for key, header := range bindings {
			f, ok := ParseField(key)
			if !ok {
				return fmt.Errorf("unknown field %q", key)
			}
			if err := assign(m, f, header); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyTemplate replaces the session mapping with a saved template.
func (s *Service) ApplyTemplate(ctx context.Context, id, templateID string) (*SessionView, error) {
	t, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	view, err := s.editMapping(id, func(m *ColumnMapper) error {
		m.Apply(templateMapping(t, m.Headers()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.LogAudit(ctx, AuditLogParams{Action: ActionTemplateApplied, Detail: t.Name})
	return view, nil
}

// Mapping returns the session's current mapping and its missing fields.
func (s *Service) Mapping(id string) (ColumnMapping, []Field, error) {
	sess, err := s.session(id)
	if err != nil {
		return ColumnMapping{}, nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.mapper.Mapping(), sess.mapper.Missing(), nil
}

func assign(m *ColumnMapper, f Field, header string) error {
	if isBound(header) {
		known := false
		for _, h := range m.Headers() {
			if h == header {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: %q", ErrUnknownHeader, header)
		}
	}
	m.Assign(f, header)
	return nil
}

func (s *Service) editMapping(id string, edit func(*ColumnMapper) error) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.wizard.Step() == StepPreview {
		if err := sess.wizard.Advance(StepMapping); err != nil {
			sess.mu.Unlock()
			return nil, err
		}
	}
	if step := sess.wizard.Step(); step != StepMapping {
		sess.mu.Unlock()
		return nil, &TransitionError{From: step, To: StepMapping}
	}
	err = edit(sess.mapper)
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// RunImport freezes the mapping and starts the import in the background.
// It waits for an import slot first and returns ErrTooManyImports when none
// frees up in time. The user recorded on new entries comes from ctx.
func (s *Service) RunImport(ctx context.Context, id string) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	// Reject a second run before queueing for a slot.
	sess.mu.Lock()
	step := sess.wizard.Step()
	sess.mu.Unlock()
	if step != StepPreview && !CanTransition(step, StepImporting) {
		return nil, &TransitionError{From: step, To: StepImporting}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.wizard.Step() == StepPreview {
		if err := sess.wizard.Advance(StepMapping); err != nil {
			sess.mu.Unlock()
			s.limiter.Release()
			return nil, err
		}
	}
	mapping, err := sess.wizard.StartImport(sess.mapper)
	if err != nil {
		sess.mu.Unlock()
		s.limiter.Release()
		return nil, err
	}

	runCtx := identity.WithUser(context.Background(), identity.CurrentUserID(ctx))
	runCtx = WithRequestMeta(runCtx, RequestMetaFrom(ctx))
	runCtx, cancel := context.WithTimeout(runCtx, s.cfg.Import.Timeout)

	run := &activeImport{
		RunID:  uuid.NewString(),
		Cancel: cancel,
		Progress: Progress{
			SessionID: sess.ID,
			FileName:  sess.FileName,
			Phase:     PhaseQueued,
			Total:     len(sess.table.Rows),
		},
		Done: make(chan struct{}),
	}
	sess.run = run
	table := sess.table
	sess.mu.Unlock()

	go s.processImport(runCtx, sess, run, table, mapping)

	return s.view(sess), nil
}

func (s *Service) processImport(ctx context.Context, sess *session, run *activeImport, table *Table, mapping ColumnMapping) {
	defer run.finish()
	defer s.limiter.Release()
	defer run.Cancel()

	logger := logging.WithFields(ctx, "session_id", sess.ID, "run_id", run.RunID, "file", sess.FileName)

	exec := NewExecutor(s.matcher, s.store, ExecutorConfig{
		CallTimeout: s.cfg.Import.CallTimeout,
		RowRate:     s.cfg.Import.RowRate,
		Clock:       s.now,
		Logger:      logger,
		OnProgress: func(p Progress) {
			run.ListenerMu.Lock()
			p.SessionID, p.FileName = sess.ID, sess.FileName
			run.Progress = p
			run.ListenerMu.Unlock()
			run.notifyProgress()
		},
	})

	report, err := exec.Run(ctx, table, mapping)

	run.ListenerMu.Lock()
	switch {
	case err != nil:
		run.Err = err
		run.Progress.Phase = PhaseFailed
		run.Progress.Error = FormatUserError(err)
	case report.Cancelled:
		run.Report = report
		run.Progress.Phase = PhaseCancelled
	default:
		run.Report = report
		run.Progress.Phase = PhaseComplete
	}
	run.ListenerMu.Unlock()

	if err != nil {
		logger.Error("import failed", "error", err)
		s.LogAudit(ctx, AuditLogParams{Action: ActionImportFailed, RunID: run.RunID, Detail: err.Error()})
	} else {
		s.recordRun(ctx, run.RunID, sess.FileName, report)
	}

	sess.mu.Lock()
	if werr := sess.wizard.Advance(StepResults); werr != nil {
		logger.Warn("wizard transition failed", "error", werr)
	}
	sess.touched = s.now()
	sess.mu.Unlock()

	run.notifyProgress()
}

// recordRun persists history and the audit entry for a finished run.
func (s *Service) recordRun(ctx context.Context, runID, fileName string, report *ImportReport) {
	outcomes, err := json.Marshal(report.Outcomes)
	if err != nil {
		slog.Warn("marshal outcomes failed", "run_id", runID, "error", err)
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err = s.store.SaveRun(saveCtx, catalog.ImportRun{
		ID:         runID,
		FileName:   fileName,
		UserID:     identity.CurrentUserID(ctx),
		Total:      report.Total,
		Created:    report.Created,
		Updated:    report.Updated,
		Errors:     report.Errors,
		Cancelled:  report.Cancelled,
		Outcomes:   outcomes,
		StartedAt:  report.StartedAt.UTC(),
		FinishedAt: report.FinishedAt.UTC(),
	})
	if err != nil {
		slog.Warn("save import run failed", "run_id", runID, "error", err)
	}

	action := ActionImportRun
	if report.Cancelled {
		action = ActionImportCancel
	}
	s.LogAudit(ctx, AuditLogParams{Action: action, RunID: runID, Detail: fmt.Sprintf("%s: %s", fileName, report.Summary())})
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the import finishes. Subscribing to a finished
// import yields the final snapshot and a closed channel.
func (s *Service) SubscribeProgress(id string) (<-chan Progress, error) {
	run, err := s.activeRun(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 10)

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	ch <- run.Progress
	select {
	case <-run.Done:
		close(ch)
	default:
		run.Listeners = append(run.Listeners, ch)
	}
	return ch, nil
}

// CancelImport asks a running import to stop before its next row.
func (s *Service) CancelImport(id string) error {
	run, err := s.activeRun(id)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// Result blocks until the session's import finishes or ctx ends.
func (s *Service) Result(ctx context.Context, id string) (*ImportReport, error) {
	run, err := s.activeRun(id)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if run.Err != nil {
		return nil, run.Err
	}
	return run.Report, nil
}

// Back moves the wizard one step back. A finished session has no back
// step; Reset ends it instead.
func (s *Service) Back(id string) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	_, err = sess.wizard.Back()
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// Reset ends a session. A session that is still importing cannot be reset.
func (s *Service) Reset(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	err = sess.wizard.Reset()
	sess.mu.Unlock()
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *Service) session(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	sess.mu.Lock()
	sess.touched = s.now()
	sess.mu.Unlock()
	return sess, nil
}

func (s *Service) activeRun(id string) (*activeImport, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	run := sess.run
	sess.mu.Unlock()
	if run == nil {
		return nil, ErrNoActiveImport
	}
	return run, nil
}

func (s *Service) view(sess *session) *SessionView {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sample := make([]map[string]string, 0, sampleRowCount)
	for i := 0; i < len(sess.table.Rows) && i < sampleRowCount; i++ {
		sample = append(sample, sess.table.Rows[i].Values)
	}

	v := &SessionView{
		ID:        sess.ID,
		FileName:  sess.FileName,
		Step:      sess.wizard.Step(),
		Headers:   sess.mapper.Headers(),
		RowCount:  len(sess.table.Rows),
		Sample:    sample,
		Mapping:   sess.mapper.Mapping(),
		Missing:   sess.mapper.Missing(),
		Valid:     sess.mapper.IsValid(),
		CreatedAt: sess.CreatedAt,
	}

	if run := sess.run; run != nil {
		run.ListenerMu.Lock()
		p := run.Progress
		v.RunID = run.RunID
		v.Progress = &p
		v.Report = run.Report
		run.ListenerMu.Unlock()
	}
	return v
}

// scheduleExpiry drops a session once it has been idle for ttl. Running
// imports keep their session alive, and finished ones stay readable for
// resultRetention.
func (s *Service) scheduleExpiry(id string, ttl time.Duration) {
	time.AfterFunc(ttl, func() {
		s.mu.RLock()
		sess, ok := s.sessions[id]
		s.mu.RUnlock()
		if !ok {
			return
		}

		sess.mu.Lock()
		idle := s.now().Sub(sess.touched)
		busy := sess.wizard.Step() == StepImporting
		finished := sess.run != nil && !busy
		sess.mu.Unlock()

		limit := s.cfg.Import.SessionTTL
		if finished {
			limit += resultRetention
		}
		if busy || idle < limit {
			next := limit - idle
			if busy || next <= 0 {
				next = ttl
			}
			s.scheduleExpiry(id, next)
			return
		}

		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		slog.Debug("import session expired", "session_id", id)
	})
}

// ActiveSessions returns the number of open sessions.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CancelAll cancels every running import. Used on shutdown before draining
// the limiter.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if sess.run != nil {
			sess.run.Cancel()
		}
		sess.mu.Unlock()
	}
}

// notifyProgress sends progress updates to all listeners.
func (run *activeImport) notifyProgress() {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	for _, ch := range run.Listeners {
		select {
		case ch <- run.Progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish closes all listener channels and marks the run done. Both happen
// under ListenerMu so a late subscriber sees either a live run or Done.
func (run *activeImport) finish() {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	for _, ch := range run.Listeners {
		close(ch)
	}
	run.Listeners = nil
	close(run.Done)
}

// IsFatal reports whether err stopped an import before any row ran.
func IsFatal(err error) bool {
	var pe *ParseError
	var me *MappingError
	return errors.As(err, &pe) || errors.As(err, &me)
}

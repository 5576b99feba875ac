package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/libinventory/internal/catalog"
	"github.com/JonMunkholm/libinventory/internal/identity"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionImportRun       AuditAction = "import_run"
	ActionImportCancel    AuditAction = "import_cancel"
	ActionImportFailed    AuditAction = "import_failed"
	ActionLibraryExport   AuditAction = "library_export"
	ActionTemplateCreate  AuditAction = "template_create"
	ActionTemplateDelete  AuditAction = "template_delete"
	ActionTemplateApplied AuditAction = "template_applied"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow    AuditSeverity = "low"
	SeverityMedium AuditSeverity = "medium"
	SeverityHigh   AuditSeverity = "high"
)

// AuditLogParams contains parameters for creating an audit log entry.
type AuditLogParams struct {
	Action AuditAction
	RunID  string
	Detail string
}

// determineSeverity returns the appropriate severity for an action.
// Anything that writes to the catalog is high.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionImportRun, ActionImportFailed:
		return SeverityHigh
	case ActionTemplateCreate, ActionTemplateDelete, ActionTemplateApplied:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// LogAudit appends an audit record, taking the user and request metadata
// from ctx. Audit failures are logged and never fail the caller.
func (s *Service) LogAudit(ctx context.Context, params AuditLogParams) {
	meta := RequestMetaFrom(ctx)
	rec := catalog.AuditRecord{
		ID:        uuid.NewString(),
		Action:    string(params.Action),
		Severity:  string(determineSeverity(params.Action)),
		UserID:    identity.CurrentUserID(ctx),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		RunID:     params.RunID,
		Detail:    params.Detail,
		CreatedAt: s.now().UTC(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.AppendAudit(writeCtx, rec); err != nil {
		slog.Warn("audit write failed", "action", params.Action, "error", err)
	}
}

// ListAudit returns the newest audit records first.
func (s *Service) ListAudit(ctx context.Context, limit int) ([]catalog.AuditRecord, error) {
	recs, err := s.store.ListAudit(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return recs, nil
}

// Package catalog is the persistence boundary for the music library.
//
// It exposes the entry lookups and writes that the import pipeline needs
// (Reader, Writer) plus the bookkeeping tables that sit next to the catalog
// (saved mapping templates, import run history and the audit log). Three
// backends implement the same contracts: PostgreSQL over pgx, SQLite over
// modernc.org/sqlite, and an in-memory store used by tests and dry runs.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when an entry, template or run does not exist.
var ErrNotFound = errors.New("catalog: not found")

// DateLayout is the calendar-date format used for inventory dates.
const DateLayout = "2006-01-02"

// Entry is a catalog record describing one piece of sheet music and the
// physical copies held for it.
type Entry struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Composer            *string    `json:"composer,omitempty"`
	Arranger            *string    `json:"arranger,omitempty"`
	Voicing             *string    `json:"voicing,omitempty"`
	PhysicalCopiesCount int        `json:"physicalCopiesCount"`
	PhysicalLocation    *string    `json:"physicalLocation,omitempty"`
	ConditionNotes      *string    `json:"conditionNotes,omitempty"`
	LastInventoryDate   *time.Time `json:"lastInventoryDate,omitempty"`
	IsPublic            bool       `json:"isPublic"`
	CreatedBy           string     `json:"createdBy"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// NewEntry is the full record written when an import row has no match.
type NewEntry struct {
	Title               string
	Composer            *string
	Voicing             *string
	PhysicalCopiesCount int
	PhysicalLocation    *string
	LastInventoryDate   time.Time
	IsPublic            bool
	CreatedBy           string
}

// Patch is the partial update applied to a matched entry.
//
// PhysicalLocation is always written (callers resolve the fallback to the
// current value). A nil Voicing leaves the stored voicing untouched.
// Title and composer are never part of a patch.
type Patch struct {
	PhysicalCopiesCount int
	PhysicalLocation    *string
	LastInventoryDate   time.Time
	Voicing             *string
}

// Reader answers the lookups the matcher needs.
type Reader interface {
	// FindByTitleAndComposer returns the earliest-created entry whose title
	// contains title (case-insensitive) and, when composer is non-empty,
	// whose composer contains composer. It returns nil, nil on no match.
	FindByTitleAndComposer(ctx context.Context, title, composer string) (*Entry, error)

	// ListCandidates returns entries whose composer contains composer, or
	// every entry when composer is empty, ordered by creation.
	ListCandidates(ctx context.Context, composer string) ([]Entry, error)

	// List returns the whole catalog ordered by title.
	List(ctx context.Context) ([]Entry, error)
}

// Writer persists import decisions.
type Writer interface {
	Create(ctx context.Context, e NewEntry) (string, error)
	Update(ctx context.Context, id string, p Patch) error
}

// Store is a full catalog backend.
type Store interface {
	Reader
	Writer
	Close() error
}

// MappingTemplate is a saved header-to-field mapping that can be reapplied
// to later uploads with similar headers.
type MappingTemplate struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Mapping   map[string]string `json:"mapping"`
	Headers   []string          `json:"headers"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ImportRun is the persisted summary of one executed import.
type ImportRun struct {
	ID         string          `json:"id"`
	FileName   string          `json:"fileName"`
	UserID     string          `json:"userId"`
	Total      int             `json:"total"`
	Created    int             `json:"created"`
	Updated    int             `json:"updated"`
	Errors     int             `json:"errors"`
	Cancelled  bool            `json:"cancelled"`
	Outcomes   json.RawMessage `json:"outcomes,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// AuditRecord is one row of the audit log.
type AuditRecord struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Severity  string    `json:"severity"`
	UserID    string    `json:"userId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MetaStore holds templates, run history and the audit log.
type MetaStore interface {
	SaveTemplate(ctx context.Context, t MappingTemplate) (MappingTemplate, error)
	GetTemplate(ctx context.Context, id string) (*MappingTemplate, error)
	ListTemplates(ctx context.Context) ([]MappingTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error

	SaveRun(ctx context.Context, run ImportRun) error
	GetRun(ctx context.Context, id string) (*ImportRun, error)
	ListRuns(ctx context.Context, limit int) ([]ImportRun, error)

	AppendAudit(ctx context.Context, rec AuditRecord) error
	ListAudit(ctx context.Context, limit int) ([]AuditRecord, error)
}

// Backend is a Store that also carries the bookkeeping tables.
type Backend interface {
	Store
	MetaStore
}

// DefaultListLimit caps history and audit listings when no limit is given.
const DefaultListLimit = 100

// StringPtr returns nil for an empty string and a pointer otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// containsFold reports whether needle occurs in haystack ignoring case.
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// likePattern escapes LIKE metacharacters so needle is matched literally
// inside a %...% pattern.
func likePattern(needle string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(needle) + "%"
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

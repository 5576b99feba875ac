package core

import (
	"strings"
	"time"
)

// Field is one semantic column of the inventory import schema.
type Field string

const (
	FieldTitle          Field = "title"
	FieldComposer       Field = "composer"
	FieldVoicing        Field = "voicing"
	FieldLibraryNumber  Field = "libraryNumber"
	FieldPhysicalCopies Field = "physicalCopies"
)

// Fields lists every schema field in display order.
var Fields = []Field{FieldTitle, FieldComposer, FieldLibraryNumber, FieldVoicing, FieldPhysicalCopies}

// Unmapped marks a field deliberately left without a source column.
const Unmapped = "unmapped"

// Required reports whether an import cannot run without this field.
func (f Field) Required() bool {
	return f == FieldTitle || f == FieldPhysicalCopies
}

// Label is the template header for the field.
func (f Field) Label() string {
	switch f {
	case FieldTitle:
		return "Title"
	case FieldComposer:
		return "Composer"
	case FieldVoicing:
		return "Voicing"
	case FieldLibraryNumber:
		return "Library Number"
	case FieldPhysicalCopies:
		return "Physical Copies"
	default:
		return string(f)
	}
}

// ParseField accepts the field key ("libraryNumber"), its snake_case form
// ("library_number") or its label ("Library Number").
func ParseField(s string) (Field, bool) {
	norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(s)))
	for _, f := range Fields {
		if strings.ToLower(string(f)) == norm {
			return f, true
		}
	}
	return "", false
}

// RawRow is one data line of the uploaded file keyed by header.
type RawRow struct {
	// Line is the 1-based physical line in the file.
	Line   int               `json:"line"`
	Values map[string]string `json:"values"`
}

// Table is the parsed upload.
type Table struct {
	Headers []string `json:"headers"`
	Rows    []RawRow `json:"rows"`
}

// RowValues are the trimmed cell values a mapping extracts from a row.
type RowValues struct {
	Title          string `json:"title"`
	Composer       string `json:"composer,omitempty"`
	Voicing        string `json:"voicing,omitempty"`
	LibraryNumber  string `json:"libraryNumber,omitempty"`
	PhysicalCopies string `json:"physicalCopies"`
}

// RowStatus is the terminal state of one processed row.
type RowStatus string

const (
	StatusCreated RowStatus = "created"
	StatusUpdated RowStatus = "updated"
	StatusError   RowStatus = "error"
)

// RowOutcome records what happened to one data row.
type RowOutcome struct {
	// Row is the 1-based ordinal among data rows.
	Row     int       `json:"row"`
	Line    int       `json:"line,omitempty"`
	Title   string    `json:"title"`
	Status  RowStatus `json:"status"`
	Message string    `json:"message"`
	EntryID string    `json:"entryId,omitempty"`
}

// ImportReport is the finished, immutable result of one run.
type ImportReport struct {
	Success    int          `json:"success"`
	Created    int          `json:"created"`
	Updated    int          `json:"updated"`
	Errors     int          `json:"errors"`
	Total      int          `json:"total"`
	Cancelled  bool         `json:"cancelled"`
	Outcomes   []RowOutcome `json:"outcomes"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Processed is the number of rows that produced an outcome.
func (r *ImportReport) Processed() int {
	return len(r.Outcomes)
}

// Failed returns the error outcomes in row order.
func (r *ImportReport) Failed() []RowOutcome {
	var out []RowOutcome
	for _, o := range r.Outcomes {
		if o.Status == StatusError {
			out = append(out, o)
		}
	}
	return out
}

// ImportPhase describes where a running import is.
type ImportPhase string

const (
	PhaseQueued     ImportPhase = "queued"
	PhaseProcessing ImportPhase = "processing"
	PhaseComplete   ImportPhase = "complete"
	PhaseCancelled  ImportPhase = "cancelled"
	PhaseFailed     ImportPhase = "failed"
)

// Progress is a point-in-time snapshot streamed to subscribers.
type Progress struct {
	SessionID string      `json:"sessionId"`
	FileName  string      `json:"fileName"`
	Phase     ImportPhase `json:"phase"`
	Row       int         `json:"row"`
	Total     int         `json:"total"`
	Created   int         `json:"created"`
	Updated   int         `json:"updated"`
	Errors    int         `json:"errors"`
	Error     string      `json:"error,omitempty"`
}

// Percent returns completion as 0-100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		if p.Phase == PhaseComplete {
			return 100
		}
		return 0
	}
	return p.Row * 100 / p.Total
}

package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyFile is wrapped by ParseError when the upload has no header line.
var ErrEmptyFile = errors.New("empty file")

// Session and upload errors surfaced to callers of Service.
var (
	ErrSessionNotFound = errors.New("import session not found")
	ErrFileTooLarge    = errors.New("file too large")
	ErrInvalidFileType = errors.New("invalid file type: only .csv files are accepted")
	ErrNoFile          = errors.New("no file provided")
	ErrNoActiveImport  = errors.New("no import running for this session")
	ErrUnknownHeader   = errors.New("column not found in file")
)

// ParseError is fatal: nothing in the file is processed.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid csv: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("invalid csv: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MappingError is fatal: the executor refuses to start.
type MappingError struct {
	Missing []Field
}

func (e *MappingError) Error() string {
	labels := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		labels[i] = f.Label()
	}
	return "missing required column mapping: " + strings.Join(labels, ", ")
}

// RowValidationError is a per-row rejection decided without any I/O.
type RowValidationError struct {
	Row    int
	Reason string
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// MatchLookupError wraps a failed catalog read for one row.
type MatchLookupError struct {
	Row int
	Err error
}

func (e *MatchLookupError) Error() string {
	return fmt.Sprintf("row %d: lookup: %v", e.Row, e.Err)
}

func (e *MatchLookupError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed create or update for one row.
type PersistenceError struct {
	Row int
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransitionError rejects a wizard move the state machine does not allow.
// From == To marks a Back with no previous step.
type TransitionError struct {
	From Step
	To   Step
}

func (e *TransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("invalid wizard transition: cannot go back from %s", e.From)
	}
	return fmt.Sprintf("invalid wizard transition from %s to %s", e.From, e.To)
}

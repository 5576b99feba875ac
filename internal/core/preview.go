package core

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/JonMunkholm/libinventory/internal/catalog"
)

// PreviewSummary contains the would-be counts of an import.
type PreviewSummary struct {
	TotalRows  int `json:"totalRows"`
	NewRows    int `json:"newRows"`
	UpdateRows int `json:"updateRows"`
	ErrorRows  int `json:"errorRows"`
}

// RowPreview is a row that would create a new entry.
type RowPreview struct {
	Row    int       `json:"row"`
	Line   int       `json:"line"`
	Values RowValues `json:"values"`
}

// UpdateDiff is a before/after view of a row that would update an entry.
type UpdateDiff struct {
	Row      int               `json:"row"`
	Line     int               `json:"line"`
	EntryID  string            `json:"entryId"`
	Matched  string            `json:"matchedTitle"`
	Current  map[string]string `json:"current"`
	Incoming map[string]string `json:"incoming"`
	Changed  []string          `json:"changed"`
}

// ErrorPreview is a row that would be rejected.
type ErrorPreview struct {
	Row    int       `json:"row"`
	Line   int       `json:"line"`
	Values RowValues `json:"values"`
	Error  string    `json:"error"`
}

// PreviewResponse is the result of a dry run.
//
// Rows are matched against the catalog as it is now, so a row that would
// match an entry created by an earlier row of the same file is reported as
// new here but becomes an update in the real run.
type PreviewResponse struct {
	Summary          PreviewSummary `json:"summary"`
	NewRowSamples    []RowPreview   `json:"newRowSamples"`
	UpdateDiffs      []UpdateDiff   `json:"updateDiffs"`
	ErrorSamples     []ErrorPreview `json:"errorSamples"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
}

// Sample limits
const (
	maxNewRowSamples = 10
	maxUpdateDiffs   = 10
	maxErrorSamples  = 20
)

// Preview dry-runs a session's import with its current mapping.
func (s *Service) Preview(ctx context.Context, sessionID string) (*PreviewResponse, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	step := sess.wizard.Step()
	mapping := sess.mapper.Mapping()
	table := sess.table
	sess.mu.Unlock()

	if step != StepPreview && step != StepMapping {
		return nil, &TransitionError{From: step, To: StepPreview}
	}
	return s.previewTable(ctx, table, mapping)
}

// previewTable validates and matches every row without writing.
func (s *Service) previewTable(ctx context.Context, table *Table, mapping ColumnMapping) (*PreviewResponse, error) {
	start := time.Now()
	if err := mapping.Validate(table.Headers); err != nil {
		return nil, err
	}

	resp := &PreviewResponse{
		NewRowSamples: []RowPreview{},
		UpdateDiffs:   []UpdateDiff{},
		ErrorSamples:  []ErrorPreview{},
	}
	resp.Summary.TotalRows = len(table.Rows)

	env := ResolveEnv{Today: s.now()}
	for i, raw := range table.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := i + 1
		v := mapping.Extract(raw)

		if _, reason := ValidateRow(v); reason != "" {
			resp.Summary.ErrorRows++
			if len(resp.ErrorSamples) < maxErrorSamples {
				resp.ErrorSamples = append(resp.ErrorSamples, ErrorPreview{Row: n, Line: raw.Line, Values: v, Error: reason})
			}
			continue
		}

		lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.Import.CallTimeout)
		match, err := s.matcher.FindExisting(lookupCtx, v.Title, v.Composer)
		cancel()
		if err != nil {
			resp.Summary.ErrorRows++
			if len(resp.ErrorSamples) < maxErrorSamples {
				resp.ErrorSamples = append(resp.ErrorSamples, ErrorPreview{
					Row: n, Line: raw.Line, Values: v, Error: fmt.Sprintf(msgLookupErrFormat, err),
				})
			}
			continue
		}

		action := Resolve(v, match, env)
		switch action.Kind {
		case ActionCreate:
			resp.Summary.NewRows++
			if len(resp.NewRowSamples) < maxNewRowSamples {
				resp.NewRowSamples = append(resp.NewRowSamples, RowPreview{Row: n, Line: raw.Line, Values: v})
			}
		case ActionUpdate:
			resp.Summary.UpdateRows++
			if len(resp.UpdateDiffs) < maxUpdateDiffs {
				resp.UpdateDiffs = append(resp.UpdateDiffs, diffUpdate(n, raw.Line, match, action.Update))
			}
		}
	}

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

// diffUpdate compares the inventory fields an update would write.
func diffUpdate(row, line int, e *catalog.Entry, p catalog.Patch) UpdateDiff {
	current := map[string]string{
		"physicalCopiesCount": strconv.Itoa(e.PhysicalCopiesCount),
		"physicalLocation":    catalog.Deref(e.PhysicalLocation),
		"voicing":             catalog.Deref(e.Voicing),
	}
	incoming := map[string]string{
		"physicalCopiesCount": strconv.Itoa(p.PhysicalCopiesCount),
		"physicalLocation":    catalog.Deref(p.PhysicalLocation),
		"voicing":             current["voicing"],
	}
	if p.Voicing != nil {
		incoming["voicing"] = *p.Voicing
	}

	var changed []string
	for _, k := range []string{"physicalCopiesCount", "physicalLocation", "voicing"} {
		if current[k] != incoming[k] {
			changed = append(changed, k)
		}
	}

	return UpdateDiff{
		Row:      row,
		Line:     line,
		EntryID:  e.ID,
		Matched:  e.Title,
		Current:  current,
		Incoming: incoming,
		Changed:  changed,
	}
}

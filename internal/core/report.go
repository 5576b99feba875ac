package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// ErrReportFinalized is returned when an outcome is recorded after Finalize.
var ErrReportFinalized = errors.New("import report already finalized")

// Reporter accumulates row outcomes into an ImportReport. It only counts;
// the executor decides every outcome.
type Reporter struct {
	mu        sync.Mutex
	report    ImportReport
	finalized bool
	now       func() time.Time
}

// NewReporter starts a report for total data rows.
func NewReporter(total int) *Reporter {
	r := &Reporter{now: time.Now}
	r.report.Total = total
	r.report.StartedAt = r.now()
	return r
}

// Record appends one outcome and updates the counts.
func (r *Reporter) Record(o RowOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrReportFinalized
	}

	switch o.Status {
	case StatusCreated:
		r.report.Created++
		r.report.Success++
	case StatusUpdated:
		r.report.Updated++
		r.report.Success++
	case StatusError:
		r.report.Errors++
	default:
		return fmt.Errorf("unknown row status %q", o.Status)
	}
	r.report.Outcomes = append(r.report.Outcomes, o)
	return nil
}

// Snapshot returns the running counts as a progress value.
func (r *Reporter) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Progress{
		Phase:   PhaseProcessing,
		Row:     len(r.report.Outcomes),
		Total:   r.report.Total,
		Created: r.report.Created,
		Updated: r.report.Updated,
		Errors:  r.report.Errors,
	}
}

// Finalize closes the report and returns an independent copy of it.
// Calling Finalize again returns the same result.
func (r *Reporter) Finalize(cancelled bool) *ImportReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.finalized {
		r.finalized = true
		r.report.Cancelled = cancelled
		r.report.FinishedAt = r.now()
	}

	out := r.report
	out.Outcomes = append([]RowOutcome(nil), r.report.Outcomes...)
	return &out
}

// WriteCSV writes the outcome list as row,title,status,message so failed
// rows can be fixed and uploaded again.
func (r *ImportReport) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"row", "title", "status", "message"}); err != nil {
		return err
	}
	for _, o := range r.Outcomes {
		rec := []string{strconv.Itoa(o.Row), o.Title, string(o.Status), o.Message}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary is a one-line human description of the counts.
func (r *ImportReport) Summary() string {
	s := fmt.Sprintf("%d of %d rows imported (%d created, %d updated), %d errors",
		r.Success, r.Total, r.Created, r.Updated, r.Errors)
	if r.Cancelled {
		s += ", cancelled"
	}
	return s
}

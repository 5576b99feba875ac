package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/JonMunkholm/libinventory/internal/catalog"
)

// TemplateFileName is the download name of the import template.
const TemplateFileName = "library_import_template.csv"

var templateRows = [][]string{
	{"Title", "Composer", "Library Number", "Voicing", "Physical Copies"},
	{"Amazing Grace", "John Newton", "A-001", "SATB", "3"},
	{"Ave Maria", "Franz Schubert", "A-002", "SSA", "2"},
	{"Hallelujah Chorus", "George Frideric Handel", "H-001", "SATB", "5"},
}

var exportHeaders = []string{
	"Title",
	"Composer",
	"Arranger",
	"Voicing",
	"Hard Copies Count",
	"Library Location",
	"Condition Notes",
	"Last Inventory Date",
}

// TemplateCSV returns the import template with three sample rows.
func TemplateCSV() []byte {
	var buf bytes.Buffer
	_ = csv.NewWriter(&buf).WriteAll(templateRows)
	return buf.Bytes()
}

// ExportFileName is the download name for a library export made on day.
func ExportFileName(day time.Time) string {
	return fmt.Sprintf("music_library_%s.csv", day.Format(catalog.DateLayout))
}

// ExportLibrary writes every catalog entry with its physical inventory
// columns. The output can be fed back into an import.
func (s *Service) ExportLibrary(ctx context.Context, w io.Writer) (int, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("export library: %w", err)
	}

	n, err := WriteLibraryCSV(w, entries)
	if err != nil {
		return n, fmt.Errorf("export library: %w", err)
	}

	s.LogAudit(ctx, AuditLogParams{Action: ActionLibraryExport, Detail: fmt.Sprintf("%d entries", n)})
	return n, nil
}

// WriteLibraryCSV writes entries in export format and returns the count.
func WriteLibraryCSV(w io.Writer, entries []catalog.Entry) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeaders); err != nil {
		return 0, err
	}

	for _, e := range entries {
		date := ""
		if e.LastInventoryDate != nil {
			date = e.LastInventoryDate.Format(catalog.DateLayout)
		}
		rec := []string{
			e.Title,
			catalog.Deref(e.Composer),
			catalog.Deref(e.Arranger),
			catalog.Deref(e.Voicing),
			strconv.Itoa(e.PhysicalCopiesCount),
			catalog.Deref(e.PhysicalLocation),
			catalog.Deref(e.ConditionNotes),
			date,
		}
		if err := cw.Write(rec); err != nil {
			return 0, err
		}
	}

	cw.Flush()
	return len(entries), cw.Error()
}

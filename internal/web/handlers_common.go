// Package web provides HTTP handlers for the import wizard.
// This file contains shared helpers used across handlers.
package web

import (
	"encoding/csv"
	"io"
)

// writeCSV writes rows as CSV and flushes.
func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse turns an uploaded comma-separated file into a header list and one
// RawRow per data line.
//
// Blank lines before the header and after the last record are dropped.
// Blank or comma-only lines between records become rows with empty values,
// so they surface as row errors instead of vanishing from the report.
//
// The tokenizer is quote-aware, so a quoted field may contain commas or
// line breaks. Header and cell values are trimmed and stripped of double
// quotes. Rows shorter than the header are padded with empty strings and
// surplus trailing cells are dropped.
func Parse(data []byte) (*Table, error) {
	data = sanitizeUTF8(bytes.TrimPrefix(data, utf8BOM))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Err: ErrEmptyFile}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	table := &Table{}
	var pending []int // lines of blank records not yet known to be interior
	nextLine, consumed := 1, int64(0)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, &ParseError{Line: line, Err: err}
		}
		line, _ := r.FieldPos(0)

		// encoding/csv skips empty lines without reporting them.
		for l := nextLine; l < line; l++ {
			pending = append(pending, l)
		}
		offset := r.InputOffset()
		nextLine += bytes.Count(data[consumed:offset], []byte{'\n'})
		if nextLine <= line {
			nextLine = line + 1
		}
		consumed = offset

		if isEmptyRow(record) {
			pending = append(pending, line)
			continue
		}

		if table.Headers == nil {
			table.Headers = make([]string, len(record))
			for i, h := range record {
				table.Headers[i] = cleanCell(h)
			}
			pending = nil
			continue
		}

		for _, l := range pending {
			table.Rows = append(table.Rows, table.row(l, nil))
		}
		pending = nil
		table.Rows = append(table.Rows, table.row(line, record))
	}

	if table.Headers == nil {
		return nil, &ParseError{Err: ErrEmptyFile}
	}
	return table, nil
}

// row binds record to the headers. Missing cells are empty.
func (t *Table) row(line int, record []string) RawRow {
	values := make(map[string]string, len(t.Headers))
	for i, h := range t.Headers {
		v := ""
		if i < len(record) {
			v = cleanCell(record[i])
		}
		values[h] = v
	}
	return RawRow{Line: line, Values: values}
}

func cleanCell(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	return bytes.ToValidUTF8(data, []byte("\uFFFD"))
}

package core

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantHeaders []string
		wantRows    []map[string]string
		wantLines   []int
	}{
		{
			name:        "simple file",
			input:       "Title,Composer,Physical Copies\nAmazing Grace,John Newton,3\n",
			wantHeaders: []string{"Title", "Composer", "Physical Copies"},
			wantRows: []map[string]string{
				{"Title": "Amazing Grace", "Composer": "John Newton", "Physical Copies": "3"},
			},
			wantLines: []int{2},
		},
		{
			name:        "quoted field with embedded comma",
			input:       "Title,Composer\n\"Ave Maria, Op. 52\",Franz Schubert\n",
			wantHeaders: []string{"Title", "Composer"},
			wantRows: []map[string]string{
				{"Title": "Ave Maria, Op. 52", "Composer": "Franz Schubert"},
			},
			wantLines: []int{2},
		},
		{
			name:        "byte order mark and padded headers",
			input:       "\xEF\xBB\xBF Title , Composer \n Hallelujah Chorus , Handel \n",
			wantHeaders: []string{"Title", "Composer"},
			wantRows: []map[string]string{
				{"Title": "Hallelujah Chorus", "Composer": "Handel"},
			},
			wantLines: []int{2},
		},
		{
			name:        "interior blank lines are kept as empty rows",
			input:       "Title,Physical Copies\n\nAmazing Grace,3\n,\n\nAve Maria,2\n",
			wantHeaders: []string{"Title", "Physical Copies"},
			wantRows: []map[string]string{
				{"Title": "", "Physical Copies": ""},
				{"Title": "Amazing Grace", "Physical Copies": "3"},
				{"Title": "", "Physical Copies": ""},
				{"Title": "", "Physical Copies": ""},
				{"Title": "Ave Maria", "Physical Copies": "2"},
			},
			wantLines: []int{2, 3, 4, 5, 6},
		},
		{
			name:        "leading and trailing blank lines are dropped",
			input:       "\n  \nTitle,Physical Copies\nAmazing Grace,3\n\n,,\n   \n",
			wantHeaders: []string{"Title", "Physical Copies"},
			wantRows: []map[string]string{
				{"Title": "Amazing Grace", "Physical Copies": "3"},
			},
			wantLines: []int{4},
		},
		{
			name:        "quoted line break keeps later line numbers",
			input:       "Title,Composer\n\"Ave\nMaria\",Schubert\n\nHallelujah,Handel",
			wantHeaders: []string{"Title", "Composer"},
			wantRows: []map[string]string{
				{"Title": "Ave\nMaria", "Composer": "Schubert"},
				{"Title": "", "Composer": ""},
				{"Title": "Hallelujah", "Composer": "Handel"},
			},
			wantLines: []int{2, 4, 5},
		},
		{
			name:        "short rows are padded and long rows truncated",
			input:       "Title,Composer,Voicing\nAmazing Grace\nAve Maria,Schubert,SSA,extra\n",
			wantHeaders: []string{"Title", "Composer", "Voicing"},
			wantRows: []map[string]string{
				{"Title": "Amazing Grace", "Composer": "", "Voicing": ""},
				{"Title": "Ave Maria", "Composer": "Schubert", "Voicing": "SSA"},
			},
			wantLines: []int{2, 3},
		},
		{
			name:        "header only",
			input:       "Title,Composer\n",
			wantHeaders: []string{"Title", "Composer"},
		},
		{
			name:        "windows line endings",
			input:       "Title,Physical Copies\r\nAmazing Grace,3\r\n",
			wantHeaders: []string{"Title", "Physical Copies"},
			wantRows: []map[string]string{
				{"Title": "Amazing Grace", "Physical Copies": "3"},
			},
			wantLines: []int{2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Parse([]byte(tt.input))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			if len(table.Headers) != len(tt.wantHeaders) {
				t.Fatalf("headers = %q, want %q", table.Headers, tt.wantHeaders)
			}
			for i, h := range tt.wantHeaders {
				if table.Headers[i] != h {
					t.Errorf("header[%d] = %q, want %q", i, table.Headers[i], h)
				}
			}

			if len(table.Rows) != len(tt.wantRows) {
				t.Fatalf("got %d rows, want %d", len(table.Rows), len(tt.wantRows))
			}
			for i, want := range tt.wantRows {
				got := table.Rows[i]
				for k, v := range want {
					if got.Values[k] != v {
						t.Errorf("row %d %q = %q, want %q", i, k, got.Values[k], v)
					}
				}
				if got.Line != tt.wantLines[i] {
					t.Errorf("row %d line = %d, want %d", i, got.Line, tt.wantLines[i])
				}
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, input := range []string{"", "   \n\n", "\xEF\xBB\xBF"} {
		_, err := Parse([]byte(input))

		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q) error = %v, want *ParseError", input, err)
		}
		if !errors.Is(err, ErrEmptyFile) {
			t.Errorf("Parse(%q) error = %v, want ErrEmptyFile", input, err)
		}
		if !IsFatal(err) {
			t.Errorf("IsFatal(%v) = false", err)
		}
	}
}

func TestParse_InvalidUTF8(t *testing.T) {
	table, err := Parse([]byte("Title\nCaf\xe9 Song\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := table.Rows[0].Values["Title"]; got != "Caf\uFFFD Song" {
		t.Errorf("title = %q, want replacement character", got)
	}
}

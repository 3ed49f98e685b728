// Package csvrows turns uploaded spreadsheet exports into raw import rows.
//
// Files come from Excel and Google Sheets in whatever encoding the
// operator's machine uses. Decode handles:
//
//   - UTF-8 with or without BOM
//   - UTF-16 (LE or BE) with BOM, as written by "Unicode Text" exports
//   - Windows-1252 / Latin-1 when the bytes are not valid UTF-8
//   - comma, semicolon or tab delimiters, detected from the header line
//
// The first non-empty row is the header. Header cells are cleaned with
// core.CleanCell; data cells are passed through untouched because the
// validator cleans them itself. Blank rows are skipped.
//
// Rows are returned in file order without their line numbers. The pipeline
// numbers them from 1 by position, so row 3 is the third non-blank data row
// below the header, the same numbering a JSON batch gets.
package csvrows

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/roster/internal/core"
)

// MaxHeaderSearchRows is how many leading blank rows Decode skips while
// looking for the header.
const MaxHeaderSearchRows = 10

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode reads a whole CSV document from r and returns its non-blank data
// rows in order. It returns core.ErrNoRows when the document has a header
// but no data.
func Decode(r io.Reader) ([]core.RawRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, core.ErrNoRows
	}

	text, err := toUTF8(data)
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = detectDelimiter(text)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}

	start := -1
	for i := 0; i < len(records) && i < MaxHeaderSearchRows; i++ {
		if !isEmptyRow(records[i]) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, core.ErrNoRows
	}

	header, err := readHeader(records[start])
	if err != nil {
		return nil, err
	}

	rows := make([]core.RawRow, 0, len(records)-start-1)
	for _, rec := range records[start+1:] {
		if isEmptyRow(rec) {
			continue
		}
		row := make(core.RawRow, len(header))
		for i, name := range header {
			if name == "" || i >= len(rec) {
				continue
			}
			row[name] = rec[i]
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, core.ErrNoRows
	}
	return rows, nil
}

// readHeader cleans header cells. Blank headers are kept as "" so their
// column is ignored; repeated names are rejected because the validator
// matches columns case-insensitively.
func readHeader(cells []string) ([]string, error) {
	header := make([]string, len(cells))
	seen := make(map[string]bool, len(cells))
	for i, c := range cells {
		name := core.CleanCell(c)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("invalid csv: duplicate column %q", name)
		}
		seen[key] = true
		header[i] = name
	}
	return header, nil
}

// toUTF8 converts data to UTF-8. A BOM decides the encoding when present;
// otherwise bytes that are not valid UTF-8 are read as Windows-1252.
func toUTF8(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8),
		bytes.HasPrefix(data, bomUTF16LE),
		bytes.HasPrefix(data, bomUTF16BE):
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		return out, err
	case utf8.Valid(data):
		return data, nil
	default:
		out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(out) {
			return nil, errors.New("file is not valid text")
		}
		return out, nil
	}
}

// detectDelimiter picks the most frequent of comma, semicolon and tab on
// the first line. Quoted sections are not inspected.
func detectDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}

	best, bestCount := ',', 0
	inQuotes := false
	counts := map[rune]int{}
	for _, b := range line {
		switch b {
		case '"':
			inQuotes = !inQuotes
		case ',', ';', '\t':
			if !inQuotes {
				counts[rune(b)]++
			}
		}
	}
	for _, d := range []rune{',', ';', '\t'} {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

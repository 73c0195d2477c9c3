// Package tabular reads and writes ordered, named-column sheets.
package tabular

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FilledSuffix is appended to the base name of a resolved workbook.
const FilledSuffix = "_filled"

type Workbook struct {
	Sheets []*Sheet
}

// Sheet is one named table. Row cells line up with Columns.
type Sheet struct {
	Name    string
	Columns []string
	Rows    []Row

	index   map[string]int
	indexed int // len(Columns) when index was built
}

type Row []string

func NewSheet(name string, columns []string) *Sheet {
	s := &Sheet{Name: name, Columns: append([]string(nil), columns...)}
	s.reindex()
	return s
}

// sheetFromRecords builds a sheet whose first record is the header. The
// header is widened to the widest row and blank or missing names become
// "Unnamed: N", so no populated cell is left without a column.
func sheetFromRecords(name string, records [][]string) *Sheet {
	var header []string
	if len(records) > 0 {
		header = records[0]
	}
	width := len(header)
	for _, r := range records {
		width = max(width, len(r))
	}

	cols := make([]string, width)
	copy(cols, header)
	for i, c := range cols {
		if strings.TrimSpace(c) == "" {
			cols[i] = fmt.Sprintf("Unnamed: %d", i)
		}
	}

	s := NewSheet(name, cols)
	for _, r := range records[min(1, len(records)):] {
		row := make(Row, width)
		copy(row, r)
		s.Rows = append(s.Rows, row)
	}
	return s
}

func (s *Sheet) reindex() {
	s.index = make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		if _, dup := s.index[c]; !dup {
			s.index[c] = i
		}
	}
	s.indexed = len(s.Columns)
}

func (s *Sheet) col(name string) (int, bool) {
	if s.index == nil || s.indexed != len(s.Columns) {
		s.reindex()
	}
	i, ok := s.index[name]
	return i, ok
}

// HasColumn reports whether the header contains name.
func (s *Sheet) HasColumn(name string) bool {
	_, ok := s.col(name)
	return ok
}

// EnsureColumn appends name to the header if it is missing and returns its
// position.
func (s *Sheet) EnsureColumn(name string) int {
	if i, ok := s.col(name); ok {
		return i
	}
	s.Columns = append(s.Columns, name)
	s.reindex()
	return len(s.Columns) - 1
}

// Get returns the cell of row i in column name, or "".
func (s *Sheet) Get(i int, name string) string {
	c, ok := s.col(name)
	if !ok || i < 0 || i >= len(s.Rows) || c >= len(s.Rows[i]) {
		return ""
	}
	return s.Rows[i][c]
}

// Set writes the cell of row i in column name, creating the column if
// needed.
func (s *Sheet) Set(i int, name, value string) {
	c := s.EnsureColumn(name)
	row := s.Rows[i]
	for len(row) <= c {
		row = append(row, "")
	}
	row[c] = value
	s.Rows[i] = row
}

// FilledPath derives the output location: report.xlsx -> report_filled.xlsx.
func FilledPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + FilledSuffix + ext
}

// Open reads a workbook, choosing the format from the extension.
func Open(path string) (*Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(path)
	case ".csv":
		return readCSV(path)
	default:
		return nil, fmt.Errorf("unsupported table format %q", filepath.Ext(path))
	}
}

// Save writes every sheet of wb to path.
func Save(path string, wb *Workbook) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return writeXLSX(path, wb)
	case ".csv":
		return writeCSV(path, wb)
	default:
		return fmt.Errorf("unsupported table format %q", filepath.Ext(path))
	}
}

// Store is the read/write capability the resolution job depends on.
type Store interface {
	Open(path string) (*Workbook, error)
	Save(path string, wb *Workbook) error
}

// Files is the default Store backed by the local filesystem.
type Files struct{}

func (Files) Open(path string) (*Workbook, error)  { return Open(path) }
func (Files) Save(path string, wb *Workbook) error { return Save(path, wb) }

package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// readCSV loads a single sheet named after the file.
func readCSV(path string) (*Workbook, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Workbook{Sheets: []*Sheet{sheetFromRecords(name, records)}}, nil
}

func writeCSV(path string, wb *Workbook) error {
	if len(wb.Sheets) != 1 {
		return fmt.Errorf("csv holds exactly one sheet, workbook has %d", len(wb.Sheets))
	}
	s := wb.Sheets[0]

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV: %w", err)
	}
	w := csv.NewWriter(file)
	_ = w.Write(s.Columns)
	for _, r := range s.Rows {
		row := make([]string, len(s.Columns))
		copy(row, r)
		_ = w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return file.Close()
}

package tabular

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// readXLSX loads every sheet in workbook order. The first row is the header.
func readXLSX(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		// excelize trims trailing empty cells; rows are padded to the header
		wb.Sheets = append(wb.Sheets, sheetFromRecords(name, rows))
	}
	return wb, nil
}

func writeXLSX(path string, wb *Workbook) error {
	if len(wb.Sheets) == 0 {
		return fmt.Errorf("workbook has no sheets")
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range wb.Sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.Name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return fmt.Errorf("add sheet %q: %w", s.Name, err)
		}
		if err := writeRow(f, s.Name, 1, s.Columns); err != nil {
			return err
		}
		for j, r := range s.Rows {
			if err := writeRow(f, s.Name, j+2, r); err != nil {
				return err
			}
		}
	}
	f.SetActiveSheet(0)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, n int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(cells))
	for i, c := range cells {
		vals[i] = cellValue(c)
	}
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	return nil
}

// Excel keeps 15 significant digits; longer digit strings stay text.
const maxNumericDigits = 15

// cellValue turns canonical numbers back into numeric cells. Anything whose
// text would change on the way through ("007", "1e5", long ids) is kept as
// a string.
func cellValue(c string) interface{} {
	if c == "" || len(c) > maxNumericDigits+2 {
		return c
	}
	if n, err := strconv.ParseInt(c, 10, 64); err == nil {
		if strconv.FormatInt(n, 10) == c && len(strings.TrimPrefix(c, "-")) <= maxNumericDigits {
			return n
		}
		return c
	}
	if f, err := strconv.ParseFloat(c, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		if strconv.FormatFloat(f, 'f', -1, 64) == c {
			return f
		}
	}
	return c
}

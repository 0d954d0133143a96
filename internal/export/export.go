// Package export writes dense year tables as downloadable CSV and XLSX files.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	xlsx "github.com/360EntSecGroup-Skylar/excelize/v2"

	"github.com/tomoya0318/PrefTrend/internal/domain"
)

const (
	yearHeader = "年"
	sheetName  = "人口推移"
	utf8BOM    = "\ufeff"
)

// Format selects the download encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for unknown format names.
var ErrUnsupportedFormat = errors.New("export: unsupported format")

// ParseFormat resolves a format name.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatCSV, FormatXLSX:
		return Format(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns the attachment filename for a download of label.
func (f Format) Filename(label string) string {
	return "population-" + sanitizeFilename(label) + "." + string(f)
}

// Write encodes table in the requested format.
func Write(w io.Writer, table domain.YearTable, f Format) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, table)
	case FormatXLSX:
		return WriteXLSX(w, table)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// Records flattens table into a header row followed by one row per year.
// Cells for series without an observation that year are left blank.
func Records(table domain.YearTable) [][]string {
	names := table.Series()
	records := make([][]string, 0, len(table)+1)
	header := append([]string{yearHeader}, names...)
	records = append(records, header)
	for _, row := range table {
		record := make([]string, 0, len(names)+1)
		record = append(record, strconv.Itoa(row.Year))
		for _, name := range names {
			if v, ok := row.Value(name); ok {
				record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				record = append(record, "")
			}
		}
		records = append(records, record)
	}
	return records
}

// WriteCSV writes a UTF-8 CSV with a byte order mark so spreadsheet tools detect the encoding.
func WriteCSV(w io.Writer, table domain.YearTable) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Records(table)); err != nil {
		return fmt.Errorf("export: write csv: %w", err)
	}
	return nil
}

// WriteXLSX writes a single-sheet workbook. Year and population cells are numeric.
func WriteXLSX(w io.Writer, table domain.YearTable) error {
	f := xlsx.NewFile()
	if def := f.GetSheetName(0); def != sheetName {
		f.SetSheetName(def, sheetName)
	}

	names := table.Series()
	if err := setCell(f, 1, 1, yearHeader); err != nil {
		return err
	}
	for i, name := range names {
		if err := setCell(f, i+2, 1, name); err != nil {
			return err
		}
	}
	for r, row := range table {
		line := r + 2
		if err := setCell(f, 1, line, row.Year); err != nil {
			return err
		}
		for i, name := range names {
			v, ok := row.Value(name)
			if !ok {
				continue
			}
			if err := setCell(f, i+2, line, v); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: write xlsx: %w", err)
	}
	return nil
}

func setCell(f *xlsx.File, col, row int, value any) error {
	cell, err := xlsx.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("export: cell name: %w", err)
	}
	if err := f.SetCellValue(sheetName, cell, value); err != nil {
		return fmt.Errorf("export: set %s: %w", cell, err)
	}
	return nil
}

func sanitizeFilename(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r < 0x20, r == '/', r == '\\', r == '"', r == ':', r == '*', r == '?', r == '<', r == '>', r == '|':
			continue
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "table"
	}
	return string(out)
}

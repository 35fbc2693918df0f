package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"techclinic/internal/repair"
)

// Formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ParseFormat normalizes a format name. Empty means CSV.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Filename returns base with the format's extension.
func Filename(base, format string) string {
	return base + "." + format
}

// JobHeaders are the columns of a repair job export.
var JobHeaders = []string{"ID", "Customer", "Status", "Notes", "Created At"}

// JobRows flattens jobs into export rows.
func JobRows(jobs []repair.JobView) [][]string {
	rows := make([][]string, len(jobs))
	for i, j := range jobs {
		rows[i] = []string{j.ID, j.CustomerLabel, j.Status, j.Notes, j.CreatedAt}
	}
	return rows
}

// Write renders headers and rows to w in format.
func Write(w io.Writer, format, sheet string, headers []string, rows [][]string) error {
	if format == FormatXLSX {
		return WriteExcel(w, sheet, headers, rows)
	}
	return WriteCSV(w, headers, rows)
}

// WriteCSV writes a header line and the rows.
func WriteCSV(w io.Writer, headers []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("write CSV headers: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write CSV rows: %w", err)
	}
	return nil
}

// WriteExcel writes a single-sheet workbook with a bold header row.
func WriteExcel(w io.Writer, sheet string, headers []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}
	for r, row := range rows {
		for c, value := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(sheet, cell, value)
		}
	}
	for i := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, 18)
	}

	if sheet != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Package export writes solved worksheets as JSON or XLSX.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/abhisek/sheetsolver/internal/worksheet"
)

const sheetName = "Results"

var headers = []string{
	"Page",
	"Index",
	"Instruction",
	"Problem",
	"LaTeX",
	"Options",
	"Visual Context",
	"Answer",
	"Explanation",
	"Topic",
	"Difficulty",
	"Raw Answer",
	"Error",
}

// WriteJSON writes results as an indented JSON array. An empty worksheet is
// written as [] rather than null.
func WriteJSON(w io.Writer, results []worksheet.ResultRecord) error {
	if results == nil {
		results = []worksheet.ResultRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}

// XLSX renders results as a workbook with one row per problem.
func XLSX(results []worksheet.ResultRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for i, r := range results {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		write(1, r.Page)
		write(2, r.Index)
		write(3, deref(r.Instruction))
		write(4, r.Text)
		write(5, deref(r.LaTeX))
		write(6, strings.Join(r.Options, "; "))
		write(7, deref(r.VisualContext))
		write(8, deref(r.Answer))
		write(9, deref(r.Explanation))
		write(10, deref(r.Topic))
		write(11, deref(r.Difficulty))
		write(12, r.RawAnswer)
		write(13, deref(r.Error))
	}

	_ = f.SetColWidth(sheetName, "A", "B", 8)
	_ = f.SetColWidth(sheetName, "C", "D", 48)
	_ = f.SetColWidth(sheetName, "E", "G", 32)
	_ = f.SetColWidth(sheetName, "H", "H", 24)
	_ = f.SetColWidth(sheetName, "I", "I", 60)
	_ = f.SetColWidth(sheetName, "J", "L", 14)
	_ = f.SetColWidth(sheetName, "M", "M", 40)
	_ = f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes results to path, as XLSX when the extension is .xlsx and
// as JSON otherwise.
func WriteFile(path string, results []worksheet.ResultRecord) error {
	if strings.EqualFold(extension(path), ".xlsx") {
		b, err := XLSX(results)
		if err != nil {
			return err
		}
		return os.WriteFile(path, b, 0o644)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteJSON(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func extension(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsAny(path[i:], `/\`) {
		return path[i:]
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Package matrix renders clause matches into compliance matrix
// workbooks.
package matrix

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/redlinehq/redline/internal/matcher"
	"github.com/redlinehq/redline/internal/ruledb"
)

// SheetName is the worksheet every matrix is written to.
const SheetName = "Compliance Matrix"

const (
	classificationColumn = 4
	confidenceColumn     = 6
	headerFill           = "D9D9D9"
)

var headers = []string{"Document", "Code", "Description", "Classification", "Location", "Confidence"}

var columnWidths = []float64{24, 16, 48, 16, 10, 12}

// Row is one line of a compliance matrix.
type Row struct {
	Document       string
	Code           string
	Description    string
	Classification ruledb.Classification
	Location       string // "p<page>"
	Confidence     float64
}

// Rows converts a document's matches to matrix rows, keeping the
// matcher's reading order.
func Rows(docName string, matches []matcher.Match) []Row {
	rows := make([]Row, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, Row{
			Document:       docName,
			Code:           m.Raw,
			Description:    m.Title,
			Classification: m.Classification,
			Location:       fmt.Sprintf("p%d", m.Page),
			Confidence:     m.Confidence,
		})
	}
	return rows
}

// DocMatches pairs a document name with its ordered matches.
type DocMatches struct {
	Name    string
	Matches []matcher.Match
}

// Writer renders compliance matrix workbooks.
type Writer struct {
	// Colors maps classifications to RGB hex cell fills. Missing
	// entries leave the classification cell unfilled.
	Colors map[ruledb.Classification]string
}

// WriteDocument writes one document's matrix workbook.
func (w *Writer) WriteDocument(path, docName string, matches []matcher.Match) error {
	return w.write(path, Rows(docName, matches))
}

// WriteCombined writes a single workbook covering every document in
// the run. Documents are ordered by name so repeated runs produce the
// same sheet.
func (w *Writer) WriteCombined(path string, docs []DocMatches) error {
	ordered := make([]DocMatches, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Name < ordered[j].Name
	})

	var rows []Row
	for _, d := range ordered {
		rows = append(rows, Rows(d.Name, d.Matches)...)
	}
	return w.write(path, rows)
}

func (w *Writer) write(path string, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := w.writeHeader(f); err != nil {
		return err
	}

	confStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("failed to build confidence style: %w", err)
	}

	fills := make(map[string]int)
	for i, r := range rows {
		rowNum := i + 2
		start, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		values := []interface{}{
			r.Document, r.Code, r.Description,
			r.Classification.Label(), r.Location, r.Confidence,
		}
		if err := f.SetSheetRow(SheetName, start, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", rowNum, err)
		}

		if color := w.Colors[r.Classification]; color != "" {
			styleID, ok := fills[color]
			if !ok {
				styleID, err = f.NewStyle(&excelize.Style{
					Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
				})
				if err != nil {
					return fmt.Errorf("failed to build fill style: %w", err)
				}
				fills[color] = styleID
			}
			cell, err := excelize.CoordinatesToCellName(classificationColumn, rowNum)
			if err != nil {
				return err
			}
			if err := f.SetCellStyle(SheetName, cell, cell, styleID); err != nil {
				return fmt.Errorf("failed to fill classification cell: %w", err)
			}
		}

		cell, err := excelize.CoordinatesToCellName(confidenceColumn, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(SheetName, cell, cell, confStyle); err != nil {
			return fmt.Errorf("failed to style confidence cell: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func (w *Writer) writeHeader(f *excelize.File) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to build header style: %w", err)
	}

	row := make([]interface{}, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &row); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, width := range columnWidths {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, name, name, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return nil
}

// Package report renders journal outcomes into an XLSX workbook for the
// office's daily processing review.
package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

const sheet = "Processed Documents"

var headers = []string{
	"Finished At",
	"Result",
	"Document Type",
	"Original File",
	"Renamed To",
	"Duration (s)",
	"Error",
}

// BuildWorkbook returns XLSX bytes listing the outcomes in order, with a
// summary row at the bottom.
func BuildWorkbook(outcomes []domain.ProcessingOutcome) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	succeeded := 0
	row := 2
	for _, o := range outcomes {
		result := "failed"
		if o.Success {
			result = "processed"
			succeeded++
		}

		write(1, row, o.FinishedAt.Format(time.RFC3339))
		write(2, row, result)
		write(3, row, o.DocumentType)
		write(4, row, baseName(o.SourcePath))
		write(5, row, baseName(o.NewPath))
		write(6, row, o.Duration.Seconds())
		write(7, row, o.Error)
		row++
	}

	row++
	write(1, row, "Total")
	write(2, row, fmt.Sprintf("%d processed, %d failed", succeeded, len(outcomes)-succeeded))

	_ = f.SetColWidth(sheet, "A", "A", 22)
	_ = f.SetColWidth(sheet, "C", "C", 28)
	_ = f.SetColWidth(sheet, "D", "E", 40)
	_ = f.SetColWidth(sheet, "G", "G", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

// Package export renders dropped actions as spreadsheets.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"fieldsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const deadLetterSheet = "Dead letters"

var deadLetterHeaders = []string{
	"Action ID", "Kind", "Reason", "Retry count", "Enqueued at", "Dropped at", "Last error", "Payload",
}

// newDeadLetterFile builds a workbook with one row per entry.
func newDeadLetterFile(entries []models.DeadLetter) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(deadLetterSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range deadLetterHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(deadLetterSheet, cell, h)
		_ = f.SetCellStyle(deadLetterSheet, cell, cell, headerStyle)
	}

	for i, e := range entries {
		row := i + 2
		values := []interface{}{
			e.Action.ID,
			e.Action.Kind.String(),
			e.Reason,
			e.Action.RetryCount,
			e.Action.EnqueuedAt.UTC().Format(time.RFC3339),
			e.DroppedAt.UTC().Format(time.RFC3339),
			e.LastError,
			string(e.Action.Payload),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(deadLetterSheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
	}

	_ = f.SetColWidth(deadLetterSheet, "A", "A", 38)
	_ = f.SetColWidth(deadLetterSheet, "B", "F", 20)
	_ = f.SetColWidth(deadLetterSheet, "G", "H", 50)
	_ = f.SetPanes(deadLetterSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	return f, nil
}

// WriteDeadLetters streams an XLSX workbook of entries to w.
func WriteDeadLetters(w io.Writer, entries []models.DeadLetter) error {
	f, err := newDeadLetterFile(entries)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveDeadLetters writes entries to a timestamped file under dir and returns its path.
func SaveDeadLetters(dir string, entries []models.DeadLetter, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := newDeadLetterFile(entries)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(dir, fmt.Sprintf("deadletters_%s.xlsx", now.Format("2006-01-02_150405")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}

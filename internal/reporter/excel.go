package reporter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reconciler"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

const (
	// ClaimsSheet holds the tagged claim rows
	ClaimsSheet = "Claims"
	// SummarySheet holds the run statistics
	SummarySheet = "Summary"

	highlightColor = "FFFF00"
	dateNumFmt     = "mm/dd/yyyy"
)

type workbookStyles struct {
	header    int
	highlight int
	date      int
}

func newWorkbookStyles(f *excelize.File) (*workbookStyles, error) {
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	highlight, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{highlightColor}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	numFmt := dateNumFmt
	date, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return nil, err
	}
	return &workbookStyles{header: header, highlight: highlight, date: date}, nil
}

// generateExcelReport writes the claims and summary sheets
func (rg *ReportGenerator) generateExcelReport(result *reconciler.Result, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ClaimsSheet); err != nil {
		return fmt.Errorf("failed to name claims sheet: %w", err)
	}

	styles, err := newWorkbookStyles(f)
	if err != nil {
		return fmt.Errorf("failed to create workbook styles: %w", err)
	}

	highlighted, err := rg.writeClaimsSheet(f, result.Records, styles)
	if err != nil {
		return err
	}

	if err := rg.writeSummarySheet(f, result, styles); err != nil {
		return err
	}

	rg.logger.WithFields(logger.Fields{
		"rows":        result.Records.Len(),
		"highlighted": highlighted,
	}).Debug("Workbook assembled")

	return f.Write(writer)
}

func (rg *ReportGenerator) writeClaimsSheet(f *excelize.File, rs *models.RecordSet, styles *workbookStyles) (int, error) {
	sw, err := f.NewStreamWriter(ClaimsSheet)
	if err != nil {
		return 0, fmt.Errorf("failed to open claims sheet: %w", err)
	}

	positions, headers := ExportColumns(rs.Columns)

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = excelize.Cell{StyleID: styles.header, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return 0, fmt.Errorf("failed to write claims header: %w", err)
	}

	highlighted := 0
	for n, rec := range ExportOrder(rs) {
		style := 0
		if rg.config.HighlightUnmatched && rec.IsUnmatchedReversal() {
			style = styles.highlight
			highlighted++
		}

		row := make([]interface{}, len(positions))
		for k, i := range positions {
			row[k] = excelize.Cell{StyleID: style, Value: rs.Cell(rec, i)}
		}

		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return 0, err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return 0, fmt.Errorf("failed to write row %d: %w", rec.RowID, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush claims sheet: %w", err)
	}
	return highlighted, nil
}

func (rg *ReportGenerator) writeSummarySheet(f *excelize.File, result *reconciler.Result, styles *workbookStyles) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	s := result.Summary
	rows := [][]interface{}{
		{"Run ID", result.RunID},
		{"Started", result.StartedAt.Format(time.RFC3339)},
		{"Duration (ms)", result.Duration.Milliseconds()},
		{"Rows", s.TotalRows},
		{"Reversals", s.Reversals},
		{"Matched reversals", s.MatchedReversals},
		{"Unmatched reversals", s.UnmatchedReversals},
		{"Claims", s.Claims},
		{"Tagged claims", s.TaggedClaims},
		{"Reused claims", s.ReusedClaims},
		{"Invalid quantities", s.InvalidQuantities},
		{"Null fill dates", s.NullDates},
		{"Partial", result.Partial()},
	}
	if result.Coordinator != nil {
		rows = append(rows,
			[]interface{}{"Workers", result.Coordinator.Workers},
			[]interface{}{"Blocks", result.Coordinator.Blocks},
			[]interface{}{"Failed blocks", fmt.Sprint(result.Coordinator.FailedBlocks)},
		)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(rows)), styles.header); err != nil {
		return err
	}
	return f.SetColWidth(SummarySheet, "A", "A", 22)
}

// WriteTableWorkbook writes a merged extract to an xlsx file. Valid
// DATEFILLED cells are stored as dates formatted mm/dd/yyyy.
func WriteTableWorkbook(path string, columns []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	styles, err := newWorkbookStyles(f)
	if err != nil {
		return errors.InternalError(errors.CodeWriteFailed, "create workbook styles", err)
	}

	sw, err := f.NewStreamWriter("Sheet1")
	if err != nil {
		return errors.InternalError(errors.CodeWriteFailed, "open merged sheet", err)
	}

	header := make([]interface{}, len(columns))
	dateCol := -1
	for i, col := range columns {
		header[i] = excelize.Cell{StyleID: styles.header, Value: col}
		if col == models.ColumnDateFilled {
			dateCol = i
		}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return errors.InternalError(errors.CodeWriteFailed, "write merged header", err)
	}

	for n, raw := range rows {
		row := make([]interface{}, len(columns))
		for i := range columns {
			value := ""
			if i < len(raw) {
				value = raw[i]
			}
			row[i] = value
			if i == dateCol {
				if d := models.ParseDate(value); d.Valid {
					row[i] = excelize.Cell{StyleID: styles.date, Value: d.Time}
				}
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return errors.InternalError(errors.CodeWriteFailed, "address merged row", err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return errors.InternalError(errors.CodeWriteFailed, "write merged row", err)
		}
	}

	if err := sw.Flush(); err != nil {
		return errors.InternalError(errors.CodeWriteFailed, "flush merged sheet", err)
	}
	if err := f.SaveAs(path); err != nil {
		return errors.FileError(errors.CodeWriteFailed, path, err)
	}
	return nil
}

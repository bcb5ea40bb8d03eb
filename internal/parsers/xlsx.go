package parsers

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// ReadXLSX reads one worksheet into a Table. A blank sheet name selects the
// first worksheet in the workbook.
func (bp *BaseParser) ReadXLSX(ctx context.Context, filePath, sheet string) (*Table, *ParseStats, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, nil, classifyOpenError(filePath, err)
	}

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	// Raw values: display formats such as #,##0 or d-mmm-yy would hide the
	// quantity and date behind text the claim parsers do not accept.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, errors.ParseError(errors.CodeInvalidFormat, filePath, 0, sheet, "", err).
			WithSuggestion("check the worksheet name; available sheets: " + strings.Join(f.GetSheetList(), ", "))
	}
	if len(rows) == 0 {
		return nil, nil, errors.ValidationError(errors.CodeEmptyInput, filePath, nil, nil)
	}

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats()
	table := &Table{Source: filePath, Columns: CleanHeaders(rows[0])}

	for _, row := range rows[1:] {
		parseCtx.LineNumber++
		if parseCtx.IsCancelled() {
			return nil, nil, errors.InternalError(errors.CodeUnexpectedError, "xlsx parsing", ctx.Err())
		}
		if bp.config.SkipEmptyRows && isEmptyRecord(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	normalizeSerialDates(table, models.ColumnDateFilled)

	stats.TotalLines = len(rows)
	stats.RecordsParsed = len(table.Rows)

	bp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"sheet":     sheet,
		"columns":   len(table.Columns),
		"rows":      len(table.Rows),
	}).Debug("Read XLSX extract")

	return table, stats, nil
}

// normalizeSerialDates rewrites Excel serial day numbers in column as ISO dates.
// Text cells such as "01/05/2024" are left for models.ParseDate.
func normalizeSerialDates(table *Table, column string) {
	idx := table.ColumnIndex(column)
	if idx < 0 {
		return
	}

	for _, row := range table.Rows {
		raw := strings.TrimSpace(Cell(row, idx))
		serial, err := strconv.ParseFloat(raw, 64)
		if err != nil || serial < 1 || serial > 2958465 {
			continue
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			continue
		}
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			row[idx] = t.Format("2006-01-02")
			continue
		}
		row[idx] = t.Format("2006-01-02 15:04:05")
	}
}

func isWorkbook(filePath string) bool {
	lower := strings.ToLower(filePath)
	return strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xlsm")
}

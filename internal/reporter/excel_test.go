package reporter

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

func render(t *testing.T, format OutputFormat, modify func(*ReportConfig)) []byte {
	t.Helper()
	config := DefaultReportConfig()
	config.Format = format
	if modify != nil {
		modify(config)
	}
	generator, err := NewReportGenerator(config, logger.NewDiscardLogger())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, generator.GenerateReport(createTestResult(), &buf))
	return buf.Bytes()
}

func TestExcelReport_ClaimsSheet(t *testing.T) {
	f, err := excelize.OpenReader(bytes.NewReader(render(t, FormatXLSX, nil)))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{ClaimsSheet, SummarySheet}, f.GetSheetList())

	rows, err := f.GetRows(ClaimsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"SOURCERECORDID", "NDC", "MemberID", "QUANTITY", "DATEFILLED", "O's & R's Check"}, rows[0])

	var order []string
	for _, row := range rows[1:] {
		order = append(order, row[0])
	}
	assert.Equal(t, []string{"C2", "C3", "C1", "R1", "R2"}, order)

	// R2 is the only unmatched reversal and sits on row 6.
	unmatched, err := f.GetCellStyle(ClaimsSheet, "A6")
	require.NoError(t, err)
	matched, err := f.GetCellStyle(ClaimsSheet, "A5")
	require.NoError(t, err)
	assert.NotZero(t, unmatched)
	assert.NotEqual(t, unmatched, matched)

	style, err := f.GetStyle(unmatched)
	require.NoError(t, err)
	require.NotEmpty(t, style.Fill.Color)
	assert.Contains(t, style.Fill.Color[0], highlightColor)
}

func TestExcelReport_NoHighlight(t *testing.T) {
	f, err := excelize.OpenReader(bytes.NewReader(render(t, FormatXLSX, func(c *ReportConfig) {
		c.HighlightUnmatched = false
	})))
	require.NoError(t, err)
	defer f.Close()

	unmatched, err := f.GetCellStyle(ClaimsSheet, "A6")
	require.NoError(t, err)
	matched, err := f.GetCellStyle(ClaimsSheet, "A5")
	require.NoError(t, err)
	assert.Equal(t, matched, unmatched)
}

func TestExcelReport_SummarySheet(t *testing.T) {
	f, err := excelize.OpenReader(bytes.NewReader(render(t, FormatXLSX, nil)))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SummarySheet)
	require.NoError(t, err)

	values := make(map[string]string)
	for _, row := range rows {
		if len(row) == 2 {
			values[row[0]] = row[1]
		}
	}
	assert.Equal(t, "run-1", values["Run ID"])
	assert.Equal(t, "5", values["Rows"])
	assert.Equal(t, "1", values["Matched reversals"])
	assert.Equal(t, "1", values["Unmatched reversals"])
	assert.Equal(t, "FALSE", values["Partial"])
}

func TestWriteTableWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged_file.xlsx")
	columns := []string{"SOURCERECORDID", "DATEFILLED", "QUANTITY"}
	rows := [][]string{
		{"S1", "2024-01-05", "5"},
		{"S2", "", "-5"},
		{"S3"},
	}

	require.NoError(t, WriteTableWorkbook(path, columns, rows))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	date, err := f.GetCellValue("Sheet1", "B2")
	require.NoError(t, err)
	assert.Equal(t, "01/05/2024", date)

	got, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Equal(t, columns, got[0])
	assert.Equal(t, "S2", got[2][0])
	assert.Equal(t, "-5", got[2][2])
	require.Len(t, got, 4)
	assert.Equal(t, "S3", got[3][0])
}

func TestParquetReport(t *testing.T) {
	data := render(t, FormatParquet, nil)

	rows, err := parquet.Read[ClaimParquet](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, ClaimParquet{
		RowID:          2,
		SourceRecordID: "C2",
		NDC:            "456",
		MemberID:       "B",
		Quantity:       "3",
		DateFilled:     "2024-01-11",
		Logic:          "",
	}, rows[0])

	last := rows[4]
	assert.Equal(t, "R2", last.SourceRecordID)
	assert.Equal(t, "-2", last.Quantity)
	assert.Equal(t, "OR", last.Logic)
	assert.False(t, last.Matched)
	assert.True(t, rows[3].Matched, "R1 found its claim")
}

func TestWriteParquetRows_FlushesByRowsWritten(t *testing.T) {
	rows := make([]ClaimParquet, 10)
	for i := range rows {
		rows[i] = ClaimParquet{RowID: int64(i), SourceRecordID: "S", Logic: "OR"}
	}

	var buf bytes.Buffer
	pw := parquet.NewGenericWriter[ClaimParquet](&buf)

	// Batches of 3 never land on a multiple of 4; flushes follow rows 6 and 10
	written, flushes, err := writeParquetRows(pw, rows, 3, 4)
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	assert.Equal(t, 10, written)
	assert.Equal(t, 2, flushes)

	data := buf.Bytes()
	got, err := parquet.Read[ClaimParquet](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, got, 10)
	for i, row := range got {
		assert.Equal(t, int64(i), row.RowID)
	}
}

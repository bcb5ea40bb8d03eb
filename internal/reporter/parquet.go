package reporter

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reconciler"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// ClaimParquet is the Parquet row written for each claim record.
// Quantity and fill date keep their extract text so invalid cells survive.
type ClaimParquet struct {
	RowID          int64  `parquet:"row_id"`
	SourceRecordID string `parquet:"source_record_id"`
	NDC            string `parquet:"ndc"`
	MemberID       string `parquet:"member_id"`
	Quantity       string `parquet:"quantity"`
	DateFilled     string `parquet:"date_filled"`
	Logic          string `parquet:"logic"`
	Matched        bool   `parquet:"matched"`
}

const (
	parquetBatchSize     = 1024
	parquetFlushInterval = 100_000
)

func newClaimParquet(rs *models.RecordSet, rec *models.ClaimRecord, qtyCol, dateCol int) ClaimParquet {
	row := ClaimParquet{
		RowID:          int64(rec.RowID),
		SourceRecordID: rec.SourceRecordID,
		NDC:            rec.NDC,
		MemberID:       rec.MemberID,
		Logic:          rec.Logic,
		Matched:        rec.Matched,
	}
	if qtyCol >= 0 {
		row.Quantity = rs.Cell(rec, qtyCol)
	}
	if dateCol >= 0 {
		row.DateFilled = rs.Cell(rec, dateCol)
	}
	return row
}

// generateParquetReport writes one row per record in export order
func (rg *ReportGenerator) generateParquetReport(result *reconciler.Result, writer io.Writer) error {
	rs := result.Records
	qtyCol := rs.Columns.Index(models.ColumnQuantity)
	dateCol := rs.Columns.Index(models.ColumnDateFilled)

	ordered := ExportOrder(rs)
	rows := make([]ClaimParquet, 0, len(ordered))
	for _, rec := range ordered {
		rows = append(rows, newClaimParquet(rs, rec, qtyCol, dateCol))
	}

	pw := parquet.NewGenericWriter[ClaimParquet](writer,
		parquet.Compression(&parquet.Snappy),
		parquet.CreatedBy("repricer", "1.0", ""),
	)

	count, flushes, err := writeParquetRows(pw, rows, parquetBatchSize, parquetFlushInterval)
	if err != nil {
		return err
	}

	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}

	rg.logger.WithFields(logger.Fields{
		"rows":    count,
		"flushes": flushes,
	}).Debug("Parquet export written")
	return nil
}

// writeParquetRows writes rows in batches and flushes a row group once
// flushEvery rows have been written since the previous flush. The caller
// closes pw, which flushes the remainder.
func writeParquetRows(pw *parquet.GenericWriter[ClaimParquet], rows []ClaimParquet, batchSize, flushEvery int) (written, flushes int, err error) {
	pending := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		n, err := pw.Write(rows[start:end])
		written += n
		if err != nil {
			return written, flushes, fmt.Errorf("failed to write parquet rows: %w", err)
		}

		pending += n
		if pending >= flushEvery {
			if err := pw.Flush(); err != nil {
				return written, flushes, fmt.Errorf("failed to flush parquet rows: %w", err)
			}
			flushes++
			pending = 0
		}
	}
	return written, flushes, nil
}

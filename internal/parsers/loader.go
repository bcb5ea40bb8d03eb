package parsers

import (
	"context"
	"strings"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// ClaimsLoader reads claims extracts from CSV or XLSX files
type ClaimsLoader struct {
	base   *BaseParser
	config *LoaderConfig
	logger logger.Logger
}

// NewClaimsLoader creates a loader with the given configuration
func NewClaimsLoader(config *LoaderConfig, log logger.Logger) (*ClaimsLoader, error) {
	if config == nil {
		config = DefaultLoaderConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "loader", config, err)
	}

	log = logger.OrDefault(log)
	return &ClaimsLoader{
		base:   NewBaseParser(config.Parse, log),
		config: config,
		logger: log.WithComponent("claims_loader"),
	}, nil
}

// ReadTable reads an extract into a Table with aliased headers and checks
// the required columns
func (cl *ClaimsLoader) ReadTable(ctx context.Context, filePath string) (*Table, *ParseStats, error) {
	var (
		table *Table
		stats *ParseStats
		err   error
	)
	if isWorkbook(filePath) {
		table, stats, err = cl.base.ReadXLSX(ctx, filePath, cl.config.Sheet)
	} else {
		table, stats, err = cl.base.ReadCSV(ctx, filePath)
	}
	if err != nil {
		return nil, nil, err
	}

	cl.config.ApplyAliases(table.Columns)

	var missing []string
	for _, col := range cl.config.RequiredColumns {
		if table.ColumnIndex(col) < 0 {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		cl.logger.WithFields(logger.Fields{
			"file_path":         filePath,
			"missing_columns":   missing,
			"available_columns": table.Columns,
		}).Error("Required columns are missing")
		return nil, nil, errors.MissingColumnError(filePath, missing)
	}

	return table, stats, nil
}

// Load reads an extract into a typed record set. Cells that cannot be
// coerced are reported in the stats, not as errors.
func (cl *ClaimsLoader) Load(ctx context.Context, filePath string) (*models.RecordSet, *ParseStats, error) {
	table, stats, err := cl.ReadTable(ctx, filePath)
	if err != nil {
		return nil, nil, err
	}

	records := ToRecordSet(table)
	CollectIssues(table, records, stats)

	log := cl.logger.WithFields(logger.Fields{
		"file_path":          filePath,
		"records":            records.Len(),
		"invalid_quantities": stats.InvalidQuantities,
		"null_dates":         stats.NullDates,
	})
	if stats.HasIssues() {
		log.WithField("samples", stats.GetSampleIssues(5)).Warn("Some cells could not be coerced; those rows cannot match")
	} else {
		log.Info("Loaded claims extract")
	}

	return records, stats, nil
}

// ToRecordSet converts a table into a typed record set
func ToRecordSet(table *Table) *models.RecordSet {
	return models.NewRecordSet(table.Columns, table.Rows)
}

// CollectIssues counts quantities and dates that failed coercion. Blank
// cells count as null but are not reported as issues.
func CollectIssues(table *Table, records *models.RecordSet, stats *ParseStats) {
	qtyIdx := table.ColumnIndex(models.ColumnQuantity)
	dateIdx := table.ColumnIndex(models.ColumnDateFilled)

	for i, rec := range records.Records {
		line := i + 2
		if !rec.Quantity.Valid {
			stats.InvalidQuantities++
			if raw := Cell(table.Rows[i], qtyIdx); strings.TrimSpace(raw) != "" {
				stats.AddIssue(&RowIssue{Line: line, Column: models.ColumnQuantity, Value: raw, Message: "not a number"})
			}
		}
		if !rec.DateFilled.Valid {
			stats.NullDates++
			if raw := Cell(table.Rows[i], dateIdx); strings.TrimSpace(raw) != "" {
				stats.AddIssue(&RowIssue{Line: line, Column: models.ColumnDateFilled, Value: raw, Message: "not a date"})
			}
		}
	}
}

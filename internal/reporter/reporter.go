// Package reporter renders the tagged claims of a repricing run.
//
// Supported output formats:
//   - Console: human-readable summary for terminal display
//   - JSON: run summary for programmatic consumption
//   - CSV: every claim row with the tag column renamed for the workbook template
//   - XLSX: the same rows with unmatched reversals highlighted, plus a summary sheet
//   - Parquet: one typed row per claim for downstream analysis
//
// Rows are exported with untagged rows first, then tagged rows, each group in
// RowID order.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX}, log)
//	err = generator.GenerateReport(result, file)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reconciler"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
	FormatParquet OutputFormat = "parquet"
)

// AllFormats lists every supported format in the order files are written
var AllFormats = []OutputFormat{FormatConsole, FormatJSON, FormatCSV, FormatXLSX, FormatParquet}

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX, FormatParquet:
		return true
	default:
		return false
	}
}

// IsBinary reports whether the format cannot be shown on a terminal
func (f OutputFormat) IsBinary() bool {
	return f == FormatXLSX || f == FormatParquet
}

// ParseFormats parses a list of format names, dropping duplicates
func ParseFormats(names []string) ([]OutputFormat, error) {
	seen := make(map[OutputFormat]bool)
	var formats []OutputFormat
	for _, name := range names {
		f := OutputFormat(strings.ToLower(strings.TrimSpace(name)))
		if f == "" {
			continue
		}
		if !f.IsValid() {
			return nil, fmt.Errorf("invalid output format: %s", name)
		}
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	return formats, nil
}

// DefaultOpportunity names output files when no opportunity is configured
const DefaultOpportunity = "claims detail PCU"

var unsafeFileChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SanitizeOpportunity makes an opportunity name safe to use in a file name
func SanitizeOpportunity(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultOpportunity
	}
	return unsafeFileChars.ReplaceAllString(name, "_")
}

// OutputFileName returns the file written for format, or "" for console output
func OutputFileName(opportunity string, format OutputFormat) string {
	base := SanitizeOpportunity(opportunity) + "_merged_file_with_OR"
	switch format {
	case FormatJSON:
		return base + "_summary.json"
	case FormatCSV, FormatXLSX, FormatParquet:
		return base + "." + string(format)
	default:
		return ""
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `json:"format"`

	// Opportunity names the output files
	Opportunity string `json:"opportunity"`

	// Detail level options
	IncludeUnmatchedReversals bool `json:"include_unmatched_reversals"`
	IncludeBlockSummaries     bool `json:"include_block_summaries"`
	IncludeDataIssues         bool `json:"include_data_issues"`
	MaxItems                  int  `json:"max_items"`

	// XLSX options
	HighlightUnmatched bool `json:"highlight_unmatched"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                    FormatConsole,
		Opportunity:               DefaultOpportunity,
		IncludeUnmatchedReversals: true,
		IncludeBlockSummaries:     false,
		IncludeDataIssues:         true,
		MaxItems:                  20,
		HighlightUnmatched:        true,
		CSVDelimiter:              ',',
		CSVHeaders:                true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.MaxItems < 0 {
		return fmt.Errorf("max items must not be negative, got %d", c.MaxItems)
	}

	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r' {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}

	return nil
}

// ReportGenerator generates repricing reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	logger logger.Logger
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig, log logger.Logger) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
		logger: logger.OrDefault(log).WithComponent("reporter"),
	}, nil
}

// GenerateReport generates a report from a run result and writes it to the provided writer
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("repricing result cannot be nil")
	}
	if result.Records == nil && rg.config.Format != FormatJSON && rg.config.Format != FormatConsole {
		return fmt.Errorf("repricing result has no records")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatXLSX:
		return rg.generateExcelReport(result, writer)
	case FormatParquet:
		return rg.generateParquetReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// ExportOrder returns the records in export order: untagged rows, then OR
// rows, then any other tag, each group by RowID
func ExportOrder(rs *models.RecordSet) []*models.ClaimRecord {
	ordered := append([]*models.ClaimRecord(nil), rs.Records...)
	group := func(rec *models.ClaimRecord) int {
		switch rec.Logic {
		case "":
			return 0
		case models.TagOR:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		gi, gj := group(ordered[i]), group(ordered[j])
		if gi != gj {
			return gi < gj
		}
		return ordered[i].RowID < ordered[j].RowID
	})
	return ordered
}

// ExportColumns returns the positions and header names written to CSV and
// XLSX. RowID is internal and omitted; Logic takes the workbook header.
func ExportColumns(columns models.Columns) ([]int, []string) {
	var positions []int
	var headers []string
	for i, col := range columns {
		switch col {
		case models.ColumnRowID:
			continue
		case models.ColumnLogic:
			headers = append(headers, models.LogicExportHeader)
		default:
			headers = append(headers, col)
		}
		positions = append(positions, i)
	}
	return positions, headers
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, writer io.Writer) error {
	fmt.Fprintf(writer, "REPRICING REPORT\n")
	fmt.Fprintf(writer, "Run ID: %s\n", result.RunID)
	fmt.Fprintf(writer, "Generated: %s\n", result.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Sources: %s\n", strings.Join(result.Sources, ", "))
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", result.Duration.Round(time.Millisecond))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(result.Summary, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== MATCHING ===\n")
	rg.printMatchingSettings(result, writer)
	fmt.Fprintf(writer, "\n")

	if result.Partial() {
		fmt.Fprintf(writer, "=== FAILED BLOCKS ===\n")
		fmt.Fprintf(writer, "Blocks %v failed; their reversals are tagged as unmatched.\n", result.Coordinator.FailedBlocks)
		if result.Failures != nil {
			for _, failure := range result.Failures.Errors {
				fmt.Fprintf(writer, "  - %v\n", failure)
			}
		}
		fmt.Fprintf(writer, "\n")
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(writer, "=== WARNINGS ===\n")
		for _, warning := range result.Warnings {
			fmt.Fprintf(writer, "  - %s\n", warning)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDataIssues && result.ParseStats != nil && result.ParseStats.HasIssues() {
		fmt.Fprintf(writer, "=== DATA ISSUES ===\n")
		fmt.Fprintf(writer, "%s\n", result.ParseStats)
		for _, sample := range result.ParseStats.GetSampleIssues(rg.config.MaxItems) {
			fmt.Fprintf(writer, "  - %s\n", sample)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatchedReversals && result.Records != nil && result.Summary.UnmatchedReversals > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED REVERSALS ===\n")
		rg.printUnmatchedReversals(result.Records, writer)
	}

	return nil
}

// generateJSONReport generates a structured JSON run summary
func (rg *ReportGenerator) generateJSONReport(result *reconciler.Result, writer io.Writer) error {
	filteredResult := rg.filterResultForOutput(result)

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(filteredResult)
}

// generateCSVReport writes every record in export order
func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	rs := result.Records
	positions, headers := ExportColumns(rs.Columns)

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	record := make([]string, len(positions))
	for _, rec := range ExportOrder(rs) {
		for k, i := range positions {
			record[k] = rs.Cell(rec, i)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for row %d: %w", rec.RowID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(summary models.MatchSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Rows:                %d\n", summary.TotalRows)
	fmt.Fprintf(writer, "Reversals:           %d\n", summary.Reversals)
	fmt.Fprintf(writer, "  Matched:           %d (%.1f%%)\n",
		summary.MatchedReversals,
		rg.calculatePercentage(summary.MatchedReversals, summary.Reversals))
	fmt.Fprintf(writer, "  Unmatched:         %d (%.1f%%)\n",
		summary.UnmatchedReversals,
		rg.calculatePercentage(summary.UnmatchedReversals, summary.Reversals))
	fmt.Fprintf(writer, "Claims:              %d\n", summary.Claims)
	fmt.Fprintf(writer, "  Tagged OR:         %d\n", summary.TaggedClaims)
	fmt.Fprintf(writer, "  Reused:            %d\n", summary.ReusedClaims)
	fmt.Fprintf(writer, "Invalid quantities:  %d\n", summary.InvalidQuantities)
	fmt.Fprintf(writer, "Null fill dates:     %d\n", summary.NullDates)
}

func (rg *ReportGenerator) printMatchingSettings(result *reconciler.Result, writer io.Writer) {
	if result.Matching != nil {
		fmt.Fprintf(writer, "Date window:  %d days\n", result.Matching.DateWindowDays)
		fmt.Fprintf(writer, "Tie-break:    %s\n", result.Matching.TieBreak)
	}
	if result.Coordinator != nil {
		fmt.Fprintf(writer, "Workers:      %d\n", result.Coordinator.Workers)
		fmt.Fprintf(writer, "Blocks:       %d\n", result.Coordinator.Blocks)
		if rg.config.IncludeBlockSummaries {
			for i, bs := range result.Coordinator.BlockSummaries {
				fmt.Fprintf(writer, "  Block %d: %d rows, %d reversals, %d matched\n",
					i, bs.TotalRows, bs.Reversals, bs.MatchedReversals)
			}
		}
	}
}

func (rg *ReportGenerator) printUnmatchedReversals(rs *models.RecordSet, writer io.Writer) {
	var unmatched []*models.ClaimRecord
	for _, rec := range rs.Records {
		if rec.IsUnmatchedReversal() {
			unmatched = append(unmatched, rec)
		}
	}

	fmt.Fprintf(writer, "Total Unmatched Reversals: %d\n\n", len(unmatched))
	fmt.Fprintf(writer, "%-8s %-20s %-13s %-15s %10s %-12s\n", "RowID", "Source Record", "NDC", "Member", "Quantity", "Filled")
	fmt.Fprintf(writer, "%s\n", strings.Repeat("-", 83))

	limit := len(unmatched)
	if rg.config.MaxItems > 0 && rg.config.MaxItems < limit {
		limit = rg.config.MaxItems
	}
	for _, rec := range unmatched[:limit] {
		fmt.Fprintf(writer, "%-8d %-20s %-13s %-15s %10s %-12s\n",
			rec.RowID,
			truncateString(rec.SourceRecordID, 20),
			truncateString(rec.NDC, 13),
			truncateString(rec.MemberID, 15),
			rec.Quantity,
			rec.DateFilled.Format())
	}
	if limit < len(unmatched) {
		fmt.Fprintf(writer, "... and %d more\n", len(unmatched)-limit)
	}
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterResultForOutput(result *reconciler.Result) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":      result.RunID,
		"started_at":  result.StartedAt,
		"duration_ms": result.Duration.Milliseconds(),
		"sources":     result.Sources,
		"summary":     result.Summary,
		"partial":     result.Partial(),
	}

	if result.Matching != nil {
		output["matching"] = result.Matching
	}

	if result.Coordinator != nil {
		output["workers"] = result.Coordinator.Workers
		output["blocks"] = result.Coordinator.Blocks
		if result.Partial() {
			output["failed_blocks"] = result.Coordinator.FailedBlocks
		}
		if rg.config.IncludeBlockSummaries {
			output["block_summaries"] = result.Coordinator.BlockSummaries
		}
	}

	if len(result.Warnings) > 0 {
		output["warnings"] = result.Warnings
	}

	if rg.config.IncludeDataIssues && result.ParseStats != nil {
		output["data_issues"] = map[string]interface{}{
			"invalid_quantities": result.ParseStats.InvalidQuantities,
			"null_dates":         result.ParseStats.NullDates,
			"samples":            result.ParseStats.GetSampleIssues(rg.config.MaxItems),
		}
	}

	return output
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

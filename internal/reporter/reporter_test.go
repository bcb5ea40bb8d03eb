package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/matcher"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reconciler"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// createTestResult returns a tagged run: R1 matched C1, R2 found no claim
func createTestResult() *reconciler.Result {
	columns := []string{
		models.ColumnSourceRecordID,
		models.ColumnNDC,
		models.ColumnMemberID,
		models.ColumnQuantity,
		models.ColumnDateFilled,
		models.ColumnLogic,
		models.ColumnRowID,
	}
	rs := models.NewRecordSet(columns, [][]string{
		{"C1", "123", "A", "5", "2024-01-05", "OR", "0"},
		{"R1", "123", "A", "-5", "2024-01-10", "OR", "1"},
		{"C2", "456", "B", "3", "2024-01-11", "", "2"},
		{"R2", "789", "C", "-2", "2024-01-12", "OR", "3"},
		{"C3", "456", "B", "1", "2024-01-13", "", "4"},
	})
	rs.Records[1].Matched = true
	rs.Records[1].PartnerRowID = 0
	rs.Records[0].SelectedCount = 1

	summary := models.Summarize(rs.Records)
	return &reconciler.Result{
		RunID:     "run-1",
		Records:   rs,
		Summary:   summary,
		Sources:   []string{"merged_file.xlsx"},
		Matching:  matcher.DefaultMatchingConfig(),
		StartedAt: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Coordinator: &reconciler.CoordinatorResult{
			Records:        rs,
			Summary:        summary,
			BlockSummaries: []models.MatchSummary{summary},
			Blocks:         1,
			Workers:        1,
		},
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "nil config uses default",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      &ReportConfig{Format: FormatCSV, CSVDelimiter: ';', CSVHeaders: true},
			expectError: false,
		},
		{
			name:        "invalid format",
			config:      &ReportConfig{Format: "pdf", CSVDelimiter: ','},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config, logger.NewDiscardLogger())

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{FormatXLSX, true},
		{FormatParquet, true},
		{OutputFormat("pdf"), false},
		{OutputFormat(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats([]string{"XLSX", " csv", "xlsx", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(formats, []OutputFormat{FormatXLSX, FormatCSV}) {
		t.Errorf("ParseFormats() = %v", formats)
	}

	if _, err := ParseFormats([]string{"csv", "pdf"}); err == nil {
		t.Errorf("expected error for unknown format")
	}
}

func TestReportConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*ReportConfig)
		expectError bool
	}{
		{"default", func(c *ReportConfig) {}, false},
		{"negative max items", func(c *ReportConfig) { c.MaxItems = -1 }, true},
		{"quote delimiter", func(c *ReportConfig) { c.CSVDelimiter = '"' }, true},
		{"zero delimiter", func(c *ReportConfig) { c.CSVDelimiter = 0 }, true},
		{"tab delimiter", func(c *ReportConfig) { c.CSVDelimiter = '\t' }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultReportConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.expectError && err == nil {
				t.Errorf("expected validation error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestOutputFileName(t *testing.T) {
	tests := []struct {
		opportunity string
		format      OutputFormat
		expected    string
	}{
		{"", FormatXLSX, "claims detail PCU_merged_file_with_OR.xlsx"},
		{"Acme Q3", FormatCSV, "Acme Q3_merged_file_with_OR.csv"},
		{`Acme/West: "Q3"?`, FormatParquet, "Acme_West_ _Q3___merged_file_with_OR.parquet"},
		{"Acme", FormatJSON, "Acme_merged_file_with_OR_summary.json"},
		{"Acme", FormatConsole, ""},
	}

	for _, tt := range tests {
		if got := OutputFileName(tt.opportunity, tt.format); got != tt.expected {
			t.Errorf("OutputFileName(%q, %s) = %q, expected %q", tt.opportunity, tt.format, got, tt.expected)
		}
	}
}

func TestExportOrder(t *testing.T) {
	rs := createTestResult().Records
	rs.Records = append(rs.Records, models.NewRecordSet(rs.Columns,
		[][]string{{"X", "1", "A", "1", "2024-01-01", "REVIEW", "5"}}).Records...)

	var ids []string
	for _, rec := range ExportOrder(rs) {
		ids = append(ids, rec.SourceRecordID)
	}

	expected := []string{"C2", "C3", "C1", "R1", "R2", "X"}
	if !reflect.DeepEqual(ids, expected) {
		t.Errorf("ExportOrder() = %v, expected %v", ids, expected)
	}
	if rs.Records[0].SourceRecordID != "C1" {
		t.Errorf("ExportOrder should not reorder the record set")
	}
}

func TestGenerateReport(t *testing.T) {
	result := createTestResult()

	tests := []struct {
		name     string
		format   OutputFormat
		validate func(t *testing.T, output string)
	}{
		{
			name:   "console format",
			format: FormatConsole,
			validate: func(t *testing.T, output string) {
				for _, want := range []string{
					"REPRICING REPORT",
					"Run ID: run-1",
					"=== SUMMARY ===",
					"=== MATCHING ===",
					"=== UNMATCHED REVERSALS ===",
					"Total Unmatched Reversals: 1",
				} {
					if !strings.Contains(output, want) {
						t.Errorf("console output should contain %q", want)
					}
				}
				if strings.Contains(output, "=== FAILED BLOCKS ===") {
					t.Errorf("console output should not list failed blocks for a complete run")
				}
			},
		},
		{
			name:   "json format",
			format: FormatJSON,
			validate: func(t *testing.T, output string) {
				var decoded map[string]interface{}
				if err := json.Unmarshal([]byte(output), &decoded); err != nil {
					t.Fatalf("output should be valid JSON: %v", err)
				}
				if decoded["run_id"] != "run-1" {
					t.Errorf("JSON output should contain the run id")
				}
				summary, ok := decoded["summary"].(map[string]interface{})
				if !ok {
					t.Fatalf("JSON output should contain summary")
				}
				if summary["unmatched_reversals"] != float64(1) {
					t.Errorf("unexpected unmatched_reversals: %v", summary["unmatched_reversals"])
				}
				if decoded["partial"] != false {
					t.Errorf("JSON output should mark the run complete")
				}
			},
		},
		{
			name:   "csv format",
			format: FormatCSV,
			validate: func(t *testing.T, output string) {
				rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
				if err != nil {
					t.Fatalf("output should be valid CSV: %v", err)
				}
				if len(rows) != 6 {
					t.Fatalf("expected header and 5 rows, got %d", len(rows))
				}

				header := []string{"SOURCERECORDID", "NDC", "MemberID", "QUANTITY", "DATEFILLED", "O's & R's Check"}
				if !reflect.DeepEqual(rows[0], header) {
					t.Errorf("CSV header = %v, expected %v", rows[0], header)
				}

				var order []string
				for _, row := range rows[1:] {
					order = append(order, row[0])
				}
				if !reflect.DeepEqual(order, []string{"C2", "C3", "C1", "R1", "R2"}) {
					t.Errorf("CSV rows should list untagged rows first, got %v", order)
				}
				if rows[5][5] != "OR" {
					t.Errorf("expected OR tag on R2, got %q", rows[5][5])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultReportConfig()
			config.Format = tt.format
			generator, err := NewReportGenerator(config, logger.NewDiscardLogger())
			if err != nil {
				t.Fatalf("failed to create report generator: %v", err)
			}

			var buf bytes.Buffer
			if err := generator.GenerateReport(result, &buf); err != nil {
				t.Fatalf("failed to generate report: %v", err)
			}
			tt.validate(t, buf.String())
		})
	}
}

func TestGenerateReportNilResult(t *testing.T) {
	generator, err := NewReportGenerator(nil, logger.NewDiscardLogger())
	if err != nil {
		t.Fatalf("failed to create report generator: %v", err)
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(nil, &buf); err == nil {
		t.Errorf("expected error for nil result")
	}
}

func TestConsoleReportPartialRun(t *testing.T) {
	result := createTestResult()
	result.Coordinator.FailedBlocks = []int{1}
	result.Warnings = []string{"blocks [1] failed and were tagged as unmatched reversals"}

	generator, err := NewReportGenerator(nil, logger.NewDiscardLogger())
	if err != nil {
		t.Fatalf("failed to create report generator: %v", err)
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(result, &buf); err != nil {
		t.Fatalf("failed to generate report: %v", err)
	}

	output := buf.String()
	for _, section := range []string{"=== FAILED BLOCKS ===", "=== WARNINGS ===", "Blocks [1] failed"} {
		if !strings.Contains(output, section) {
			t.Errorf("output should contain section: %s", section)
		}
	}
}

func TestConsoleReportMaxItems(t *testing.T) {
	result := createTestResult()
	result.Records.Records[1].Matched = false
	result.Summary = models.Summarize(result.Records.Records)

	config := DefaultReportConfig()
	config.MaxItems = 1
	generator, err := NewReportGenerator(config, logger.NewDiscardLogger())
	if err != nil {
		t.Fatalf("failed to create report generator: %v", err)
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(result, &buf); err != nil {
		t.Fatalf("failed to generate report: %v", err)
	}
	if !strings.Contains(buf.String(), "... and 1 more") {
		t.Errorf("console output should truncate unmatched reversals:\n%s", buf.String())
	}
}

func TestCalculatePercentage(t *testing.T) {
	generator := &ReportGenerator{}

	tests := []struct {
		part     int
		total    int
		expected float64
	}{
		{0, 0, 0.0},
		{1, 4, 25.0},
		{2, 2, 100.0},
	}

	for _, tt := range tests {
		if got := generator.calculatePercentage(tt.part, tt.total); got != tt.expected {
			t.Errorf("calculatePercentage(%d, %d) = %f, expected %f",
				tt.part, tt.total, got, tt.expected)
		}
	}
}

func TestFilterResultForOutput(t *testing.T) {
	config := DefaultReportConfig()
	config.IncludeBlockSummaries = false
	generator, _ := NewReportGenerator(config, logger.NewDiscardLogger())

	filtered := generator.filterResultForOutput(createTestResult())

	if _, ok := filtered["summary"]; !ok {
		t.Errorf("filtered result should always include summary")
	}
	if _, ok := filtered["started_at"]; !ok {
		t.Errorf("filtered result should always include started_at")
	}
	if _, ok := filtered["block_summaries"]; ok {
		t.Errorf("filtered result should not include block_summaries when not configured")
	}
	if _, ok := filtered["failed_blocks"]; ok {
		t.Errorf("filtered result should not include failed_blocks for a complete run")
	}
}

func TestUpdateConfiguration(t *testing.T) {
	generator, _ := NewReportGenerator(nil, logger.NewDiscardLogger())

	newConfig := DefaultReportConfig()
	newConfig.Format = FormatJSON
	if err := generator.UpdateConfiguration(newConfig); err != nil {
		t.Errorf("unexpected error updating configuration: %v", err)
	}
	if generator.GetConfiguration().Format != FormatJSON {
		t.Errorf("configuration was not updated correctly")
	}

	invalid := DefaultReportConfig()
	invalid.Format = "pdf"
	if err := generator.UpdateConfiguration(invalid); err == nil {
		t.Errorf("expected error for invalid configuration but got none")
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("SOURCE-RECORD-000123", 10); got != "SOURCE-..." {
		t.Errorf("truncateString() = %q", got)
	}
	if got := truncateString("short", 10); got != "short" {
		t.Errorf("truncateString() = %q", got)
	}
}

// Package parsers reads claims extracts into tables and record sets.
//
// Extracts arrive as CSV exports from the claims system or as XLSX workbooks
// from the repricing tool. Both are read into a Table of raw cells with
// trimmed headers; typing of the cells happens when a Table becomes a
// models.RecordSet. Unparseable quantities and dates are not errors here:
// they are counted in ParseStats and left for the matching engine to ignore.
//
// Example usage:
//
//	loader := parsers.NewClaimsLoader(parsers.DefaultLoaderConfig(), log)
//	records, stats, err := loader.Load(ctx, "merged_file.xlsx")
//
//	merger := parsers.NewMerger(loader, log)
//	result, err := merger.Merge(ctx, "claims.csv", "reprice.xlsx")
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	TrimLeadingSpace bool
	LazyQuotes       bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: false, // cells are kept as written; match keys compare verbatim
		LazyQuotes:       true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		ValidateEncoding: true,
	}
}

// Table is a header row plus raw data rows as read from an extract
type Table struct {
	Source  string
	Columns []string
	Rows    [][]string
}

// ColumnIndex returns the position of name, or -1 when absent
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Cell returns row[i], or blank when the row is short
func Cell(row []string, i int) string {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig, log logger.Logger) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log = logger.OrDefault(log).WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"max_field_size":    config.MaxFieldSize,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source     string
	LineNumber int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{Source: source, ctx: ctx}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// OpenFile opens a CSV file and returns a configured csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := openForRead(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		return nil, nil, err
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, nil, err
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	reader := csv.NewReader(file)
	bp.configureReader(reader)

	return file, reader, nil
}

func openForRead(filePath string) (*os.File, error) {
	file, err := os.Open(filePath)
	if err == nil {
		return file, nil
	}
	return nil, classifyOpenError(filePath, err)
}

func classifyOpenError(filePath string, err error) error {
	switch {
	case os.IsNotExist(err):
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	case os.IsPermission(err):
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	default:
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
}

// configureReader sets up the CSV reader with our configuration
func (bp *BaseParser) configureReader(reader *csv.Reader) {
	reader.Comma = bp.config.Delimiter
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.LazyQuotes = bp.config.LazyQuotes
	reader.FieldsPerRecord = -1
}

// validateEncoding checks if the first lines of the file are valid UTF-8
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), bp.config.MaxFieldSize+64*1024)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	return nil
}

// ReadCSV reads a whole CSV extract into a Table
func (bp *BaseParser) ReadCSV(ctx context.Context, filePath string) (*Table, *ParseStats, error) {
	file, reader, err := bp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := NewParseStats()

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, errors.ValidationError(errors.CodeEmptyInput, filePath, nil, nil)
		}
		return nil, nil, errors.ParseError(errors.CodeInvalidFormat, filePath, 1, "headers", "", err)
	}
	parseCtx.LineNumber++
	stats.TotalLines++

	table := &Table{Source: filePath, Columns: CleanHeaders(headers)}

	for {
		record, err := bp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		table.Rows = append(table.Rows, record)
	}

	stats.TotalLines = parseCtx.LineNumber
	stats.RecordsParsed = len(table.Rows)

	bp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"columns":   len(table.Columns),
		"rows":      len(table.Rows),
	}).Debug("Read CSV extract")

	return table, stats, nil
}

// ReadRecord reads the next non-empty CSV record
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "csv parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			bp.logger.WithError(err).WithField("line_number", parseCtx.LineNumber+1).Warn("Failed to read CSV record")
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, parseCtx.LineNumber+1, "", "", err)
		}

		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(
						errors.CodeInvalidData,
						parseCtx.Source,
						parseCtx.LineNumber,
						fmt.Sprintf("field_%d", i),
						truncate(field, 50),
						fmt.Errorf("field exceeds maximum size of %d bytes", bp.config.MaxFieldSize),
					)
				}
			}
		}

		return record, nil
	}
}

// CleanHeaders trims whitespace and a leading byte-order mark from header cells
func CleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, "\ufeff")
		}
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// RowIssue describes a cell that could not be coerced
type RowIssue struct {
	Line    int    `json:"line"`
	Column  string `json:"column"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (ri *RowIssue) String() string {
	return fmt.Sprintf("line %d, column %s: %s ('%s')", ri.Line, ri.Column, ri.Message, ri.Value)
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines        int         `json:"total_lines"`
	RecordsParsed     int         `json:"records_parsed"`
	InvalidQuantities int         `json:"invalid_quantities"`
	NullDates         int         `json:"null_dates"`
	Issues            []*RowIssue `json:"issues,omitempty"`
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{}
}

// AddIssue records a cell that could not be coerced
func (ps *ParseStats) AddIssue(issue *RowIssue) {
	ps.Issues = append(ps.Issues, issue)
}

// HasIssues returns true if any cell could not be coerced
func (ps *ParseStats) HasIssues() bool {
	return len(ps.Issues) > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d invalid quantities, %d null dates)",
		ps.TotalLines, ps.RecordsParsed, ps.InvalidQuantities, ps.NullDates)
}

// GetSampleIssues returns a sample of the row issues for logging
func (ps *ParseStats) GetSampleIssues(maxSamples int) []string {
	if len(ps.Issues) == 0 {
		return nil
	}

	limit := len(ps.Issues)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for _, issue := range ps.Issues[:limit] {
		samples = append(samples, issue.String())
	}
	return samples
}

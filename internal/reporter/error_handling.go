package reporter

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reconciler"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with enhanced error handling
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	log = logger.OrDefault(log)

	generator, err := NewReportGenerator(config, log)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("check the output format and CSV settings")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely generates a report with comprehensive error handling and fallbacks
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.Result, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Info("Starting report generation")

	if err := srg.validateInputs(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	if err := srg.generateWithFallback(result, writer); err != nil {
		srg.logger.WithError(err).Error("Report generation failed")
		return err
	}

	srg.logger.Info("Report generation completed successfully")
	return nil
}

// WriteFile renders the report into dir under its opportunity file name and
// returns the path written. When the file cannot be written, usually because
// the workbook is open in Excel, the report goes to a _backup sibling.
func (srg *SafeReportGenerator) WriteFile(result *reconciler.Result, dir string) (string, error) {
	name := OutputFileName(srg.config.Opportunity, srg.config.Format)
	if name == "" {
		return "", errors.ConfigurationError(errors.CodeInvalidConfig, "format", srg.config.Format,
			fmt.Errorf("format %s is not written to a file", srg.config.Format))
	}

	if err := srg.validateInputs(result, io.Discard); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := srg.GenerateReport(result, &buf); err != nil {
		return "", srg.wrapGenerationError(err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.FileError(errors.CodeDirectoryError, dir, err)
	}

	path := filepath.Join(dir, name)
	err := os.WriteFile(path, buf.Bytes(), 0644)
	if err == nil {
		srg.logger.WithFields(logger.Fields{
			"format": srg.config.Format,
			"path":   path,
			"bytes":  buf.Len(),
		}).Info("Report written")
		return path, nil
	}

	if !srg.isFileError(err) {
		return "", errors.FileError(errors.CodeWriteFailed, path, err)
	}

	backupPath := srg.generateBackupPath(path)
	srg.logger.WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backupPath,
	}).WithError(err).Warn("Attempting output fallback")

	if backupErr := os.WriteFile(backupPath, buf.Bytes(), 0644); backupErr != nil {
		return "", errors.FileError(errors.CodeWriteFailed, path,
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", err, backupErr))
	}

	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", path, backupPath)
	return backupPath, nil
}

// validateInputs validates the inputs for report generation
func (srg *SafeReportGenerator) validateInputs(result *reconciler.Result, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"result",
			nil,
			nil,
		).WithSuggestion("provide a completed repricing result")
	}

	if writer == nil {
		return errors.ValidationError(
			errors.CodeMissingField,
			"writer",
			nil,
			nil,
		).WithSuggestion("provide a valid output writer")
	}

	if result.Records == nil && srg.config.Format != FormatConsole && srg.config.Format != FormatJSON {
		return errors.ValidationError(
			errors.CodeMissingField,
			"records",
			nil,
			nil,
		).WithSuggestion("row exports need the tagged records of the run")
	}

	return nil
}

// generateWithFallback attempts to generate the report with fallback strategies
func (srg *SafeReportGenerator) generateWithFallback(result *reconciler.Result, writer io.Writer) error {
	err := srg.GenerateReport(result, writer)
	if err == nil {
		return nil
	}

	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.shouldAttemptFormatFallback() {
		return srg.generateWithFormatFallback(result, writer, err)
	}

	return srg.wrapGenerationError(err)
}

// shouldAttemptFormatFallback reports whether the console layout can stand in.
// Binary formats are never replaced since the reader expects a workbook or
// Parquet file.
func (srg *SafeReportGenerator) shouldAttemptFormatFallback() bool {
	return srg.config.Format != FormatConsole && !srg.config.Format.IsBinary()
}

// generateWithFormatFallback attempts to generate with a fallback format
func (srg *SafeReportGenerator) generateWithFormatFallback(result *reconciler.Result, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig, srg.logger)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := fallbackGenerator.GenerateReport(result, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated successfully using format fallback")
	return nil
}

// isFileError checks if the error is file-related
func (srg *SafeReportGenerator) isFileError(err error) bool {
	return stderrors.Is(err, fs.ErrPermission) ||
		stderrors.Is(err, fs.ErrNotExist) ||
		stderrors.Is(err, fs.ErrExist) ||
		isSpaceError(err)
}

// generateBackupPath creates a backup file path
func (srg *SafeReportGenerator) generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if repErr, ok := errors.AsRepricingError(err); ok {
		return repErr
	}

	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

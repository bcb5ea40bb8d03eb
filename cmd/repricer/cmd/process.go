package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/cmd/repricer/config"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/audit"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reconciler"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reporter"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// Viper keys for the input files
const (
	keyInput       = "input"
	keyClaimsFile  = "claims-file"
	keyRepriceFile = "reprice-file"
	keyProgress    = "progress"
)

// processCmd represents the process command
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Tag reversals and the claims they undo",
	Long: `Process loads a claims extract, sorts it by fill date, and tags every
reversal together with the claim it undoes. A claim matches a reversal when
NDC and member agree, the quantities cancel out and the fill dates are within
the date window. Rows are split into blocks matched in parallel; a pair whose
rows fall into different blocks is not matched.

The input is either a merged extract (--input) or the claims and reprice
extracts (--claims-file and --reprice-file), which are merged first.

Examples:
  # Tag a merged extract and write the highlighted workbook
  repricer process --input merged_file.xlsx

  # Merge the two extracts, then write CSV and Parquet next to each other
  repricer process --claims-file claims.csv --reprice-file reprice.xlsx \
    --output-formats csv,parquet --output-dir out

  # Use the closest claim in time and stop on the first block failure
  repricer process --input merged_file.csv --tie-break closest --failure-policy abort`,

	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	flags := processCmd.Flags()

	// Input flags
	flags.StringP(keyInput, "i", "", "merged claims extract (CSV or XLSX)")
	flags.String(keyClaimsFile, "", "claims extract to merge (CSV or XLSX)")
	flags.String(keyRepriceFile, "", "reprice extract to merge (CSV or XLSX)")

	// Output flags
	flags.StringP(config.KeyOutputDir, "o", "", "output directory (default: directory of the input)")
	flags.StringP(config.KeyOutputFormats, "f", "", "comma-separated formats: console, json, csv, xlsx, parquet (default \""+config.DefaultOutputFormats+"\")")
	flags.String(config.KeyOpportunityName, "", "opportunity name used in output file names")

	// Matching flags
	flags.IntP(config.KeyWorkers, "w", 0, "parallel blocks (0 = half the CPUs, at most 4)")
	flags.Int(config.KeyDateWindowDays, 0, "largest fill date gap between a reversal and its claim (default 30)")
	flags.String(config.KeyTieBreak, "", "claim chosen among several matches: first, closest (default \"first\")")
	flags.Bool(config.KeyUseKeyIndex, false, "index claims by NDC, member and quantity before matching")
	flags.String(config.KeyFailurePolicy, "", "on a failed block: fallback, abort (default \"fallback\")")

	// UI flags
	flags.Bool(keyProgress, false, "show progress indicators")
}

func runProcess(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	request := &reconciler.Request{
		InputFile:   viper.GetString(keyInput),
		ClaimsFile:  viper.GetString(keyClaimsFile),
		RepriceFile: viper.GetString(keyRepriceFile),
	}
	if err := request.Validate(); err != nil {
		return err
	}
	for _, source := range request.Sources() {
		if err := validateFileExists(source, "input file"); err != nil {
			return err
		}
	}

	formats, err := settings.Formats()
	if err != nil {
		return err
	}
	reconcilerConfig, err := settings.ReconcilerConfig()
	if err != nil {
		return err
	}

	log := logger.Default()
	auditLog, err := openAudit(settings)
	if err != nil {
		return err
	}

	pipeline, err := reconciler.NewPipeline(reconcilerConfig, reconciler.PipelineOptions{
		Audit:  auditLog,
		Logger: log,
	})
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	if viper.GetBool(keyProgress) {
		pipeline.AddProgressCallback(func(progress *reconciler.Progress) {
			fmt.Fprintf(stderr, "[%d/%d] %s (%.1f%% complete)\n",
				progress.CompletedSteps, progress.TotalSteps,
				progress.CurrentStep, progress.PercentComplete)
		})
	}

	if verbose {
		fmt.Fprintf(stderr, "Sources: %v\n", request.Sources())
		fmt.Fprintf(stderr, "Output formats: %v\n", formats)
		fmt.Fprintf(stderr, "Workers: %d, failure policy: %s\n",
			reconcilerConfig.EffectiveWorkers(), reconcilerConfig.FailurePolicy)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	result, err := pipeline.Run(ctx, request)
	if err != nil {
		return err
	}

	outputDir := settings.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(request.Sources()[0])
	}

	// Writers for one run are invoked one after another.
	for _, format := range formats {
		if err := writeReport(cmd, settings, result, format, outputDir, auditLog); err != nil {
			return err
		}
	}

	if result.Partial() {
		fmt.Fprintf(stderr, "Warning: blocks %v failed; their reversals are tagged OR without a matched claim.\n",
			result.Coordinator.FailedBlocks)
		fmt.Fprintf(stderr, "Review the output before use. Details are in the audit log%s.\n", auditHint(auditLog))
	}

	if verbose {
		fmt.Fprintf(stderr, "Tagged %d rows: %d reversals (%d matched, %d unmatched), %d claims tagged.\n",
			result.Summary.TotalRows, result.Summary.Reversals, result.Summary.MatchedReversals,
			result.Summary.UnmatchedReversals, result.Summary.TaggedClaims)
		fmt.Fprintf(stderr, "Processing time: %v\n", result.Duration)
	}

	return nil
}

func writeReport(cmd *cobra.Command, settings *config.Settings, result *reconciler.Result,
	format reporter.OutputFormat, outputDir string, auditLog *audit.Log) error {
	generator, err := reporter.NewSafeReportGenerator(settings.ReportConfig(format), logger.Default())
	if err != nil {
		return err
	}

	if format == reporter.FormatConsole {
		return generator.GenerateReportSafely(result, cmd.OutOrStdout())
	}

	path, err := generator.WriteFile(result, outputDir)
	if err != nil {
		auditLog.Recordf(reconciler.AuditScript, audit.StatusError, "Run %s: writing %s report failed: %v", result.RunID, format, err)
		return err
	}
	auditLog.Recordf(reconciler.AuditScript, audit.StatusFile, "Run %s: report written to %s", result.RunID, path)
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil, nil).
			WithSuggestion(fmt.Sprintf("provide the %s path", description))
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}

	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func auditHint(auditLog *audit.Log) string {
	if auditLog == nil {
		return ""
	}
	return " at " + auditLog.Path()
}

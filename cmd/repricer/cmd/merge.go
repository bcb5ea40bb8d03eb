package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/cmd/repricer/config"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/audit"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/parsers"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reporter"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

const (
	// MergeScript names the merge command in audit entries
	MergeScript = "merge"

	mergedFileBase = "merged_file"
	keyMergeFormat = "merge-format"
)

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Join the claims and reprice extracts",
	Long: `Merge joins the claims extract and the reprice extract on SOURCERECORDID
and writes merged_file.xlsx (or .csv) for review before processing. Headers are
trimmed, "Source Record ID" is renamed SOURCERECORDID, Total AWP (Historical)
is rounded to cents and blank MemberID cells become 0.

Examples:
  repricer merge --claims-file claims.csv --reprice-file reprice.xlsx
  repricer merge --claims-file claims.csv --reprice-file reprice.csv --merge-format csv -o out`,

	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	flags := mergeCmd.Flags()
	flags.String(keyClaimsFile, "", "claims extract (CSV or XLSX)")
	flags.String(keyRepriceFile, "", "reprice extract (CSV or XLSX)")
	flags.StringP(config.KeyOutputDir, "o", "", "output directory (default: directory of the claims extract)")
	flags.String(keyMergeFormat, "xlsx", "merged file format: xlsx, csv")
}

func runMerge(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	claimsFile := viper.GetString(keyClaimsFile)
	repriceFile := viper.GetString(keyRepriceFile)
	if err := validateFileExists(claimsFile, "claims file"); err != nil {
		return err
	}
	if err := validateFileExists(repriceFile, "reprice file"); err != nil {
		return err
	}

	format := reporter.OutputFormat(strings.ToLower(mergeFormat(cmd)))
	if format != reporter.FormatXLSX && format != reporter.FormatCSV {
		return errors.ConfigurationError(errors.CodeInvalidConfig, keyMergeFormat, format,
			fmt.Errorf("merged files are written as xlsx or csv"))
	}

	log := logger.Default()
	auditLog, err := openAudit(settings)
	if err != nil {
		return err
	}

	loader, err := parsers.NewClaimsLoader(parsers.MergeInputConfig(), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	auditLog.Recordf(MergeScript, audit.StatusStart, "Merging %s and %s", filepath.Base(claimsFile), filepath.Base(repriceFile))
	merged, err := parsers.NewMerger(loader, log).Merge(ctx, claimsFile, repriceFile)
	if err != nil {
		auditLog.Recordf(MergeScript, audit.StatusError, "Merge failed: %v", err)
		return err
	}
	for _, warning := range merged.Warnings {
		auditLog.Record(MergeScript, warning, audit.StatusWarning)
	}

	outputDir := settings.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(claimsFile)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return errors.FileError(errors.CodeDirectoryError, outputDir, err)
	}
	path := filepath.Join(outputDir, mergedFileBase+"."+string(format))

	if format == reporter.FormatXLSX {
		err = reporter.WriteTableWorkbook(path, merged.Table.Columns, merged.Table.Rows)
	} else {
		err = writeTableCSV(path, merged.Table)
	}
	if err != nil {
		auditLog.Recordf(MergeScript, audit.StatusError, "Writing %s failed: %v", path, err)
		return err
	}

	auditLog.Recordf(MergeScript, audit.StatusEnd, "Merged file written to %s (%d rows)", path, len(merged.Table.Rows))
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d rows, %d matched keys, %d claims only, %d reprice only)\n",
		path, len(merged.Table.Rows), merged.MatchedKeys, merged.LeftOnlyKeys, merged.RightOnlyKeys)
	return nil
}

func mergeFormat(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup(keyMergeFormat); f != nil && !f.Changed && !viper.IsSet(keyMergeFormat) {
		return f.DefValue
	}
	return viper.GetString(keyMergeFormat)
}

func writeTableCSV(path string, table *parsers.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeWriteFailed, path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(table.Columns); err != nil {
		return errors.FileError(errors.CodeWriteFailed, path, err)
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return errors.FileError(errors.CodeWriteFailed, path, err)
	}
	if err := file.Close(); err != nil {
		return errors.FileError(errors.CodeWriteFailed, path, err)
	}
	return nil
}

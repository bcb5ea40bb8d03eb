package cmd

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/cmd/repricer/config"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/audit"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

var (
	cfgFile string
	envFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "repricer",
	Short: "Pharmacy claims reversal tagging tool",
	Long: `Repricer tags reversed pharmacy claims in a claims extract. Every reversal
and the original claim it undoes are marked "OR" so they can be excluded from
repricing. The tagged extract is written as console, JSON, CSV, XLSX or Parquet.

Examples:
  repricer process --input merged_file.xlsx
  repricer process --claims-file claims.csv --reprice-file reprice.xlsx --output-formats xlsx,csv
  repricer merge --claims-file claims.csv --reprice-file reprice.xlsx
  repricer --version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded when present")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String(config.KeyLogLevel, "", "log level: debug, info, warn, error")
	flags.String(config.KeyLogFormat, "", "log format: text, json")
	flags.String(config.KeyLogFile, "", "write logs to this file instead of stderr")
	flags.String(config.KeyAuditDir, "", "audit log directory (default: user config dir)")
	flags.Int64(config.KeyAuditMaxBytes, 0, "rotate the audit log above this size")
	flags.Int(config.KeyAuditBackups, 0, "number of rotated audit logs to keep")
	flags.Bool(config.KeyNoAudit, false, "disable the audit log")
}

// initConfig reads in the dotenv file, config file and ENV variables.
func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Error reading env file %s: %s\n", envFile, err)
			os.Exit(4)
		}
	}

	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(4)
		}

		if verbose {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match, e.g. REPRICER_DATE_WINDOW_DAYS
	viper.SetEnvPrefix("REPRICER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindFlags binds the flags a command was invoked with, so flags win over
// environment and config file while unset flags fall through to them
func bindFlags(cmd *cobra.Command) error {
	var bindErr error
	bind := func(f *pflag.Flag) {
		if bindErr == nil && f.Changed {
			bindErr = viper.BindPFlag(f.Name, f)
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	if bindErr != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "flags", nil, bindErr)
	}
	return nil
}

// loadSettings binds cmd's flags and returns the validated settings
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	if err := bindFlags(cmd); err != nil {
		return nil, err
	}
	return config.FromViper(viper.GetViper())
}

// setupLogging configures the process-wide logger from the settings
func setupLogging(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if verbose && settings.LogLevel == string(logger.InfoLevel) {
		settings.LogLevel = string(logger.DebugLevel)
	}

	log, err := logger.NewLogger(settings.LoggerConfig())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyLogFile, settings.LogFile, err)
	}
	logger.SetDefault(log)
	return nil
}

// openAudit opens the audit log, or returns nil when auditing is disabled
func openAudit(settings *config.Settings) (*audit.Log, error) {
	auditConfig := settings.AuditConfig()
	if auditConfig == nil {
		return nil, nil
	}
	return audit.New(auditConfig, logger.Default())
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

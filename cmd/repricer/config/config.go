// Package config assembles the repricer settings from flags, environment and
// an optional config file, and turns them into component configurations.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/audit"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/matcher"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reconciler"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/reporter"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// Viper keys shared by flags, environment (REPRICER_ prefix) and config files
const (
	KeyWorkers         = "workers"
	KeyDateWindowDays  = "date-window-days"
	KeyTieBreak        = "tie-break"
	KeyUseKeyIndex     = "use-key-index"
	KeyFailurePolicy   = "failure-policy"
	KeyOutputDir       = "output-dir"
	KeyOutputFormats   = "output-formats"
	KeyOpportunityName = "opportunity-name"
	KeyAuditDir        = "audit-dir"
	KeyAuditMaxBytes   = "audit-max-bytes"
	KeyAuditBackups    = "audit-backups"
	KeyNoAudit         = "no-audit"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
	KeyLogFile         = "log-file"
)

// DefaultOutputFormats are written when no formats are configured
const DefaultOutputFormats = "console,xlsx"

// Settings holds every user-facing option of the repricer
type Settings struct {
	Workers        int    `validate:"gte=0"`
	DateWindowDays int    `validate:"gte=0"`
	TieBreak       string `validate:"oneof=first closest"`
	UseKeyIndex    bool
	FailurePolicy  string `validate:"oneof=fallback abort"`

	OutputDir       string
	OutputFormats   []string `validate:"min=1,dive,oneof=console json csv xlsx parquet"`
	OpportunityName string

	AuditDir      string `validate:"required_unless=DisableAudit true"`
	AuditMaxBytes int64  `validate:"gt=0"`
	AuditBackups  int    `validate:"gte=0"`
	DisableAudit  bool

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`
	LogFile   string
}

// DefaultSettings returns settings matching the established tool
func DefaultSettings() *Settings {
	auditDefaults := audit.DefaultConfig()
	return &Settings{
		Workers:         0,
		DateWindowDays:  matcher.DefaultDateWindowDays,
		TieBreak:        string(matcher.TieBreakFirst),
		FailurePolicy:   string(reconciler.FailurePolicyFallback),
		OutputFormats:   SplitList(DefaultOutputFormats),
		OpportunityName: reporter.DefaultOpportunity,
		AuditDir:        auditDefaults.Dir,
		AuditMaxBytes:   auditDefaults.MaxBytes,
		AuditBackups:    auditDefaults.Backups,
		LogLevel:        string(logger.InfoLevel),
		LogFormat:       string(logger.TextFormat),
	}
}

// SetDefaults registers the default settings with v so unset keys resolve
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyDateWindowDays, d.DateWindowDays)
	v.SetDefault(KeyTieBreak, d.TieBreak)
	v.SetDefault(KeyUseKeyIndex, d.UseKeyIndex)
	v.SetDefault(KeyFailurePolicy, d.FailurePolicy)
	v.SetDefault(KeyOutputFormats, DefaultOutputFormats)
	v.SetDefault(KeyOpportunityName, d.OpportunityName)
	v.SetDefault(KeyAuditDir, d.AuditDir)
	v.SetDefault(KeyAuditMaxBytes, d.AuditMaxBytes)
	v.SetDefault(KeyAuditBackups, d.AuditBackups)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
}

// FromViper reads and validates the settings held by v
func FromViper(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		Workers:         v.GetInt(KeyWorkers),
		DateWindowDays:  v.GetInt(KeyDateWindowDays),
		TieBreak:        strings.ToLower(strings.TrimSpace(v.GetString(KeyTieBreak))),
		UseKeyIndex:     v.GetBool(KeyUseKeyIndex),
		FailurePolicy:   strings.ToLower(strings.TrimSpace(v.GetString(KeyFailurePolicy))),
		OutputDir:       v.GetString(KeyOutputDir),
		OutputFormats:   SplitList(strings.Join(v.GetStringSlice(KeyOutputFormats), ",")),
		OpportunityName: v.GetString(KeyOpportunityName),
		AuditDir:        v.GetString(KeyAuditDir),
		AuditMaxBytes:   v.GetInt64(KeyAuditMaxBytes),
		AuditBackups:    v.GetInt(KeyAuditBackups),
		DisableAudit:    v.GetBool(KeyNoAudit),
		LogLevel:        strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:       strings.ToLower(v.GetString(KeyLogFormat)),
		LogFile:         v.GetString(KeyLogFile),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// SplitList splits a comma or whitespace separated list, lower-casing entries
func SplitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings against their constraints
func (s *Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "settings", nil, err)
	}

	first := fieldErrs[0]
	cause := fmt.Errorf("%s failed the %q check", first.Namespace(), first.Tag())
	if len(fieldErrs) > 1 {
		cause = fmt.Errorf("%w (and %d more)", cause, len(fieldErrs)-1)
	}
	return errors.ConfigurationError(errors.CodeInvalidConfig, settingKey(first.StructField()), first.Value(), cause)
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

var fieldKeys = map[string]string{
	"Workers":         KeyWorkers,
	"DateWindowDays":  KeyDateWindowDays,
	"TieBreak":        KeyTieBreak,
	"FailurePolicy":   KeyFailurePolicy,
	"OutputFormats":   KeyOutputFormats,
	"AuditDir":        KeyAuditDir,
	"AuditMaxBytes":   KeyAuditMaxBytes,
	"AuditBackups":    KeyAuditBackups,
	"LogLevel":        KeyLogLevel,
	"LogFormat":       KeyLogFormat,
	"OpportunityName": KeyOpportunityName,
}

func settingKey(field string) string {
	if key, ok := fieldKeys[field]; ok {
		return key
	}
	return field
}

// ReconcilerConfig builds the coordinator and matching configuration
func (s *Settings) ReconcilerConfig() (*reconciler.Config, error) {
	tieBreak, err := matcher.ParseTieBreak(s.TieBreak)
	if err != nil {
		return nil, err
	}
	policy, err := reconciler.ParseFailurePolicy(s.FailurePolicy)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Workers = s.Workers
	config.FailurePolicy = policy
	config.Matching.DateWindowDays = s.DateWindowDays
	config.Matching.TieBreak = tieBreak
	config.Matching.UseKeyIndex = s.UseKeyIndex

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Formats returns the configured output formats in write order
func (s *Settings) Formats() ([]reporter.OutputFormat, error) {
	formats, err := reporter.ParseFormats(s.OutputFormats)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyOutputFormats, s.OutputFormats, err)
	}
	return formats, nil
}

// ReportConfig creates a report configuration for the specified output format
func (s *Settings) ReportConfig(format reporter.OutputFormat) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.Format = format
	config.Opportunity = s.OpportunityName

	switch format {
	case reporter.FormatConsole:
		config.IncludeUnmatchedReversals = true
		config.IncludeDataIssues = true
	case reporter.FormatJSON:
		config.IncludeBlockSummaries = true
		config.IncludeDataIssues = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	case reporter.FormatXLSX:
		config.HighlightUnmatched = true
	}

	return config
}

// AuditConfig returns the audit log settings, or nil when auditing is disabled
func (s *Settings) AuditConfig() *audit.Config {
	if s.DisableAudit {
		return nil
	}
	config := audit.DefaultConfig()
	config.Dir = s.AuditDir
	config.MaxBytes = s.AuditMaxBytes
	config.Backups = s.AuditBackups
	return config
}

// LoggerConfig returns the logger settings
func (s *Settings) LoggerConfig() *logger.Config {
	config := logger.DefaultConfig()
	config.Level = logger.Level(s.LogLevel)
	config.Format = logger.Format(s.LogFormat)
	if s.LogFile != "" {
		config.Output = logger.FileOutput
		config.File = s.LogFile
	}
	return config
}

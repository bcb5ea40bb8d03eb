package parsers

import (
	"fmt"
	"strings"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
)

// LoaderConfig holds configuration for reading claims extracts
type LoaderConfig struct {
	// Sheet names the worksheet to read from XLSX inputs; blank means the first sheet
	Sheet string `json:"sheet,omitempty"`

	// ColumnAliases renames headers after trimming, e.g. "Source Record ID"
	ColumnAliases map[string]string `json:"column_aliases,omitempty"`

	// RequiredColumns must be present after aliasing or loading fails
	RequiredColumns []string `json:"required_columns,omitempty"`

	Parse *ParseConfig `json:"-"`
}

// DefaultColumnAliases maps header spellings seen in extracts to the standard names
func DefaultColumnAliases() map[string]string {
	return map[string]string{
		"Source Record ID": models.ColumnSourceRecordID,
	}
}

// DefaultLoaderConfig returns the configuration used for merged claims files.
// Logic is not required since preparation adds it.
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		ColumnAliases: DefaultColumnAliases(),
		RequiredColumns: []string{
			models.ColumnQuantity,
			models.ColumnNDC,
			models.ColumnMemberID,
			models.ColumnDateFilled,
		},
		Parse: DefaultParseConfig(),
	}
}

// MergeInputConfig returns the configuration used for the two extracts fed to the merger
func MergeInputConfig() *LoaderConfig {
	return &LoaderConfig{
		ColumnAliases:   DefaultColumnAliases(),
		RequiredColumns: []string{models.ColumnSourceRecordID},
		Parse:           DefaultParseConfig(),
	}
}

// Validate checks if the loader configuration is valid
func (lc *LoaderConfig) Validate() error {
	for from, to := range lc.ColumnAliases {
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			return fmt.Errorf("column alias cannot be blank: %q -> %q", from, to)
		}
	}

	for _, col := range lc.RequiredColumns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("required column name cannot be blank")
		}
	}

	return nil
}

// ApplyAliases renames aliased headers in place
func (lc *LoaderConfig) ApplyAliases(columns []string) {
	for i, col := range columns {
		if to, ok := lc.ColumnAliases[col]; ok {
			columns[i] = to
		}
	}
}

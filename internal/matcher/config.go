// Package matcher tags pharmacy claim reversals and the claims they undo.
//
// A reversal is a row with a negative quantity; a claim is a row with a
// positive quantity. For every reversal in a block, the engine looks for a
// claim in the same block with the same NDC, the same member, the same
// absolute quantity and a fill date no more than DateWindowDays away. Every
// reversal ends tagged "OR" whether or not a partner was found, and a claim
// is tagged "OR" only when some reversal selected it.
//
// Selection among several qualifying claims follows the configured TieBreak:
//   - TieBreakFirst picks the earliest qualifying claim in block order
//   - TieBreakClosest picks the smallest day distance, earliest on ties
//
// Claims are never removed from the candidate pool, so one claim may be
// selected by several reversals. SelectedCount on the claim records how many.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	engine, err := matcher.NewReversalEngine(config, log)
//	if err != nil {
//		return err
//	}
//	stats, err := engine.ProcessBlock(block)
package matcher

import (
	"fmt"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
)

// TieBreak selects one claim when several satisfy the match predicate
type TieBreak string

const (
	// TieBreakFirst selects the first qualifying claim in block row order.
	// This is the behavior downstream row counts were built against.
	TieBreakFirst TieBreak = "first"

	// TieBreakClosest selects the qualifying claim with the smallest absolute
	// day distance, falling back to block row order on equal distance.
	TieBreakClosest TieBreak = "closest"
)

// IsValid reports whether the tie-break is known
func (tb TieBreak) IsValid() bool {
	return tb == TieBreakFirst || tb == TieBreakClosest
}

func (tb TieBreak) String() string {
	return string(tb)
}

// ParseTieBreak converts a configuration value to a TieBreak
func ParseTieBreak(s string) (TieBreak, error) {
	tb := TieBreak(s)
	if !tb.IsValid() {
		return "", errors.ConfigurationError(errors.CodeInvalidConfig, "tie-break", s, nil).
			WithSuggestion("use 'first' or 'closest'")
	}
	return tb, nil
}

// DefaultDateWindowDays is the widest fill-date gap between a reversal and its claim
const DefaultDateWindowDays = 30

// MatchingConfig holds configuration parameters for reversal matching
type MatchingConfig struct {
	// DateWindowDays is the inclusive limit on the absolute day difference
	DateWindowDays int `json:"date_window_days"`

	// TieBreak chooses among several qualifying claims
	TieBreak TieBreak `json:"tie_break"`

	// UseKeyIndex groups claims by NDC, member and magnitude before scanning.
	// Results are identical to the full scan.
	UseKeyIndex bool `json:"use_key_index"`
}

// DefaultMatchingConfig returns the configuration that reproduces the
// established tagging behavior
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays: DefaultDateWindowDays,
		TieBreak:       TieBreakFirst,
		UseKeyIndex:    false,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateWindowDays < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "date-window-days", mc.DateWindowDays, nil).
			WithSuggestion("the date window cannot be negative")
	}

	if !mc.TieBreak.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "tie-break", mc.TieBreak, nil).
			WithSuggestion("use 'first' or 'closest'")
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateWindowDays: %d, TieBreak: %s, UseKeyIndex: %t}",
		mc.DateWindowDays, mc.TieBreak, mc.UseKeyIndex)
}

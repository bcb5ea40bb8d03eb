package matcher

import (
	"fmt"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// ReversalEngine tags reversals and their partner claims within one block
type ReversalEngine struct {
	config *MatchingConfig
	logger logger.Logger
}

// NewReversalEngine creates an engine with a validated configuration
func NewReversalEngine(config *MatchingConfig, log logger.Logger) (*ReversalEngine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &ReversalEngine{
		config: config.Clone(),
		logger: logger.OrDefault(log).WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the engine configuration
func (e *ReversalEngine) Config() *MatchingConfig {
	return e.config.Clone()
}

// CheckColumns fails with a missing-column error when any required column is absent
func CheckColumns(columns models.Columns, source string) error {
	if missing := columns.Missing(models.RequiredColumns); len(missing) > 0 {
		return errors.MissingColumnError(source, missing)
	}
	return nil
}

// ProcessBlock tags the block in place. Rows are never added, removed or
// reordered. Malformed quantities and dates are not errors; such rows simply
// cannot match.
func (e *ReversalEngine) ProcessBlock(block *models.Block) (models.MatchSummary, error) {
	if err := CheckColumns(block.Columns, fmt.Sprintf("block %d", block.Index)); err != nil {
		return models.MatchSummary{}, err
	}

	records := block.Records
	var reversals, claims []int
	for i, rec := range records {
		switch {
		case rec.IsReversal():
			reversals = append(reversals, i)
		case rec.IsClaim():
			claims = append(claims, i)
		}
	}

	if len(reversals) == 0 {
		return models.Summarize(records), nil
	}

	for _, rec := range records {
		rec.ResetProvenance()
	}

	candidatesFor := func(*models.ClaimRecord) []int { return claims }
	if e.config.UseKeyIndex && len(claims) > 0 {
		idx := NewClaimIndex(records, claims)
		candidatesFor = idx.Candidates

		stats := idx.GetIndexStats()
		e.logger.WithFields(logger.Fields{
			"block":         block.Index,
			"indexed":       stats.IndexedClaims,
			"unique_keys":   stats.UniqueKeys,
			"largest_group": stats.LargestGroup,
		}).Debug("Built claim index")
	}

	for _, pos := range reversals {
		reversal := records[pos]
		reversal.Logic = models.TagOR

		chosen := e.selectCandidate(reversal, records, candidatesFor(reversal))
		if chosen < 0 {
			continue
		}

		claim := records[chosen]
		claim.Logic = models.TagOR
		claim.SelectedCount++
		reversal.Matched = true
		reversal.PartnerRowID = claim.RowID
	}

	summary := models.Summarize(records)
	e.logger.WithFields(logger.Fields{
		"block":     block.Index,
		"rows":      summary.TotalRows,
		"reversals": summary.Reversals,
		"matched":   summary.MatchedReversals,
		"unmatched": summary.UnmatchedReversals,
	}).Debug("Tagged block")

	return summary, nil
}

// selectCandidate returns the position of the chosen claim, or -1
func (e *ReversalEngine) selectCandidate(reversal *models.ClaimRecord, records []*models.ClaimRecord, candidates []int) int {
	best, bestDistance := -1, 0
	for _, pos := range candidates {
		distance, ok := e.matches(reversal, records[pos])
		if !ok {
			continue
		}
		if e.config.TieBreak == TieBreakFirst {
			return pos
		}
		if best < 0 || distance < bestDistance {
			best, bestDistance = pos, distance
		}
	}
	return best
}

// matches evaluates the match predicate and returns the absolute day distance
func (e *ReversalEngine) matches(reversal, claim *models.ClaimRecord) (int, bool) {
	if claim.NDC != reversal.NDC || claim.MemberID != reversal.MemberID {
		return 0, false
	}
	if !claim.Quantity.AbsEqual(reversal.Quantity) {
		return 0, false
	}

	days, ok := models.DaysBetween(claim.DateFilled, reversal.DateFilled)
	if !ok {
		return 0, false
	}
	if days < 0 {
		days = -days
	}
	return days, days <= e.config.DateWindowDays
}

// TagUnmatched tags every reversal in the block as an unmatched OR row and
// leaves claims untouched. It is the degraded result for a block whose
// matching pass failed.
func TagUnmatched(block *models.Block) {
	for _, rec := range block.Records {
		rec.ResetProvenance()
		if rec.IsReversal() {
			rec.Logic = models.TagOR
		}
	}
}

package matcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

var testColumns = []string{"NDC", "MemberID", "QUANTITY", "DATEFILLED", "Logic"}

type testRow struct {
	ndc, member, qty, date string
}

func newBlock(rows ...testRow) *models.Block {
	raw := make([][]string, len(rows))
	for i, r := range rows {
		raw[i] = []string{r.ndc, r.member, r.qty, r.date, ""}
	}
	rs := models.NewRecordSet(testColumns, raw)
	for i, rec := range rs.Records {
		rec.RowID = i
	}
	return &models.Block{Columns: rs.Columns, Records: rs.Records}
}

func newEngine(t *testing.T, mutate func(*MatchingConfig)) *ReversalEngine {
	t.Helper()
	config := DefaultMatchingConfig()
	if mutate != nil {
		mutate(config)
	}
	engine, err := NewReversalEngine(config, logger.NewDiscardLogger())
	require.NoError(t, err)
	return engine
}

func logicOf(block *models.Block) []string {
	tags := make([]string, block.Len())
	for i, rec := range block.Records {
		tags[i] = rec.Logic
	}
	return tags
}

func TestProcessBlock_NoReversalsIsNoOp(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "5", "2024-01-05"},
		testRow{"123", "A", "0", "2024-01-05"},
		testRow{"123", "A", "bad", "2024-01-05"},
	)
	block.Records[1].Logic = "keep"
	before := block.Clone()

	stats, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, before, block)
	assert.Zero(t, stats.Reversals)
}

func TestProcessBlock_UnmatchedReversal(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"999", "A", "5", "2024-01-10"},
		testRow{"123", "B", "5", "2024-01-10"},
		testRow{"123", "A", "4", "2024-01-10"},
	)

	stats, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, []string{"OR", "", "", ""}, logicOf(block))
	assert.False(t, block.Records[0].Matched)
	assert.True(t, block.Records[0].IsUnmatchedReversal())
	assert.Equal(t, 1, stats.UnmatchedReversals)
}

func TestProcessBlock_BasicPair(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-01-05"},
	)

	stats, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, []string{"OR", "OR"}, logicOf(block))
	assert.True(t, block.Records[0].Matched)
	assert.Equal(t, 1, block.Records[0].PartnerRowID)
	assert.Equal(t, 1, block.Records[1].SelectedCount)
	assert.Equal(t, 1, stats.MatchedReversals)
	assert.Equal(t, 1, stats.TaggedClaims)
}

func TestProcessBlock_OutsideWindow(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-03-01"},
	)

	_, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, []string{"OR", ""}, logicOf(block))
}

func TestProcessBlock_DateWindowBoundary(t *testing.T) {
	tests := []struct {
		name      string
		claimDate string
		matched   bool
	}{
		{"thirty days after", "2024-02-09", true},
		{"thirty days before", "2023-12-11", true},
		{"thirty one days after", "2024-02-10", false},
		{"thirty one days before", "2023-12-10", false},
		{"half a day inside the boundary", "2024-02-09 12:00:00", true},
		{"half a day past the earlier boundary", "2023-12-10 12:00:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := newBlock(
				testRow{"123", "A", "-5", "2024-01-10"},
				testRow{"123", "A", "5", tt.claimDate},
			)

			_, err := newEngine(t, nil).ProcessBlock(block)
			require.NoError(t, err)

			assert.Equal(t, tt.matched, block.Records[0].Matched)
			assert.Equal(t, tt.matched, block.Records[1].IsTagged())
			assert.True(t, block.Records[0].IsTagged())
		})
	}
}

func TestProcessBlock_ConfigurableWindow(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-01-13"},
	)

	_, err := newEngine(t, func(c *MatchingConfig) { c.DateWindowDays = 2 }).ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, []string{"OR", ""}, logicOf(block))
}

func TestProcessBlock_NullDatesNeverMatch(t *testing.T) {
	tests := []struct {
		name     string
		revDate  string
		claimDat string
	}{
		{"null reversal date", "", "2024-01-10"},
		{"null claim date", "2024-01-10", ""},
		{"unparseable claim date", "2024-01-10", "soon"},
		{"both null", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := newBlock(
				testRow{"123", "A", "-5", tt.revDate},
				testRow{"123", "A", "5", tt.claimDat},
			)

			_, err := newEngine(t, nil).ProcessBlock(block)
			require.NoError(t, err)

			assert.Equal(t, []string{"OR", ""}, logicOf(block))
			assert.False(t, block.Records[0].Matched)
		})
	}
}

func TestProcessBlock_FirstCandidateTieBreak(t *testing.T) {
	// The day-10 claim appears first even though the day-5 claim is closer.
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-20"},
		testRow{"123", "A", "5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-01-15"},
	)

	_, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, []string{"OR", "OR", ""}, logicOf(block))
	assert.Equal(t, 1, block.Records[0].PartnerRowID)
}

func TestProcessBlock_ClosestTieBreak(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-20"},
		testRow{"123", "A", "5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-01-15"},
		testRow{"123", "A", "5", "2024-01-25"},
	)

	_, err := newEngine(t, func(c *MatchingConfig) { c.TieBreak = TieBreakClosest }).ProcessBlock(block)
	require.NoError(t, err)

	// Days 15 and 25 are both five days away; the earlier row wins.
	assert.Equal(t, []string{"OR", "", "OR", ""}, logicOf(block))
	assert.Equal(t, 2, block.Records[0].PartnerRowID)
}

func TestProcessBlock_ClaimReuse(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "-5", "2024-01-11"},
		testRow{"123", "A", "5", "2024-01-05"},
		testRow{"123", "A", "5", "2024-01-06"},
	)

	stats, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, []string{"OR", "OR", "OR", ""}, logicOf(block))
	assert.Equal(t, 2, block.Records[2].SelectedCount)
	assert.Equal(t, 2, block.Records[0].PartnerRowID)
	assert.Equal(t, 2, block.Records[1].PartnerRowID)
	assert.Equal(t, 1, stats.ReusedClaims)
}

func TestProcessBlock_AbsoluteQuantity(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-2.50", "2024-01-10"},
		testRow{"123", "A", "2.5", "2024-01-10"},
		testRow{"123", "A", "-2.5", "2024-01-10"},
	)

	_, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	// A reversal is never a candidate for another reversal.
	assert.Equal(t, []string{"OR", "OR", "OR"}, logicOf(block))
	assert.Equal(t, 1, block.Records[0].PartnerRowID)
	assert.Equal(t, 1, block.Records[2].PartnerRowID)
}

func TestProcessBlock_KeysCompareVerbatim(t *testing.T) {
	for _, useIndex := range []bool{false, true} {
		t.Run(fmt.Sprintf("index=%v", useIndex), func(t *testing.T) {
			block := newBlock(
				testRow{" 123", "A", "5", "2024-01-05"},
				testRow{"123", "A ", "5", "2024-01-05"},
				testRow{"123", "A", "-5", "2024-01-10"},
			)

			summary, err := newEngine(t, func(c *MatchingConfig) { c.UseKeyIndex = useIndex }).ProcessBlock(block)
			require.NoError(t, err)

			assert.Equal(t, []string{"", "", "OR"}, logicOf(block))
			assert.Equal(t, 1, summary.UnmatchedReversals)
		})
	}
}

func TestProcessBlock_InvalidQuantityExcluded(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "five", "2024-01-10"},
	)
	block.Records[1].Logic = "untouched"

	stats, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, []string{"OR", "untouched"}, logicOf(block))
	assert.Equal(t, 1, stats.InvalidQuantities)
}

func TestProcessBlock_SecondPassIsStable(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-01-05"},
		testRow{"456", "B", "-1", "2024-01-10"},
		testRow{"456", "B", "1", "2024-06-01"},
		testRow{"789", "C", "3", "2024-01-10"},
	)
	engine := newEngine(t, nil)

	_, err := engine.ProcessBlock(block)
	require.NoError(t, err)
	first := block.Clone()

	_, err = engine.ProcessBlock(block)
	require.NoError(t, err)

	assert.Equal(t, first, block)
}

func TestProcessBlock_PreservesRowsAndOrder(t *testing.T) {
	block := newBlock(
		testRow{"1", "A", "5", "2024-01-05"},
		testRow{"2", "B", "-3", "2024-01-05"},
		testRow{"1", "A", "-5", "2024-01-06"},
		testRow{"2", "B", "3", "2024-01-01"},
		testRow{"3", "C", "7", ""},
	)
	before := block.Clone()

	_, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)

	require.Equal(t, before.Len(), block.Len())
	for i := range block.Records {
		assert.Equal(t, before.Records[i].RowID, block.Records[i].RowID)
		assert.Equal(t, before.Records[i].Values, block.Records[i].Values)
	}
	assert.Equal(t, []string{"OR", "OR", "OR", "OR", ""}, logicOf(block))
}

func TestProcessBlock_MissingColumn(t *testing.T) {
	block := newBlock(testRow{"123", "A", "-5", "2024-01-10"})
	block.Columns = models.Columns{"NDC", "QUANTITY", "DATEFILLED"}
	block.Index = 2

	_, err := newEngine(t, nil).ProcessBlock(block)
	require.Error(t, err)

	repErr, ok := errors.AsRepricingError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeMissingColumn, repErr.Code)
	assert.Contains(t, repErr.Message, "MemberID, Logic")
	assert.Contains(t, repErr.Message, "block 2")
	assert.Empty(t, block.Records[0].Logic, "nothing is tagged on failure")
}

func TestProcessBlock_EmptyBlock(t *testing.T) {
	block := newBlock()

	stats, err := newEngine(t, nil).ProcessBlock(block)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRows)
}

func TestProcessBlock_KeyIndexMatchesFullScan(t *testing.T) {
	var rows []testRow
	for i := 0; i < 120; i++ {
		qty := fmt.Sprintf("%d", i%4+1)
		if i%3 == 0 {
			qty = "-" + qty
		}
		rows = append(rows, testRow{
			ndc:    fmt.Sprintf("NDC%d", i%5),
			member: fmt.Sprintf("M%d", i%7),
			qty:    qty,
			date:   fmt.Sprintf("2024-%02d-%02d", i%6+1, i%27+1),
		})
	}

	for _, tieBreak := range []TieBreak{TieBreakFirst, TieBreakClosest} {
		t.Run(tieBreak.String(), func(t *testing.T) {
			scanned := newBlock(rows...)
			indexed := newBlock(rows...)

			_, err := newEngine(t, func(c *MatchingConfig) { c.TieBreak = tieBreak }).ProcessBlock(scanned)
			require.NoError(t, err)
			_, err = newEngine(t, func(c *MatchingConfig) {
				c.TieBreak = tieBreak
				c.UseKeyIndex = true
			}).ProcessBlock(indexed)
			require.NoError(t, err)

			assert.Equal(t, scanned, indexed)
		})
	}
}

func TestTagUnmatched(t *testing.T) {
	block := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-01-10"},
		testRow{"123", "A", "", "2024-01-10"},
	)

	TagUnmatched(block)

	assert.Equal(t, []string{"OR", "", ""}, logicOf(block))
	assert.True(t, block.Records[0].IsUnmatchedReversal())
}

func TestProcessBlock_ExampleScenarios(t *testing.T) {
	matched := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-01-05"},
	)
	unmatched := newBlock(
		testRow{"123", "A", "-5", "2024-01-10"},
		testRow{"123", "A", "5", "2024-03-01"},
	)
	engine := newEngine(t, nil)

	_, err := engine.ProcessBlock(matched)
	require.NoError(t, err)
	_, err = engine.ProcessBlock(unmatched)
	require.NoError(t, err)

	assert.Equal(t, []string{"OR", "OR"}, logicOf(matched))
	assert.Equal(t, []string{"OR", ""}, logicOf(unmatched))
}

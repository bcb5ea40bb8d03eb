package reconciler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

func newCoordinator(t *testing.T, workers int, policy FailurePolicy) *BlockCoordinator {
	t.Helper()
	config := DefaultConfig()
	config.Workers = workers
	config.FailurePolicy = policy
	bc, err := NewBlockCoordinator(config, logger.NewDiscardLogger())
	require.NoError(t, err)
	return bc
}

func pairRows(n int) []testRow {
	rows := make([]testRow, 0, n)
	for i := 0; i < n; i++ {
		qty := int64(5)
		if i%2 == 1 {
			qty = -5
		}
		rows = append(rows, testRow{
			id:     fmt.Sprintf("S%03d", i),
			ndc:    "123",
			member: fmt.Sprintf("M%d", i/2),
			qty:    qty,
			date:   "2024-01-10",
		})
	}
	return rows
}

func TestSplitBlocks(t *testing.T) {
	tests := []struct {
		rows  int
		n     int
		sizes []int
	}{
		{rows: 10, n: 4, sizes: []int{3, 3, 2, 2}},
		{rows: 100, n: 4, sizes: []int{25, 25, 25, 25}},
		{rows: 2, n: 4, sizes: []int{1, 1, 0, 0}},
		{rows: 0, n: 2, sizes: []int{0, 0}},
		{rows: 3, n: 0, sizes: []int{3}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d rows into %d", tt.rows, tt.n), func(t *testing.T) {
			rs := newRecordSet(pairRows(tt.rows)...)
			blocks := SplitBlocks(rs, tt.n)

			sizes := make([]int, len(blocks))
			next := 0
			for i, b := range blocks {
				sizes[i] = b.Len()
				assert.Equal(t, i, b.Index)
				for _, rec := range b.Records {
					assert.Equal(t, next, rec.RowID, "blocks are contiguous")
					next++
				}
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestBlockCoordinator_ReassemblesInOrder(t *testing.T) {
	rs := newRecordSet(pairRows(100)...)
	before := sourceIDs(rs)

	result, err := newCoordinator(t, 4, FailurePolicyFallback).Run(context.Background(), rs)
	require.NoError(t, err)

	out := result.Records
	require.Equal(t, 100, out.Len())
	assert.Equal(t, before, sourceIDs(out))
	for i, rec := range out.Records {
		assert.Equal(t, i, rec.RowID)
	}
	assert.Equal(t, 4, result.Blocks)
	assert.Equal(t, 4, result.Workers)
	assert.Len(t, result.BlockSummaries, 4)
	assert.False(t, result.Partial())

	for _, rec := range rs.Records {
		assert.Empty(t, rec.Logic, "the input record set is not modified")
	}
}

func TestBlockCoordinator_CrossBlockPairsAreNotMatched(t *testing.T) {
	rows := []testRow{
		{id: "C", ndc: "123", member: "A", qty: 5, date: "2024-01-05"},
		{id: "R", ndc: "123", member: "A", qty: -5, date: "2024-01-10"},
	}

	single, err := newCoordinator(t, 1, FailurePolicyFallback).Run(context.Background(), newRecordSet(rows...))
	require.NoError(t, err)
	assert.Equal(t, []string{"OR", "OR"}, logicTags(single.Records))

	split, err := newCoordinator(t, 2, FailurePolicyFallback).Run(context.Background(), newRecordSet(rows...))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "OR"}, logicTags(split.Records), "the claim sits in another block")
	assert.Equal(t, 1, split.Summary.UnmatchedReversals)
}

func TestBlockCoordinator_BoundaryPairsIn100Rows(t *testing.T) {
	// With 25-row blocks the pair (24, 25) straddles the first boundary.
	result, err := newCoordinator(t, 4, FailurePolicyFallback).Run(context.Background(), newRecordSet(pairRows(100)...))
	require.NoError(t, err)

	tags := logicTags(result.Records)
	assert.Equal(t, "", tags[24])
	assert.Equal(t, "OR", tags[25])
	assert.Equal(t, "OR", tags[0])
	assert.Equal(t, "OR", tags[1])
	assert.Equal(t, 48, result.Summary.MatchedReversals)
	assert.Equal(t, 2, result.Summary.UnmatchedReversals)
}

func failingBlocks(bc *BlockCoordinator, failing int, panics bool) {
	process := bc.process
	bc.process = func(block *models.Block) (models.MatchSummary, error) {
		if block.Index == failing {
			// Leave a partial mutation behind to prove it is discarded.
			for _, rec := range block.Records {
				rec.Logic = "PARTIAL"
			}
			if panics {
				panic("index out of range")
			}
			return models.MatchSummary{}, fmt.Errorf("worker crashed")
		}
		return process(block)
	}
}

func TestBlockCoordinator_FallbackPolicy(t *testing.T) {
	for _, panics := range []bool{true, false} {
		t.Run(fmt.Sprintf("panic=%v", panics), func(t *testing.T) {
			bc := newCoordinator(t, 2, FailurePolicyFallback)
			failingBlocks(bc, 1, panics)

			rs := newRecordSet(pairRows(4)...)
			result, err := bc.Run(context.Background(), rs)
			require.NoError(t, err)

			assert.Equal(t, []string{"OR", "OR", "", "OR"}, logicTags(result.Records),
				"the failed block keeps only unmatched reversal tags")
			assert.True(t, result.Partial())
			assert.Equal(t, []int{1}, result.FailedBlocks)
			require.NotNil(t, result.Failures)
			assert.True(t, result.Failures.HasCode(errors.CodeBlockFailed))
			assert.Equal(t, 4, result.Records.Len())
			assert.False(t, result.Records.Records[3].Matched)
		})
	}
}

func TestBlockCoordinator_AbortPolicy(t *testing.T) {
	bc := newCoordinator(t, 2, FailurePolicyAbort)
	failingBlocks(bc, 0, true)

	result, err := bc.Run(context.Background(), newRecordSet(pairRows(4)...))
	require.Error(t, err)
	assert.Nil(t, result)

	repErr, ok := errors.AsRepricingError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeBlockFailed, repErr.Code)
	assert.Equal(t, 5, repErr.GetExitCode())
}

func TestBlockCoordinator_MissingColumn(t *testing.T) {
	rs := newRecordSet(pairRows(2)...)
	rs.DropColumn(models.ColumnLogic)

	_, err := newCoordinator(t, 1, FailurePolicyFallback).Run(context.Background(), rs)
	repErr, ok := errors.AsRepricingError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeMissingColumn, repErr.Code)
	assert.Contains(t, repErr.Message, models.ColumnLogic)
}

func TestBlockCoordinator_MoreWorkersThanRows(t *testing.T) {
	result, err := newCoordinator(t, 4, FailurePolicyFallback).Run(context.Background(), newRecordSet(pairRows(2)...))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Records.Len())
	assert.Equal(t, []string{"", "OR"}, logicTags(result.Records))
}

func TestBlockCoordinator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newCoordinator(t, 2, FailurePolicyFallback).Run(ctx, newRecordSet(pairRows(4)...))
	assert.Error(t, err)
}

func TestWorkersFor(t *testing.T) {
	tests := map[int]int{0: 1, 1: 1, 2: 1, 4: 2, 6: 3, 8: 4, 32: 4}
	for cpus, want := range tests {
		assert.Equal(t, want, workersFor(cpus), "cpus=%d", cpus)
	}
	assert.GreaterOrEqual(t, DefaultWorkers(), 1)
	assert.LessOrEqual(t, DefaultWorkers(), MaxDefaultWorkers)
}

func TestConfig_Validate(t *testing.T) {
	config := DefaultConfig()
	assert.NoError(t, config.Validate())

	config.Workers = -1
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.FailurePolicy = "retry"
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Matching.DateWindowDays = -1
	assert.Error(t, config.Validate())

	policy, err := ParseFailurePolicy(" Abort ")
	require.NoError(t, err)
	assert.Equal(t, FailurePolicyAbort, policy)
	_, err = ParseFailurePolicy("skip")
	assert.Error(t, err)
}

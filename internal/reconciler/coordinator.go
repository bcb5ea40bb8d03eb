package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/matcher"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// BlockProcessor tags one block in place
type BlockProcessor func(block *models.Block) (models.MatchSummary, error)

// BlockCoordinator splits a record set into contiguous blocks, tags each
// block independently and concatenates the results in block order.
//
// A reversal and its claim that land in different blocks are never paired.
// Blocks are split by position, not by match key.
type BlockCoordinator struct {
	config  *Config
	engine  *matcher.ReversalEngine
	process BlockProcessor
	logger  logger.Logger
}

// CoordinatorResult is the reassembled record set with per-block outcomes
type CoordinatorResult struct {
	Records        *models.RecordSet     `json:"-"`
	Summary        models.MatchSummary   `json:"summary"`
	BlockSummaries []models.MatchSummary `json:"block_summaries"`
	Blocks         int                   `json:"blocks"`
	Workers        int                   `json:"workers"`
	FailedBlocks   []int                 `json:"failed_blocks,omitempty"`
	Failures       *errors.ErrorSummary  `json:"failures,omitempty"`
	Duration       time.Duration         `json:"duration"`
}

// Partial reports whether any block fell back to unmatched tagging
func (cr *CoordinatorResult) Partial() bool {
	return len(cr.FailedBlocks) > 0
}

// NewBlockCoordinator creates a coordinator backed by a reversal engine
func NewBlockCoordinator(config *Config, log logger.Logger) (*BlockCoordinator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	log = logger.OrDefault(log)
	engine, err := matcher.NewReversalEngine(config.Matching, log)
	if err != nil {
		return nil, err
	}

	return &BlockCoordinator{
		config:  config.Clone(),
		engine:  engine,
		process: engine.ProcessBlock,
		logger:  log.WithComponent("block_coordinator"),
	}, nil
}

// SplitBlocks partitions rs into n contiguous blocks. The first len%n blocks
// get one extra row; when n exceeds the row count the trailing blocks are
// empty. Blocks share records with rs.
func SplitBlocks(rs *models.RecordSet, n int) []*models.Block {
	if n < 1 {
		n = 1
	}

	total := rs.Len()
	base, extra := total/n, total%n
	blocks := make([]*models.Block, n)

	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		blocks[i] = &models.Block{
			Index:   i,
			Columns: rs.Columns,
			Records: rs.Records[start : start+size : start+size],
		}
		start += size
	}
	return blocks
}

// Run tags rs and returns a new record set of identical length and order.
// rs itself is not modified; every worker receives its own copy of its block.
func (bc *BlockCoordinator) Run(ctx context.Context, rs *models.RecordSet) (*CoordinatorResult, error) {
	if err := matcher.CheckColumns(rs.Columns, "record set"); err != nil {
		return nil, err
	}

	start := time.Now()
	workers := bc.config.EffectiveWorkers()
	blocks := SplitBlocks(rs, workers)

	log := bc.logger.WithFields(logger.Fields{
		"records":        rs.Len(),
		"blocks":         len(blocks),
		"workers":        workers,
		"failure_policy": bc.config.FailurePolicy,
		"tie_break":      bc.config.Matching.TieBreak,
	})
	log.Info("Starting block matching")

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "reversal matching",
		Total:       int64(rs.Len()),
		LogInterval: bc.config.ProgressInterval,
		Logger:      bc.logger,
	})

	tagged := make([]*models.Block, len(blocks))
	summaries := make([]models.MatchSummary, len(blocks))
	var (
		failuresMu sync.Mutex
		failures   = make(map[int]*errors.RepricingError)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, block := range blocks {
		block := block
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			work := block.Clone()
			summary, err := bc.runBlock(work)
			if err == nil {
				tagged[block.Index] = work
				summaries[block.Index] = summary
				tracker.Add(int64(block.Len()))
				return nil
			}

			blockErr := errors.WrapIfNeeded(err, errors.CategoryMatching, errors.CodeBlockFailed,
				fmt.Sprintf("block %d failed", block.Index)).
				WithContext("block", block.Index).
				WithContext("rows", block.Len())
			bc.logger.WithError(blockErr).WithFields(logger.Fields{
				"block": block.Index,
				"rows":  block.Len(),
			}).Error("Block matching failed")

			if bc.config.FailurePolicy == FailurePolicyAbort {
				return blockErr
			}

			fallback := block.Clone()
			matcher.TagUnmatched(fallback)
			tagged[block.Index] = fallback
			summaries[block.Index] = models.Summarize(fallback.Records)
			tracker.Add(int64(block.Len()))

			failuresMu.Lock()
			failures[block.Index] = blockErr
			failuresMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		tracker.CompleteWithError(err)
		if _, ok := errors.AsRepricingError(err); ok {
			return nil, err
		}
		return nil, errors.InternalError(errors.CodeUnexpectedError, "block matching", err)
	}
	tracker.Complete()

	out := &models.RecordSet{
		Columns: append(models.Columns(nil), rs.Columns...),
		Records: make([]*models.ClaimRecord, 0, rs.Len()),
	}
	for _, block := range tagged {
		out.Records = append(out.Records, block.Records...)
	}
	if out.Len() != rs.Len() {
		return nil, errors.MatchingError(errors.CodeRowCountMismatch, "block reassembly",
			fmt.Errorf("expected %d rows, got %d", rs.Len(), out.Len()))
	}

	result := &CoordinatorResult{
		Records:        out,
		Summary:        models.Summarize(out.Records),
		BlockSummaries: summaries,
		Blocks:         len(blocks),
		Workers:        workers,
		Duration:       time.Since(start),
	}

	if len(failures) > 0 {
		var errs []*errors.RepricingError
		for i := range blocks {
			if err, ok := failures[i]; ok {
				result.FailedBlocks = append(result.FailedBlocks, i)
				errs = append(errs, err)
			}
		}
		result.Failures = errors.NewErrorSummary(errs)
		log.WithFields(logger.Fields{
			"failed_blocks": result.FailedBlocks,
		}).Warn("Some blocks fell back to unmatched tagging; results are partial")
	}

	log.WithFields(logger.Fields{
		"matched_reversals":   result.Summary.MatchedReversals,
		"unmatched_reversals": result.Summary.UnmatchedReversals,
		"tagged_claims":       result.Summary.TaggedClaims,
		"duration":            result.Duration,
	}).Info("Block matching completed")

	return result, nil
}

// runBlock converts a panic in the matching pass into a block error
func (bc *BlockCoordinator) runBlock(block *models.Block) (summary models.MatchSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.MatchingError(errors.CodeBlockFailed, fmt.Sprintf("block %d", block.Index),
				fmt.Errorf("panic: %v", r))
		}
	}()
	return bc.process(block)
}

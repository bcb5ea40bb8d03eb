// Package reconciler prepares a loaded claims table, splits it into blocks,
// tags reversals in parallel and reassembles the result.
//
// Example usage:
//
//	pipeline, err := reconciler.NewPipeline(reconciler.DefaultConfig(), reconciler.PipelineOptions{})
//	pipeline.AddProgressCallback(func(p *reconciler.Progress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentStep)
//	})
//	result, err := pipeline.Run(ctx, &reconciler.Request{InputFile: "merged_file.xlsx"})
package reconciler

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/matcher"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
)

// FailurePolicy decides what happens to a block whose matching pass fails
type FailurePolicy string

const (
	// FailurePolicyFallback keeps the block with every reversal tagged as
	// unmatched and marks the run partial.
	FailurePolicyFallback FailurePolicy = "fallback"
	// FailurePolicyAbort fails the whole run on the first block failure.
	FailurePolicyAbort FailurePolicy = "abort"
)

// IsValid reports whether the policy is known
func (fp FailurePolicy) IsValid() bool {
	return fp == FailurePolicyFallback || fp == FailurePolicyAbort
}

func (fp FailurePolicy) String() string {
	return string(fp)
}

// ParseFailurePolicy parses a policy name, case-insensitively
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	fp := FailurePolicy(strings.ToLower(strings.TrimSpace(s)))
	if !fp.IsValid() {
		return "", fmt.Errorf("unknown failure policy %q (want %s or %s)", s, FailurePolicyFallback, FailurePolicyAbort)
	}
	return fp, nil
}

// MaxDefaultWorkers caps the worker count chosen automatically
const MaxDefaultWorkers = 4

// DefaultWorkers returns max(1, min(4, NumCPU/2))
func DefaultWorkers() int {
	return workersFor(runtime.NumCPU())
}

func workersFor(cpus int) int {
	n := cpus / 2
	if n > MaxDefaultWorkers {
		n = MaxDefaultWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Config holds the block coordinator settings
type Config struct {
	// Workers is both the number of blocks and the number of concurrent
	// matching passes. Zero selects DefaultWorkers.
	Workers       int
	FailurePolicy FailurePolicy
	Matching      *matcher.MatchingConfig

	// ProgressInterval throttles progress log lines
	ProgressInterval time.Duration
}

// DefaultConfig returns the coordinator defaults
func DefaultConfig() *Config {
	return &Config{
		Workers:          0,
		FailurePolicy:    FailurePolicyFallback,
		Matching:         matcher.DefaultMatchingConfig(),
		ProgressInterval: 5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "workers", c.Workers,
			fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if !c.FailurePolicy.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "failure-policy", c.FailurePolicy,
			fmt.Errorf("unknown failure policy %q", c.FailurePolicy))
	}
	if c.Matching == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil,
			fmt.Errorf("matching configuration is required"))
	}
	if c.ProgressInterval < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "progress-interval", c.ProgressInterval,
			fmt.Errorf("progress interval must not be negative"))
	}
	return c.Matching.Validate()
}

// EffectiveWorkers resolves the automatic worker count
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultWorkers()
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	if c.Matching != nil {
		clone.Matching = c.Matching.Clone()
	}
	return &clone
}

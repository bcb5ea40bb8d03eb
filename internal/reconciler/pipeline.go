package reconciler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/audit"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/matcher"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/models"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/internal/parsers"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/errors"
	"github.com/UWDataTrx/UW-Automation-Program-sub000/pkg/logger"
)

// AuditScript names the pipeline in audit entries
const AuditScript = "repricer"

// Request selects the input for one run: either a merged extract, or a
// claims extract and a reprice extract to merge first
type Request struct {
	InputFile   string
	ClaimsFile  string
	RepriceFile string
}

// Merged reports whether the request joins two extracts
func (r *Request) Merged() bool {
	return r.InputFile == ""
}

// Validate validates the request
func (r *Request) Validate() error {
	switch {
	case r.InputFile != "" && (r.ClaimsFile != "" || r.RepriceFile != ""):
		return errors.ConfigurationError(errors.CodeConfigConflict, "input", r.InputFile,
			fmt.Errorf("an input file cannot be combined with claims/reprice files"))
	case r.InputFile == "" && r.ClaimsFile == "":
		return errors.ValidationError(errors.CodeMissingField, "claims_file", nil, nil).
			WithSuggestion("provide a merged extract, or both a claims and a reprice extract")
	case r.InputFile == "" && r.RepriceFile == "":
		return errors.ValidationError(errors.CodeMissingField, "reprice_file", nil, nil).
			WithSuggestion("provide the reprice extract to merge with the claims extract")
	}
	return nil
}

// Sources lists the files read by the request
func (r *Request) Sources() []string {
	if !r.Merged() {
		return []string{r.InputFile}
	}
	return []string{r.ClaimsFile, r.RepriceFile}
}

// Progress reports the pipeline stage of a run
type Progress struct {
	RunID           string        `json:"run_id"`
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// ProgressCallback is called after each pipeline step
type ProgressCallback func(*Progress)

// Result is the outcome of one run
type Result struct {
	RunID       string                  `json:"run_id"`
	Records     *models.RecordSet       `json:"-"`
	Summary     models.MatchSummary     `json:"summary"`
	ParseStats  *parsers.ParseStats     `json:"parse_stats,omitempty"`
	Coordinator *CoordinatorResult      `json:"coordinator"`
	Warnings    []string                `json:"warnings,omitempty"`
	Sources     []string                `json:"sources"`
	Matching    *matcher.MatchingConfig `json:"matching"`
	StartedAt   time.Time               `json:"started_at"`
	Duration    time.Duration           `json:"duration"`
	Failures    *errors.ErrorSummary    `json:"failures,omitempty"`
}

// Partial reports whether any block fell back to unmatched tagging
func (r *Result) Partial() bool {
	return r.Coordinator != nil && r.Coordinator.Partial()
}

// PipelineOptions carries the collaborators of a pipeline. Nil fields get
// defaults; a nil Audit disables auditing.
type PipelineOptions struct {
	Loader *parsers.ClaimsLoader
	Merger *parsers.Merger
	Audit  *audit.Log
	Logger logger.Logger
}

// Pipeline loads an extract, prepares it and tags reversals block by block
type Pipeline struct {
	config      *Config
	loader      *parsers.ClaimsLoader
	merger      *parsers.Merger
	preparer    *Preparer
	coordinator *BlockCoordinator
	audit       *audit.Log
	logger      logger.Logger
	newRunID    func() string

	progressCallbacks []ProgressCallback
	currentProgress   *Progress
	progressMutex     sync.Mutex
}

const pipelineSteps = 4

// NewPipeline creates a pipeline
func NewPipeline(config *Config, opts PipelineOptions) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	log := logger.OrDefault(opts.Logger)

	coordinator, err := NewBlockCoordinator(config, log)
	if err != nil {
		return nil, err
	}

	loader := opts.Loader
	if loader == nil {
		if loader, err = parsers.NewClaimsLoader(nil, log); err != nil {
			return nil, err
		}
	}

	merger := opts.Merger
	if merger == nil {
		mergeLoader, err := parsers.NewClaimsLoader(parsers.MergeInputConfig(), log)
		if err != nil {
			return nil, err
		}
		merger = parsers.NewMerger(mergeLoader, log)
	}

	return &Pipeline{
		config:          config.Clone(),
		loader:          loader,
		merger:          merger,
		preparer:        NewPreparer(log),
		coordinator:     coordinator,
		audit:           opts.Audit,
		logger:          log.WithComponent("pipeline"),
		newRunID:        func() string { return uuid.New().String() },
		currentProgress: &Progress{TotalSteps: pipelineSteps},
	}, nil
}

// AddProgressCallback adds a progress callback function
func (p *Pipeline) AddProgressCallback(callback ProgressCallback) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()
	p.progressCallbacks = append(p.progressCallbacks, callback)
}

// Run executes one repricing run
func (p *Pipeline) Run(ctx context.Context, request *Request) (*Result, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	runID := p.newRunID()
	start := time.Now()
	log := p.logger.WithField("run_id", runID)
	p.initializeProgress(runID, start)

	log.WithFields(logger.Fields{
		"sources": request.Sources(),
		"workers": p.config.EffectiveWorkers(),
		"policy":  p.config.FailurePolicy,
	}).Info("Starting repricing run")
	p.audit.Recordf(AuditScript, audit.StatusStart, "Run %s started for %s", runID, joinBase(request.Sources()))

	result, err := p.run(ctx, request, runID, start, log)
	if err != nil {
		log.WithError(err).Error("Repricing run failed")
		p.audit.Recordf(AuditScript, audit.StatusError, "Run %s failed: %v", runID, err)
		return nil, err
	}

	result.Duration = time.Since(start)
	p.updateProgress("Completed", pipelineSteps)

	status := audit.StatusEnd
	if result.Partial() {
		status = audit.StatusWarning
	}
	p.audit.Recordf(AuditScript, status, "Run %s finished: %d rows, %d reversals, %d matched, %d unmatched, failed blocks %v",
		runID, result.Summary.TotalRows, result.Summary.Reversals, result.Summary.MatchedReversals,
		result.Summary.UnmatchedReversals, result.Coordinator.FailedBlocks)

	log.WithFields(logger.Fields{
		"rows":     result.Summary.TotalRows,
		"matched":  result.Summary.MatchedReversals,
		"partial":  result.Partial(),
		"duration": result.Duration,
	}).Info("Repricing run completed")

	return result, nil
}

func (p *Pipeline) run(ctx context.Context, request *Request, runID string, start time.Time, log logger.Logger) (*Result, error) {
	result := &Result{
		RunID:     runID,
		Sources:   request.Sources(),
		Matching:  p.config.Matching.Clone(),
		StartedAt: start,
	}

	// Step 1: load or merge
	p.updateProgress("Loading extract", 0)
	records, err := p.load(ctx, request, result)
	if err != nil {
		return nil, err
	}

	// Step 2: prepare
	p.updateProgress("Preparing records", 1)
	err = logger.TimedOperation("record preparation", log, func() error {
		return p.preparer.Prepare(records)
	})
	if err != nil {
		return nil, err
	}

	// Step 3: match
	p.updateProgress("Matching reversals", 2)
	coordinated, err := p.coordinator.Run(ctx, records)
	if err != nil {
		return nil, err
	}
	result.Coordinator = coordinated
	result.Records = coordinated.Records
	result.Summary = coordinated.Summary

	// Step 4: summarize
	p.updateProgress("Summarizing", 3)
	if coordinated.Partial() {
		result.Failures = coordinated.Failures
		warning := fmt.Sprintf("blocks %v failed and were tagged as unmatched reversals", coordinated.FailedBlocks)
		result.Warnings = append(result.Warnings, warning)
		p.addWarning(warning)
		for _, failure := range coordinated.Failures.Errors {
			p.audit.Recordf(AuditScript, audit.StatusError, "Run %s: %v", runID, failure)
		}
	}

	return result, nil
}

func (p *Pipeline) load(ctx context.Context, request *Request, result *Result) (*models.RecordSet, error) {
	if !request.Merged() {
		records, stats, err := p.loader.Load(ctx, request.InputFile)
		if err != nil {
			return nil, err
		}
		result.ParseStats = stats
		p.audit.Recordf(AuditScript, audit.StatusFile, "Loaded %s (%d rows)", filepath.Base(request.InputFile), records.Len())
		return records, nil
	}

	merged, err := p.merger.Merge(ctx, request.ClaimsFile, request.RepriceFile)
	if err != nil {
		return nil, err
	}
	for _, warning := range merged.Warnings {
		result.Warnings = append(result.Warnings, warning)
		p.addWarning(warning)
	}
	p.audit.Recordf(AuditScript, audit.StatusFile, "Merged %s and %s (%d rows)",
		filepath.Base(request.ClaimsFile), filepath.Base(request.RepriceFile), len(merged.Table.Rows))

	records := merged.RecordSet()
	stats := parsers.NewParseStats()
	stats.TotalLines = len(merged.Table.Rows) + 1
	stats.RecordsParsed = len(merged.Table.Rows)
	parsers.CollectIssues(merged.Table, records, stats)
	result.ParseStats = stats
	return records, nil
}

func (p *Pipeline) initializeProgress(runID string, start time.Time) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()

	p.currentProgress = &Progress{
		RunID:      runID,
		TotalSteps: pipelineSteps,
		StartTime:  start,
	}
}

func (p *Pipeline) addWarning(message string) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()
	p.currentProgress.Warnings = append(p.currentProgress.Warnings, message)
}

func (p *Pipeline) updateProgress(step string, completed int) {
	p.progressMutex.Lock()
	defer p.progressMutex.Unlock()

	p.currentProgress.CurrentStep = step
	p.currentProgress.CompletedSteps = completed
	p.currentProgress.ElapsedTime = time.Since(p.currentProgress.StartTime)
	p.currentProgress.PercentComplete = float64(completed) / float64(p.currentProgress.TotalSteps) * 100

	snapshot := *p.currentProgress
	snapshot.Warnings = append([]string(nil), p.currentProgress.Warnings...)
	for _, callback := range p.progressCallbacks {
		callback(&snapshot)
	}
}

func joinBase(paths []string) string {
	names := make([]string, len(paths))
	for i, path := range paths {
		names[i] = filepath.Base(path)
	}
	if len(names) == 1 {
		return names[0]
	}
	return fmt.Sprintf("%s + %s", names[0], names[1])
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/progtest/types"
)

// RunnerResult is the aggregated report of one run.
type RunnerResult struct {
	RunID string
	// Results holds one entry per selected test case, in discovery order.
	Results       []*types.TestResult
	Status        types.TestStatus
	Duration      time.Duration // sum of test durations
	WallClockTime time.Duration
	Stats         ResultStats
	IsParallel    bool
}

// ResultStats tracks test statistics for a run
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	StartTime time.Time
	EndTime   time.Time
}

// Failed returns the failing test cases in discovery order.
func (r *RunnerResult) Failed() []types.TestCase {
	var failed []types.TestCase
	for _, res := range r.Results {
		if res != nil && !res.Outcome.Passed() {
			failed = append(failed, res.Case)
		}
	}
	return failed
}

// Executor runs a single test case to completion.
type Executor interface {
	Run(ctx context.Context, runID string, tc types.TestCase) *types.TestResult
}

// TestRunner runs every test case of one run.
type TestRunner interface {
	RunAll(ctx context.Context, cases []types.TestCase) (*RunnerResult, error)
}

// Config configures a TestRunner.
type Config struct {
	Log         log.Logger
	Executor    Executor
	Concurrency int
}

var _ TestRunner = (*runner)(nil)

type runner struct {
	executor    Executor
	concurrency int
	collector   ResultCollector
	log         log.Logger
	newRunID    func() string
}

func NewTestRunner(cfg Config) (TestRunner, error) {
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency cannot be negative: %d", cfg.Concurrency)
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &runner{
		executor:    cfg.Executor,
		concurrency: concurrency,
		collector:   NewResultCollector(),
		log:         logger.New("component", "runner"),
		newRunID:    func() string { return uuid.New().String() },
	}, nil
}

// RunAll runs cases and returns the finalized result. An error is returned
// only when ctx is cancelled before all cases completed.
func (r *runner) RunAll(ctx context.Context, cases []types.TestCase) (*RunnerResult, error) {
	runID := r.newRunID()
	parallel := r.concurrency > 1 && len(cases) > 1
	r.log.Info("Running all tests", "run_id", runID, "tests", len(cases), "concurrency", r.concurrency)

	result := r.collector.NewRunResult(runID, len(cases), parallel)
	if parallel {
		pe := NewParallelExecutor(r.executor, r.concurrency, r.log)
		if err := pe.Execute(ctx, runID, cases, func(index int, res *types.TestResult) {
			r.collector.AddTestResult(result, index, res)
		}); err != nil {
			return nil, err
		}
	} else {
		for i, tc := range cases {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("test run interrupted: %w", err)
			}
			r.collector.AddTestResult(result, i, r.executor.Run(ctx, runID, tc))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("test run interrupted: %w", err)
	}

	r.collector.FinalizeResults(result)
	r.log.Info("Test run completed",
		"run_id", runID,
		"status", result.Status,
		"total", result.Stats.Total,
		"failed", result.Stats.Failed,
		"wallClock", result.WallClockTime)
	return result, nil
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// String returns a formatted string representation of the test results
func (r *RunnerResult) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Test Run Results (%s):\n", formatDuration(r.WallClockTime)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed))

	for _, res := range r.Results {
		if res == nil || res.Outcome.Passed() {
			continue
		}
		b.WriteString(fmt.Sprintf("├── Test: %s (%s) [%s]\n",
			res.Case.Source, formatDuration(res.Duration), res.Outcome))
		if sr, ok := res.FailedStageResult(); ok && sr.Detail() != "" {
			b.WriteString(fmt.Sprintf("│       └── Error: %s\n", sr.Detail()))
		}
	}
	return b.String()
}

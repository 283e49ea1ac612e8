package runner

import (
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/progtest/types"
)

var _ ResultCollector = (*resultCollector)(nil)

// ResultCollector handles aggregation of test results. It is not safe for
// concurrent use; the runner calls it from a single goroutine.
type ResultCollector interface {
	// Initialize a new run result sized for total test cases
	NewRunResult(runID string, total int, isParallel bool) *RunnerResult

	// Add the result of the test case at index
	AddTestResult(result *RunnerResult, index int, test *types.TestResult)

	// Finalize results and calculate statuses
	FinalizeResults(result *RunnerResult)
}

// resultCollector implements ResultCollector
type resultCollector struct{}

// NewResultCollector creates a new result collector
func NewResultCollector() ResultCollector {
	return &resultCollector{}
}

// NewRunResult initializes a new run result
func (c *resultCollector) NewRunResult(runID string, total int, isParallel bool) *RunnerResult {
	return &RunnerResult{
		RunID:      runID,
		Results:    make([]*types.TestResult, total),
		Status:     types.TestStatusFail,
		IsParallel: isParallel,
		Stats: ResultStats{
			StartTime: time.Now(),
		},
	}
}

// AddTestResult records test at its discovery index and updates statistics
func (c *resultCollector) AddTestResult(result *RunnerResult, index int, test *types.TestResult) {
	if result == nil {
		panic("result cannot be nil")
	}
	if test == nil {
		panic("test cannot be nil")
	}
	if index < 0 || index >= len(result.Results) {
		panic(fmt.Sprintf("test index %d out of range [0,%d)", index, len(result.Results)))
	}
	if result.Results[index] != nil {
		panic(fmt.Sprintf("test index %d recorded twice", index))
	}
	result.Results[index] = test

	result.Duration += test.Duration
	result.Stats.Total++
	switch test.Status() {
	case types.TestStatusPass:
		result.Stats.Passed++
	case types.TestStatusFail:
		result.Stats.Failed++
	}
}

// FinalizeResults calculates the final status and wall clock time
func (c *resultCollector) FinalizeResults(result *RunnerResult) {
	result.Stats.EndTime = time.Now()
	result.WallClockTime = result.Stats.EndTime.Sub(result.Stats.StartTime)

	result.Status = types.TestStatusPass
	if result.Stats.Failed > 0 || result.Stats.Total != len(result.Results) {
		result.Status = types.TestStatusFail
	}
}

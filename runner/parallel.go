package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/progtest/types"
)

// TestWork represents a unit of work that can be executed in parallel
type TestWork struct {
	Index int // position in discovery order
	Case  types.TestCase
}

// TestWorkResult contains the result of executing a TestWork
type TestWorkResult struct {
	Work   TestWork
	Result *types.TestResult
}

// ParallelExecutor runs test cases across a bounded number of workers
type ParallelExecutor struct {
	executor    Executor
	concurrency int
	log         log.Logger
}

// NewParallelExecutor creates a new parallel test executor with validation
func NewParallelExecutor(executor Executor, concurrency int, logger log.Logger) *ParallelExecutor {
	if executor == nil {
		panic("executor cannot be nil")
	}
	if concurrency < 1 {
		panic("concurrency must be at least 1")
	}

	if concurrency > MaxReasonableConcurrency {
		logger.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}

	return &ParallelExecutor{
		executor:    executor,
		concurrency: concurrency,
		log:         logger.New("component", "parallel-executor"),
	}
}

// Execute runs cases on the worker pool and hands every result to collect.
// collect is only ever called from the calling goroutine.
func (pe *ParallelExecutor) Execute(ctx context.Context, runID string, cases []types.TestCase, collect func(index int, result *types.TestResult)) error {
	start := time.Now()
	pe.log.Info("Starting parallel test execution", "totalTests", len(cases), "concurrency", pe.concurrency)

	bufferSize := min(pe.concurrency*2, MaxChannelBuffer)
	workChan := make(chan TestWork, bufferSize)
	resultChan := make(chan TestWorkResult, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < pe.concurrency; i++ {
		wg.Add(1)
		go pe.worker(ctx, i, runID, &wg, workChan, resultChan)
	}

	go func() {
		defer close(workChan)
		for i, tc := range cases {
			select {
			case workChan <- TestWork{Index: i, Case: tc}:
			case <-ctx.Done():
				pe.log.Debug("Context cancelled while sending work items")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	received := 0
	for workResult := range resultChan {
		collect(workResult.Work.Index, workResult.Result)
		received++
	}

	if received != len(cases) {
		return fmt.Errorf("test run interrupted after %d of %d tests: %w", received, len(cases), ctx.Err())
	}

	pe.log.Info("Parallel test execution completed",
		"duration", time.Since(start),
		"totalTests", len(cases))
	return nil
}

// worker processes work items until the work channel closes or ctx is done
func (pe *ParallelExecutor) worker(ctx context.Context, id int, runID string, wg *sync.WaitGroup, workChan <-chan TestWork, resultChan chan<- TestWorkResult) {
	defer wg.Done()

	workerID := fmt.Sprintf("worker-%d", id)
	pe.log.Debug("Worker starting", "workerID", workerID)
	defer pe.log.Debug("Worker exiting", "workerID", workerID)

	for {
		select {
		case work, ok := <-workChan:
			if !ok {
				return
			}
			pe.log.Debug("Worker processing test", "workerID", workerID, "test", work.Case.Source)
			result := pe.executor.Run(ctx, runID, work.Case)
			// The collector drains resultChan until every worker exits, so
			// this send never blocks forever.
			resultChan <- TestWorkResult{Work: work, Result: result}
		case <-ctx.Done():
			return
		}
	}
}

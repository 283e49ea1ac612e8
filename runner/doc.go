// Package runner drives the per-test pipeline across every selected test
// case and aggregates the outcomes into a RunnerResult.
//
// The main components are:
//   - TestRunner: runs all test cases of one run, serially or in parallel
//   - ParallelExecutor: bounded worker pool used when concurrency is above one
//   - ResultCollector: single point of aggregation for test results
//
// Test cases always run their stages sequentially inside one goroutine; only
// distinct test cases may overlap, and results are reported in discovery
// order regardless of completion order.
package runner

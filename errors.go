package progtest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/progtest/types"
)

// Phases of a harness run that can fail with a RuntimeError.
const (
	PhaseConfig    = "config"
	PhaseSetup     = "setup"
	PhaseBuild     = "build"
	PhaseDiscovery = "discovery"
	PhaseRun       = "run"
	PhaseReport    = "report"
	PhaseService   = "service"
)

// RuntimeError is a failure of the harness itself rather than of a test
// case, such as a failed build or a missing tests directory (exit code 2).
type RuntimeError struct {
	Phase string
	Err   error
}

func (e *RuntimeError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("runtime error: %v", e.Err)
	}
	return fmt.Sprintf("runtime error during %s: %v", e.Phase, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError wraps err as a failure of the given phase.
func NewRuntimeError(phase string, err error) *RuntimeError {
	return &RuntimeError{Phase: phase, Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports the test cases that failed in a completed run
// (exit code 1).
type TestFailureError struct {
	Failed []types.TestCase
	Total  int
}

func (e *TestFailureError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, tc := range e.Failed {
		names = append(names, tc.Name)
	}
	return fmt.Sprintf("test failure: %d of %d tests failed: %s", len(e.Failed), e.Total, strings.Join(names, ", "))
}

func NewTestFailureError(failed []types.TestCase, total int) *TestFailureError {
	return &TestFailureError{Failed: failed, Total: total}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

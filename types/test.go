package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
)

// Stage names one step of the per-test pipeline.
type Stage string

const (
	StageInterpret Stage = "interpret"
	StageLink      Stage = "link"
	StageExecute   Stage = "execute"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageInterpret, StageLink, StageExecute}

// TestCase is one discovered source file.
type TestCase struct {
	// Source is the path as discovered; it identifies the test in reports.
	Source string
	// Name is the base name of the symlink-resolved source and names the artifacts.
	Name string
}

// NewTestCase builds a TestCase for source. When the path cannot be resolved
// the unresolved base name is used.
func NewTestCase(source string) TestCase {
	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		resolved = source
	}
	return TestCase{
		Source: source,
		Name:   filepath.Base(resolved),
	}
}

func (tc TestCase) String() string {
	return tc.Source
}

// Outcome is either Pass or FailedAt(stage). The zero value is Pass.
type Outcome struct {
	FailedStage Stage
}

func Pass() Outcome {
	return Outcome{}
}

func FailedAt(stage Stage) Outcome {
	return Outcome{FailedStage: stage}
}

func (o Outcome) Passed() bool {
	return o.FailedStage == ""
}

func (o Outcome) String() string {
	if o.Passed() {
		return "pass"
	}
	return fmt.Sprintf("failed at %s", o.FailedStage)
}

// StageResult records a single stage invocation for diagnostics.
type StageResult struct {
	Stage    Stage
	Command  string
	ExitCode int
	TimedOut bool
	Err      error // launch or precondition failure
	Duration time.Duration
}

// Passed reports whether the stage let the pipeline continue.
func (sr StageResult) Passed() bool {
	return sr.Err == nil && !sr.TimedOut && sr.ExitCode == 0
}

// Detail summarizes why the stage failed, or returns "" when it passed.
func (sr StageResult) Detail() string {
	switch {
	case sr.Err != nil:
		return sr.Err.Error()
	case sr.TimedOut:
		return fmt.Sprintf("timed out after %s", sr.Duration.Round(time.Millisecond))
	case sr.ExitCode != 0:
		return fmt.Sprintf("exit code %d", sr.ExitCode)
	}
	return ""
}

// TestResult captures the outcome of a single test case
type TestResult struct {
	Case     TestCase
	Outcome  Outcome
	Stages   []StageResult // stages that actually ran, in order
	Duration time.Duration
}

func (tr *TestResult) Status() TestStatus {
	if tr.Outcome.Passed() {
		return TestStatusPass
	}
	return TestStatusFail
}

// FailedStageResult returns the record of the stage that failed, if any.
func (tr *TestResult) FailedStageResult() (StageResult, bool) {
	if tr.Outcome.Passed() || len(tr.Stages) == 0 {
		return StageResult{}, false
	}
	last := tr.Stages[len(tr.Stages)-1]
	return last, last.Stage == tr.Outcome.FailedStage
}

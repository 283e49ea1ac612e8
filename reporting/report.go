package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/progtest/runner"
)

// Report is the machine-readable form of a run.
type Report struct {
	RunID     string       `json:"run_id" yaml:"run_id"`
	Status    string       `json:"status" yaml:"status"`
	Total     int          `json:"total" yaml:"total"`
	Passed    int          `json:"passed" yaml:"passed"`
	Failed    int          `json:"failed" yaml:"failed"`
	StartTime time.Time    `json:"start_time" yaml:"start_time"`
	Duration  string       `json:"duration" yaml:"duration"`
	Tests     []TestReport `json:"tests" yaml:"tests"`
}

type TestReport struct {
	Source      string        `json:"source" yaml:"source"`
	Name        string        `json:"name" yaml:"name"`
	Status      string        `json:"status" yaml:"status"`
	FailedStage string        `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Duration    string        `json:"duration" yaml:"duration"`
	Stages      []StageReport `json:"stages" yaml:"stages"`
}

type StageReport struct {
	Stage    string `json:"stage" yaml:"stage"`
	Command  string `json:"command,omitempty" yaml:"command,omitempty"`
	ExitCode int    `json:"exit_code" yaml:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
	Duration string `json:"duration" yaml:"duration"`
}

// NewReport converts result into its serializable form.
func NewReport(result *runner.RunnerResult) Report {
	report := Report{
		RunID:     result.RunID,
		Status:    string(result.Status),
		Total:     result.Stats.Total,
		Passed:    result.Stats.Passed,
		Failed:    result.Stats.Failed,
		StartTime: result.Stats.StartTime,
		Duration:  result.WallClockTime.String(),
		Tests:     make([]TestReport, 0, len(result.Results)),
	}
	for _, res := range result.Results {
		if res == nil {
			continue
		}
		tr := TestReport{
			Source:      res.Case.Source,
			Name:        res.Case.Name,
			Status:      string(res.Status()),
			FailedStage: string(res.Outcome.FailedStage),
			Duration:    res.Duration.String(),
			Stages:      make([]StageReport, 0, len(res.Stages)),
		}
		for _, sr := range res.Stages {
			stage := StageReport{
				Stage:    string(sr.Stage),
				Command:  sr.Command,
				ExitCode: sr.ExitCode,
				TimedOut: sr.TimedOut,
				Duration: sr.Duration.String(),
			}
			if sr.Err != nil {
				stage.Error = sr.Err.Error()
			}
			tr.Stages = append(tr.Stages, stage)
		}
		report.Tests = append(report.Tests, tr)
	}
	return report
}

// WriteFile writes the report of result to path, as YAML when the extension
// is .yaml or .yml and as JSON otherwise.
func WriteFile(path string, result *runner.RunnerResult) error {
	report := NewReport(result)

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(report)
	default:
		data, err = json.MarshalIndent(report, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

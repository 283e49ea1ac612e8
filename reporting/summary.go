// Package reporting renders the result of a run: the failure list, the
// optional summary table and the optional machine-readable report file.
package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/progtest/runner"
	"github.com/ethereum-optimism/infra/progtest/types"
)

const (
	FailedTestsHeader = "Failed tests:"
	AllPassedMessage  = "All tests passed :)"
)

// Reporter writes run results to an output and an error stream.
type Reporter struct {
	out    io.Writer
	errOut io.Writer
}

// NewReporter returns a Reporter; nil writers default to os.Stdout and os.Stderr.
func NewReporter(out, errOut io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Reporter{out: out, errOut: errOut}
}

// Summary prints the failing test identifiers to the error stream, one per
// line, or the success line to the output stream when nothing failed.
func (r *Reporter) Summary(result *runner.RunnerResult) error {
	failed := result.Failed()
	if len(failed) == 0 {
		_, err := fmt.Fprintln(r.out, AllPassedMessage)
		return err
	}
	if _, err := fmt.Fprintln(r.errOut, FailedTestsHeader); err != nil {
		return err
	}
	for _, tc := range failed {
		if _, err := fmt.Fprintln(r.errOut, tc.Source); err != nil {
			return err
		}
	}
	return nil
}

// Table prints a per-test table with a totals footer to the output stream.
func (r *Reporter) Table(result *runner.RunnerResult) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(fmt.Sprintf("Test Results (%s)", formatDuration(result.WallClockTime)))

	t.AppendHeader(table.Row{
		"Test", "Duration", "Stage", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, res := range result.Results {
		if res == nil {
			continue
		}
		stage, detail := "-", ""
		if sr, ok := res.FailedStageResult(); ok {
			stage = string(sr.Stage)
			detail = sr.Detail()
		} else if !res.Outcome.Passed() {
			stage = string(res.Outcome.FailedStage)
		}
		t.AppendRow(table.Row{
			res.Case.Source,
			formatDuration(res.Duration),
			stage,
			getResultString(res.Status()),
			detail,
		})
	}

	if result.Status == types.TestStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("TOTAL %d (%d passed, %d failed)", result.Stats.Total, result.Stats.Passed, result.Stats.Failed),
		formatDuration(result.Duration),
		"",
		getResultString(result.Status),
		"",
	})
	t.Render()
}

// getResultString returns a marked string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	default:
		return "✗ fail"
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

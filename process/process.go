// Package process runs external commands with an optional timeout and
// normalizes how they finished.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// ExitCodeUnknown is reported when a process timed out, was killed by a
// signal or never started.
const ExitCodeUnknown = -1

// DefaultWaitDelay bounds how long Run waits for output pipes held open by
// grandchildren after the direct child has exited or been killed.
const DefaultWaitDelay = 2 * time.Second

var _ Runner = (*ExecRunner)(nil)

// Command describes one external process invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration // zero means no timeout

	// Nil writers inherit the parent's stdout and stderr.
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is how a process ended.
type Result struct {
	ExitCode int
	TimedOut bool
	Err      error // set when the process could not be started or waited for
	Duration time.Duration
}

// Success reports whether the process started, finished in time and exited 0.
func (r Result) Success() bool {
	return r.Err == nil && !r.TimedOut && r.ExitCode == 0
}

// Runner runs commands. Implementations never treat a non-zero exit or a
// timeout as an error; they are reported in the Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// ExecRunner is the os/exec backed Runner.
type ExecRunner struct {
	log       log.Logger
	waitDelay time.Duration
}

func NewExecRunner(logger log.Logger) *ExecRunner {
	if logger == nil {
		logger = log.Root()
	}
	return &ExecRunner{
		log:       logger,
		waitDelay: DefaultWaitDelay,
	}
}

func (r *ExecRunner) Run(ctx context.Context, command Command) Result {
	runCtx := ctx
	if command.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command.Name, command.Args...)
	cmd.Dir = command.Dir
	cmd.Stdout = command.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = command.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.WaitDelay = r.waitDelay
	configureProcessGroup(cmd)

	r.log.Debug("Executing command", "cmd", command.String(), "dir", command.Dir, "timeout", command.Timeout)

	start := time.Now()
	runErr := cmd.Run()
	result := Result{Duration: time.Since(start)}

	if runErr != nil && command.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		r.log.Warn("Command timed out", "cmd", command.String(), "timeout", command.Timeout)
		result.TimedOut = true
		result.ExitCode = ExitCodeUnknown
		return result
	}

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
		if ctx.Err() != nil && runErr != nil {
			result.Err = ctx.Err()
		}
		return result
	}

	if runErr == nil {
		return result
	}
	result.ExitCode = ExitCodeUnknown
	result.Err = runErr
	r.log.Debug("Command failed to start", "cmd", command.String(), "err", runErr)
	return result
}

// CommandError is returned by RunChecked when a command did not succeed.
type CommandError struct {
	Command string
	Result  Result
}

func (e *CommandError) Error() string {
	switch {
	case e.Result.Err != nil:
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Result.Err)
	case e.Result.TimedOut:
		return fmt.Sprintf("command %q timed out after %s", e.Command, e.Result.Duration.Round(time.Millisecond))
	default:
		return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.Result.ExitCode)
	}
}

func (e *CommandError) Unwrap() error {
	return e.Result.Err
}

// RunChecked runs cmd and turns any non-successful Result into a *CommandError.
func RunChecked(ctx context.Context, runner Runner, cmd Command) (Result, error) {
	result := runner.Run(ctx, cmd)
	if !result.Success() {
		return result, &CommandError{Command: cmd.String(), Result: result}
	}
	return result, nil
}

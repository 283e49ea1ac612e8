// Package pipeline drives a single test case through interpretation,
// native assembly and linking, and execution of the produced binary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/progtest/logging"
	"github.com/ethereum-optimism/infra/progtest/metrics"
	"github.com/ethereum-optimism/infra/progtest/process"
	"github.com/ethereum-optimism/infra/progtest/types"
)

const (
	// DefaultTimeout bounds every stage invocation.
	DefaultTimeout = 3 * time.Second
	DefaultLinker  = "gcc"
)

// OutputSink opens a per-test destination for child process output.
type OutputSink interface {
	Open(runID string, tc types.TestCase) (*logging.TestLog, error)
}

// Config configures a Pipeline.
type Config struct {
	Log log.Logger
	// WorkDir is the working directory of the launcher and the base for
	// relative paths.
	WorkDir string
	// ScratchDir holds the emitted assembly and linked binaries.
	ScratchDir string
	// Launcher runs a source through the interpreter and emits assembly.
	Launcher     string
	LauncherArgs []string
	// Linker is the assembler/linker invocation prefix, "gcc" by default.
	Linker  []string
	Timeout time.Duration
	Output  OutputSink // optional
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type stage struct {
	name  types.Stage
	label string
	build func(tc types.TestCase, a Artifacts) (process.Command, error)
}

// Pipeline runs the stages of one test case in order and stops at the first
// failing stage.
type Pipeline struct {
	workDir      string
	scratchDir   string
	launcher     string
	launcherArgs []string
	linker       []string
	timeout      time.Duration
	runner       process.Runner
	output       OutputSink
	log          log.Logger
	tracer       trace.Tracer
	stages       []stage
}

func New(cfg Config, runner process.Runner) (*Pipeline, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Launcher == "" {
		return nil, errors.New("launcher is required")
	}
	if cfg.ScratchDir == "" {
		return nil, errors.New("scratch directory is required")
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		workDir = wd
	}
	linker := cfg.Linker
	if len(linker) == 0 {
		linker = []string{DefaultLinker}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	p := &Pipeline{
		workDir:      workDir,
		scratchDir:   resolve(workDir, cfg.ScratchDir),
		launcher:     resolveExecutable(workDir, cfg.Launcher),
		launcherArgs: cfg.LauncherArgs,
		linker:       append([]string{resolveExecutable(workDir, linker[0])}, linker[1:]...),
		timeout:      timeout,
		runner:       runner,
		output:       cfg.Output,
		log:          logger.New("component", "pipeline"),
		tracer:       tp.Tracer("test pipeline"),
	}
	p.stages = []stage{
		{name: types.StageInterpret, label: "Interpreter", build: p.interpretCommand},
		{name: types.StageLink, label: "Linking", build: p.linkCommand},
		{name: types.StageExecute, label: "Running compiled binary", build: p.executeCommand},
	}
	return p, nil
}

// ScratchDir returns the resolved scratch directory.
func (p *Pipeline) ScratchDir() string {
	return p.scratchDir
}

// Artifacts returns the scratch paths used for tc.
func (p *Pipeline) Artifacts(tc types.TestCase) Artifacts {
	return Artifacts{
		Assembly: filepath.Join(p.scratchDir, tc.Name+AssemblySuffix),
		Binary:   filepath.Join(p.scratchDir, tc.Name+BinarySuffix),
	}
}

// Run executes all stages for tc. Failures are reported in the result,
// never as an error.
func (p *Pipeline) Run(ctx context.Context, runID string, tc types.TestCase) *types.TestResult {
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("test %s", tc.Name))
	defer span.End()

	logger := p.log.New("test", tc.Source)
	logger.Info("Running test")

	start := time.Now()
	result := &types.TestResult{Case: tc, Outcome: types.Pass()}
	artifacts := p.Artifacts(tc)

	if err := artifacts.Clean(); err != nil {
		logger.Error("Failed to clean artifacts", "err", err)
		result.Stages = append(result.Stages, types.StageResult{
			Stage:    types.StageInterpret,
			ExitCode: process.ExitCodeUnknown,
			Err:      err,
		})
		result.Outcome = types.FailedAt(types.StageInterpret)
		return p.finish(span, result, start)
	}

	out := p.openOutput(runID, tc, logger)
	if out != nil {
		defer func() {
			if err := out.Close(); err != nil {
				logger.Warn("Failed to close test log", "err", err)
			}
		}()
	}

	for _, st := range p.stages {
		sr := p.runStage(ctx, st, tc, artifacts, out, logger)
		result.Stages = append(result.Stages, sr)
		metrics.RecordStage(st.name, sr.Passed(), sr.Duration)
		if !sr.Passed() {
			logger.Warn("Stage failed", "stage", st.name, "detail", sr.Detail())
			result.Outcome = types.FailedAt(st.name)
			break
		}
	}
	return p.finish(span, result, start)
}

func (p *Pipeline) finish(span trace.Span, result *types.TestResult, start time.Time) *types.TestResult {
	result.Duration = time.Since(start)
	metrics.RecordTestResult(result.Status(), result.Outcome.FailedStage)
	span.SetAttributes(
		attribute.String("test.source", result.Case.Source),
		attribute.String("test.status", string(result.Status())),
	)
	if !result.Outcome.Passed() {
		span.SetStatus(codes.Error, result.Outcome.String())
	}
	return result
}

func (p *Pipeline) runStage(ctx context.Context, st stage, tc types.TestCase, artifacts Artifacts, out *logging.TestLog, logger log.Logger) types.StageResult {
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("stage %s", st.name))
	defer span.End()

	logger.Info(st.label, "stage", st.name)
	sr := types.StageResult{Stage: st.name}

	if err := ctx.Err(); err != nil {
		sr.ExitCode = process.ExitCodeUnknown
		sr.Err = err
		return sr
	}

	cmd, err := st.build(tc, artifacts)
	if err != nil {
		sr.ExitCode = process.ExitCodeUnknown
		sr.Err = err
		span.SetStatus(codes.Error, err.Error())
		return sr
	}
	cmd.Timeout = p.timeout
	if out != nil {
		if err := out.Section(st.label); err != nil {
			logger.Warn("Failed to write test log section", "err", err)
		}
		cmd.Stdout = out.Stdout()
		cmd.Stderr = out.Stderr()
	}
	sr.Command = cmd.String()

	res := p.runner.Run(ctx, cmd)
	sr.ExitCode = res.ExitCode
	sr.TimedOut = res.TimedOut
	sr.Err = res.Err
	sr.Duration = res.Duration

	span.SetAttributes(
		attribute.String("stage.command", sr.Command),
		attribute.Int("stage.exit_code", sr.ExitCode),
		attribute.Bool("stage.timed_out", sr.TimedOut),
	)
	if !sr.Passed() {
		span.SetStatus(codes.Error, sr.Detail())
	}
	return sr
}

func (p *Pipeline) interpretCommand(tc types.TestCase, _ Artifacts) (process.Command, error) {
	args := append(append([]string{}, p.launcherArgs...), tc.Source)
	return process.Command{
		Name: p.launcher,
		Args: args,
		Dir:  p.workDir,
	}, nil
}

func (p *Pipeline) linkCommand(_ types.TestCase, a Artifacts) (process.Command, error) {
	if _, err := os.Stat(a.Assembly); err != nil {
		return process.Command{}, fmt.Errorf("assembly %s was not produced: %w", a.Assembly, err)
	}
	args := append(append([]string{}, p.linker[1:]...), a.Assembly, "-o", a.Binary)
	return process.Command{
		Name: p.linker[0],
		Args: args,
		Dir:  p.workDir,
	}, nil
}

func (p *Pipeline) executeCommand(_ types.TestCase, a Artifacts) (process.Command, error) {
	return process.Command{
		Name: a.Binary,
		Dir:  p.workDir,
	}, nil
}

func (p *Pipeline) openOutput(runID string, tc types.TestCase, logger log.Logger) *logging.TestLog {
	if p.output == nil {
		return nil
	}
	out, err := p.output.Open(runID, tc)
	if err != nil {
		logger.Warn("Failed to open test log, output goes to the terminal only", "err", err)
		metrics.RecordErrorDetails("test_log", err)
		return nil
	}
	return out
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

// resolveExecutable leaves bare names for PATH lookup and anchors relative
// paths at base.
func resolveExecutable(base, name string) string {
	if !strings.ContainsRune(name, '/') && !strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	return resolve(base, name)
}

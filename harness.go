package progtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/progtest/build"
	"github.com/ethereum-optimism/infra/progtest/discovery"
	"github.com/ethereum-optimism/infra/progtest/exitcodes"
	"github.com/ethereum-optimism/infra/progtest/logging"
	"github.com/ethereum-optimism/infra/progtest/metrics"
	"github.com/ethereum-optimism/infra/progtest/pipeline"
	"github.com/ethereum-optimism/infra/progtest/process"
	"github.com/ethereum-optimism/infra/progtest/reporting"
	"github.com/ethereum-optimism/infra/progtest/runner"
	"github.com/ethereum-optimism/infra/progtest/service"
	"github.com/ethereum-optimism/infra/progtest/types"
)

// harness implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &harness{}

// harness builds the toolchain and runs every selected test case through
// the pipeline, once or periodically.
type harness struct {
	ctx      context.Context
	config   *Config
	version  string
	builder  *build.Trigger
	pipeline *pipeline.Pipeline
	runner   runner.TestRunner
	reporter *reporting.Reporter
	service  *service.Service
	result   *runner.RunnerResult

	running     atomic.Bool
	done        chan struct{}
	wg          sync.WaitGroup
	stopSvcOnce sync.Once

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*harness, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config.Log is required")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating harness with config",
		"projectDir", config.ProjectDir,
		"testsDir", config.TestsDir,
		"pattern", config.Pattern,
		"concurrency", config.Concurrency,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	procRunner := process.NewExecRunner(config.Log)

	builder, err := build.NewTrigger(build.Config{
		Log:     config.Log,
		Command: config.BuildCommand,
		Dir:     config.ProjectDir,
		Timeout: config.BuildTimeout,
		Archive: config.Archive,
		DestDir: config.ProjectDir,
	}, procRunner)
	if err != nil {
		return nil, fmt.Errorf("failed to create build trigger: %w", err)
	}

	var output pipeline.OutputSink
	if config.LogDir != "" {
		sink, err := logging.NewFileSink(config.LogDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create test log sink: %w", err)
		}
		output = sink
	}

	pl, err := pipeline.New(pipeline.Config{
		Log:          config.Log,
		WorkDir:      config.ProjectDir,
		ScratchDir:   config.ScratchDir,
		Launcher:     config.Launcher,
		LauncherArgs: config.LauncherArgs,
		Linker:       config.Linker,
		Timeout:      config.Timeout,
		Output:       output,
	}, procRunner)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	testRunner, err := runner.NewTestRunner(runner.Config{
		Log:         config.Log,
		Executor:    pl,
		Concurrency: config.Concurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}
	config.Log.Info("harness.New: created build trigger, pipeline and test runner")

	return &harness{
		ctx:      ctx,
		config:   config,
		version:  version,
		builder:  builder,
		pipeline: pl,
		runner:   testRunner,
		reporter: reporting.NewReporter(config.Stdout, config.Stderr),
		service: service.New(service.Config{
			Log:         config.Log,
			HealthzAddr: config.HealthzAddr,
			Metrics:     config.Metrics,
		}),
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the tests immediately and, in continuous mode, periodically
// at the configured interval.
// Start implements the cliapp.Lifecycle interface.
func (h *harness) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			h.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	h.ctx = ctx
	h.done = make(chan struct{})
	h.running.Store(true)

	if h.config.RunOnce {
		h.config.Log.Info("Starting progtest in run-once mode", "version", h.version)
	} else {
		h.config.Log.Info("Starting progtest in continuous mode", "version", h.version, "interval", h.config.RunInterval)
	}

	if h.service.Enabled() {
		if err := h.service.Start(ctx); err != nil {
			h.running.Store(false)
			return NewRuntimeError(PhaseService, err)
		}
	}

	// Run tests immediately on startup
	if err := h.runTests(ctx); err != nil {
		h.config.Log.Error("Runtime error running tests", "error", err)
		if h.config.RunOnce {
			h.stopService()
			h.running.Store(false)
			return err
		}
	}

	if h.config.RunOnce {
		h.config.Log.Info("Tests completed, exiting (run-once mode)")
		h.stopService()

		if h.result != nil && h.result.Status == types.TestStatusFail {
			h.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			h.running.Store(false)
			return NewTestFailureError(h.result.Failed(), h.result.Stats.Total)
		}

		go func() {
			h.shutdownCallback(nil)
		}()
		return nil
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.config.Log.Debug("Starting periodic test runner goroutine", "interval", h.config.RunInterval)

		for {
			select {
			case <-time.After(h.config.RunInterval):
				if !h.running.Load() {
					h.config.Log.Debug("Harness stopped, exiting periodic test runner")
					return
				}

				h.config.Log.Info("Running periodic tests")
				if err := h.runTests(ctx); err != nil {
					h.config.Log.Error("Error running periodic tests", "error", err)
				}
				h.config.Log.Info("Test run interval", "interval", h.config.RunInterval)

			case <-h.done:
				h.config.Log.Debug("Done signal received, stopping periodic test runner")
				return

			case <-ctx.Done():
				h.config.Log.Debug("Context canceled, stopping periodic test runner")
				h.running.Store(false)
				return
			}
		}
	}()
	h.config.Log.Debug("progtest started successfully")
	return nil
}

// runTests performs one full run: build, select, execute, report.
// Every returned error is a *RuntimeError; test failures are reported
// through h.result.
func (h *harness) runTests(ctx context.Context) error {
	if err := h.builder.Run(ctx); err != nil {
		return NewRuntimeError(PhaseBuild, err)
	}

	cases, err := discovery.Select(h.config.TestsDir, h.config.Suffix, h.config.Pattern)
	if err != nil {
		metrics.RecordErrorDetails("discovery", err)
		return NewRuntimeError(PhaseDiscovery, err)
	}
	if len(cases) == 0 {
		h.config.Log.Warn("No test cases selected", "testsDir", h.config.TestsDir, "pattern", h.config.Pattern)
	}

	if err := os.MkdirAll(h.pipeline.ScratchDir(), 0755); err != nil {
		return NewRuntimeError(PhaseSetup, fmt.Errorf("failed to create scratch directory: %w", err))
	}

	h.config.Log.Info("Running all tests...", "tests", len(cases))
	result, err := h.runner.RunAll(ctx, cases)
	if err != nil {
		return NewRuntimeError(PhaseRun, err)
	}
	h.result = result

	if h.config.SummaryTable {
		h.reporter.Table(result)
	}
	if err := h.reporter.Summary(result); err != nil {
		h.config.Log.Warn("Failed to print summary", "err", err)
	}
	if h.config.ReportFile != "" {
		if err := reporting.WriteFile(h.config.ReportFile, result); err != nil {
			metrics.RecordErrorDetails("report", err)
			return NewRuntimeError(PhaseReport, err)
		}
		h.config.Log.Info("Wrote report", "path", h.config.ReportFile)
	}

	metrics.RecordRun(result.RunID, result.Status, result.Stats.Total, result.Stats.Passed, result.Stats.Failed, result.WallClockTime)
	h.config.Log.Info("Test run completed", "run_id", result.RunID, "status", result.Status)
	return nil
}

// Stop stops the harness.
// Stop implements the cliapp.Lifecycle interface.
func (h *harness) Stop(ctx context.Context) error {
	h.config.Log.Info("Stopping progtest")

	if !h.running.Load() {
		h.config.Log.Debug("Harness already stopped, nothing to do")
		return nil
	}

	h.running.Store(false)
	close(h.done)
	h.wg.Wait()
	h.stopService()

	h.config.Log.Info("progtest stopped successfully")
	return nil
}

// Stopped returns true if the harness is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (h *harness) Stopped() bool {
	return !h.running.Load()
}

func (h *harness) stopService() {
	if !h.service.Enabled() {
		return
	}
	h.stopSvcOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.service.Shutdown(ctx)
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	progtest "github.com/ethereum-optimism/infra/progtest"
	"github.com/ethereum-optimism/infra/progtest/exitcodes"
	"github.com/ethereum-optimism/infra/progtest/flags"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "progtest"
	app.Usage = "Toolchain end-to-end test harness"
	app.Description = "progtest builds the toolchain, then interprets, links and runs every selected test program"
	app.ArgsUsage = "[pattern]"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeFor(err)))
	}

	// Exporters stay disabled unless OTEL_EXPORTER_OTLP_TRACES_ENDPOINT is set
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCodeFor maps an application error to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case progtest.IsRuntimeError(err):
		return exitcodes.RuntimeErr
	case progtest.IsTestFailureError(err):
		return exitcodes.TestFailure
	default:
		return exitcodes.TestFailure
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := progtest.NewConfig(ctx, log)
	if err != nil {
		return nil, progtest.NewRuntimeError(progtest.PhaseConfig, fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	h, err := progtest.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, progtest.NewRuntimeError(progtest.PhaseSetup, fmt.Errorf("failed to create harness: %w", err))
	}

	return h, nil
}

package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "PROGTEST"

// Defaults match the layout of the compiler playground project.
const (
	DefaultTestsDir     = "programs/source"
	DefaultSuffix       = ".prog"
	DefaultScratchDir   = "tmp"
	DefaultBuildCommand = "./gradlew build"
	DefaultArchive      = "build/distributions/compiler-playground-1.0-SNAPSHOT.zip"
	DefaultLauncher     = "compiler-playground-1.0-SNAPSHOT/bin/compiler-playground"
	DefaultLinker       = "gcc"
	DefaultTimeout      = 3 * time.Second
	DefaultConcurrency  = 1
)

var (
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to a YAML config file; explicit flags take precedence over its values",
	}
	ProjectDir = &cli.StringFlag{
		Name:    "project-dir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROJECT_DIR"),
		Usage:   "Root of the toolchain project; relative paths are resolved against it",
	}
	TestsDir = &cli.StringFlag{
		Name:    "tests-dir",
		Value:   DefaultTestsDir,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTS_DIR"),
		Usage:   "Directory from which to discover test sources",
	}
	Suffix = &cli.StringFlag{
		Name:    "suffix",
		Value:   DefaultSuffix,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUFFIX"),
		Usage:   "File name suffix of test sources",
	}
	ScratchDir = &cli.StringFlag{
		Name:    "scratch-dir",
		Value:   DefaultScratchDir,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SCRATCH_DIR"),
		Usage:   "Directory receiving emitted assembly and linked binaries",
	}
	BuildCommand = &cli.StringFlag{
		Name:    "build-cmd",
		Value:   DefaultBuildCommand,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILD_CMD"),
		Usage:   "Build tool invocation, split on whitespace",
	}
	SkipBuild = &cli.BoolFlag{
		Name:    "skip-build",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SKIP_BUILD"),
		Usage:   "Skip building and unpacking the toolchain",
	}
	BuildTimeout = &cli.DurationFlag{
		Name:    "build-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BUILD_TIMEOUT"),
		Usage:   "Timeout for the build tool (e.g. '10m'). 0 disables the timeout.",
	}
	Archive = &cli.StringFlag{
		Name:    "archive",
		Value:   DefaultArchive,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARCHIVE"),
		Usage:   "Distribution archive produced by the build, unpacked into the project directory",
	}
	Launcher = &cli.StringFlag{
		Name:    "launcher",
		Value:   DefaultLauncher,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LAUNCHER"),
		Usage:   "Toolchain launcher that interprets a source and emits its assembly",
	}
	Linker = &cli.StringFlag{
		Name:    "linker",
		Value:   DefaultLinker,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LINKER"),
		Usage:   "Native assembler/linker invocation prefix, split on whitespace",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   DefaultTimeout,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Timeout for every stage invocation",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   DefaultConcurrency,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of test cases run at once",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory for per-test output logs. Empty disables them.",
	}
	ReportFile = &cli.StringFlag{
		Name:    "report-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_FILE"),
		Usage:   "Write a machine-readable report (.json, .yaml or .yml)",
	}
	SummaryTable = &cli.BoolFlag{
		Name:    "summary-table",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUMMARY_TABLE"),
		Usage:   "Print a per-test results table",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the healthz endpoint (e.g. '0.0.0.0:8080'). Empty disables it.",
	}
)

var optionalFlags = []cli.Flag{
	ConfigFile,
	ProjectDir,
	TestsDir,
	Suffix,
	ScratchDir,
	BuildCommand,
	SkipBuild,
	BuildTimeout,
	Archive,
	Launcher,
	Linker,
	Timeout,
	Concurrency,
	LogDir,
	ReportFile,
	SummaryTable,
	RunInterval,
	HealthzAddr,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = optionalFlags
}

// CheckArgs validates the positional arguments: at most one test filter.
func CheckArgs(ctx *cli.Context) error {
	if ctx.NArg() > 1 {
		return fmt.Errorf("expected at most one test pattern, got %d arguments: %v", ctx.NArg(), ctx.Args().Slice())
	}
	return nil
}

package progtest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/progtest/flags"
)

// Config holds the application configuration
type Config struct {
	ProjectDir   string        // Root of the toolchain project, absolute
	TestsDir     string        // Directory holding the test sources
	Suffix       string        // Suffix of test source files
	Pattern      string        // Substring filter; empty selects every test
	ScratchDir   string        // Directory receiving assembly and binaries
	BuildCommand []string      // Build tool invocation; empty skips the build
	BuildTimeout time.Duration // Zero disables the build timeout
	Archive      string        // Distribution archive; empty skips unpacking
	Launcher     string
	LauncherArgs []string
	Linker       []string
	Timeout      time.Duration // Timeout applied to every stage invocation
	Concurrency  int           // Number of test cases run at once
	LogDir       string        // Directory for per-test logs; empty disables them
	ReportFile   string        // Machine-readable report path; empty disables it
	SummaryTable bool
	RunInterval  time.Duration // Interval between test runs
	RunOnce      bool          // Indicates if the harness should exit after one test run
	HealthzAddr  string
	Metrics      opmetrics.CLIConfig
	Stdout       io.Writer // nil means os.Stdout
	Stderr       io.Writer // nil means os.Stderr
	Log          log.Logger
}

// FileConfig is the YAML config file layout. Zero values leave the
// corresponding setting untouched.
type FileConfig struct {
	ProjectDir string `yaml:"project_dir"`
	TestsDir   string `yaml:"tests_dir"`
	Suffix     string `yaml:"suffix"`
	ScratchDir string `yaml:"scratch_dir"`
	Build      struct {
		Command []string      `yaml:"command"`
		Timeout time.Duration `yaml:"timeout"`
		Archive string        `yaml:"archive"`
		Skip    bool          `yaml:"skip"`
	} `yaml:"build"`
	Launcher     string        `yaml:"launcher"`
	LauncherArgs []string      `yaml:"launcher_args"`
	Linker       []string      `yaml:"linker"`
	Timeout      time.Duration `yaml:"timeout"`
	Concurrency  int           `yaml:"concurrency"`
	LogDir       string        `yaml:"log_dir"`
	ReportFile   string        `yaml:"report_file"`
	SummaryTable bool          `yaml:"summary_table"`
	RunInterval  time.Duration `yaml:"run_interval"`
	HealthzAddr  string        `yaml:"healthz_addr"`
}

// LoadFileConfig reads and decodes a YAML config file.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// NewConfig creates a new Config from cli context. Explicitly set flags win
// over the config file, which wins over flag defaults.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckArgs(ctx); err != nil {
		return nil, err
	}

	fc := &FileConfig{}
	if path := ctx.String(flags.ConfigFile.Name); path != "" {
		loaded, err := LoadFileConfig(path)
		if err != nil {
			return nil, err
		}
		fc = loaded
	}

	buildCommand := strings.Fields(ctx.String(flags.BuildCommand.Name))
	if !ctx.IsSet(flags.BuildCommand.Name) && len(fc.Build.Command) > 0 {
		buildCommand = fc.Build.Command
	}
	archive := stringOpt(ctx, flags.Archive.Name, fc.Build.Archive)
	if boolOpt(ctx, flags.SkipBuild.Name, fc.Build.Skip) {
		buildCommand = nil
		archive = ""
	}

	linker := strings.Fields(ctx.String(flags.Linker.Name))
	if !ctx.IsSet(flags.Linker.Name) && len(fc.Linker) > 0 {
		linker = fc.Linker
	}

	runInterval := durationOpt(ctx, flags.RunInterval.Name, fc.RunInterval)

	cfg := &Config{
		ProjectDir:   stringOpt(ctx, flags.ProjectDir.Name, fc.ProjectDir),
		TestsDir:     stringOpt(ctx, flags.TestsDir.Name, fc.TestsDir),
		Suffix:       stringOpt(ctx, flags.Suffix.Name, fc.Suffix),
		Pattern:      ctx.Args().First(),
		ScratchDir:   stringOpt(ctx, flags.ScratchDir.Name, fc.ScratchDir),
		BuildCommand: buildCommand,
		BuildTimeout: durationOpt(ctx, flags.BuildTimeout.Name, fc.Build.Timeout),
		Archive:      archive,
		Launcher:     stringOpt(ctx, flags.Launcher.Name, fc.Launcher),
		LauncherArgs: fc.LauncherArgs,
		Linker:       linker,
		Timeout:      durationOpt(ctx, flags.Timeout.Name, fc.Timeout),
		Concurrency:  intOpt(ctx, flags.Concurrency.Name, fc.Concurrency),
		LogDir:       stringOpt(ctx, flags.LogDir.Name, fc.LogDir),
		ReportFile:   stringOpt(ctx, flags.ReportFile.Name, fc.ReportFile),
		SummaryTable: boolOpt(ctx, flags.SummaryTable.Name, fc.SummaryTable),
		RunInterval:  runInterval,
		RunOnce:      runInterval == 0,
		HealthzAddr:  stringOpt(ctx, flags.HealthzAddr.Name, fc.HealthzAddr),
		Metrics:      opmetrics.ReadCLIConfig(ctx),
		Log:          log,
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Check validates a resolved config.
func (c *Config) Check() error {
	if c.TestsDir == "" {
		return errors.New("tests directory is required")
	}
	if c.ScratchDir == "" {
		return errors.New("scratch directory is required")
	}
	if c.Suffix == "" {
		return errors.New("test suffix is required")
	}
	if c.Launcher == "" {
		return errors.New("launcher is required")
	}
	if len(c.Linker) == 0 {
		return errors.New("linker is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.RunInterval < 0 {
		return fmt.Errorf("run interval cannot be negative, got %s", c.RunInterval)
	}
	return nil
}

// resolvePaths makes the project directory absolute and anchors the other
// relative paths at it.
func (c *Config) resolvePaths() error {
	projectDir := c.ProjectDir
	if projectDir == "" {
		projectDir = "."
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for project directory '%s': %w", projectDir, err)
	}
	c.ProjectDir = abs
	for _, p := range []*string{&c.TestsDir, &c.ScratchDir, &c.Archive, &c.LogDir, &c.ReportFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(abs, *p)
		}
	}
	return nil
}

func stringOpt(ctx *cli.Context, name string, fileValue string) string {
	if ctx.IsSet(name) || fileValue == "" {
		return ctx.String(name)
	}
	return fileValue
}

func durationOpt(ctx *cli.Context, name string, fileValue time.Duration) time.Duration {
	if ctx.IsSet(name) || fileValue == 0 {
		return ctx.Duration(name)
	}
	return fileValue
}

func intOpt(ctx *cli.Context, name string, fileValue int) int {
	if ctx.IsSet(name) || fileValue == 0 {
		return ctx.Int(name)
	}
	return fileValue
}

func boolOpt(ctx *cli.Context, name string, fileValue bool) bool {
	if ctx.IsSet(name) || !fileValue {
		return ctx.Bool(name)
	}
	return fileValue
}

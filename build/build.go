// Package build produces the toolchain under test: it runs the build tool
// and unpacks the resulting distribution archive.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/progtest/metrics"
	"github.com/ethereum-optimism/infra/progtest/process"
)

// Config configures a Trigger.
type Config struct {
	Log log.Logger
	// Command is the build tool invocation; empty skips the build step.
	Command []string
	// Dir is where the build tool runs.
	Dir     string
	Timeout time.Duration
	// Archive is the distribution zip; empty skips unpacking.
	Archive string
	// DestDir receives the unpacked archive.
	DestDir string
}

// Trigger runs the build once per harness run. Every failure is fatal to
// the run.
type Trigger struct {
	cfg    Config
	runner process.Runner
	log    log.Logger
}

func NewTrigger(cfg Config, runner process.Runner) (*Trigger, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Archive != "" && cfg.DestDir == "" {
		return nil, errors.New("destination directory is required when an archive is set")
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &Trigger{
		cfg:    cfg,
		runner: runner,
		log:    logger.New("component", "build"),
	}, nil
}

// Run builds and unpacks.
func (t *Trigger) Run(ctx context.Context) error {
	start := time.Now()
	if len(t.cfg.Command) > 0 {
		cmd := process.Command{
			Name:    t.cfg.Command[0],
			Args:    t.cfg.Command[1:],
			Dir:     t.cfg.Dir,
			Timeout: t.cfg.Timeout,
		}
		t.log.Info("Building toolchain", "cmd", cmd.String(), "dir", cmd.Dir)
		if _, err := process.RunChecked(ctx, t.runner, cmd); err != nil {
			metrics.RecordErrorDetails("build", err)
			return fmt.Errorf("build failed: %w", err)
		}
	} else {
		t.log.Info("Build step skipped")
	}

	if t.cfg.Archive != "" {
		t.log.Info("Unpacking distribution", "archive", t.cfg.Archive, "dest", t.cfg.DestDir)
		written, err := Unpack(t.cfg.Archive, t.cfg.DestDir)
		if err != nil {
			metrics.RecordErrorDetails("unpack", err)
			return fmt.Errorf("failed to unpack %s: %w", t.cfg.Archive, err)
		}
		t.log.Debug("Unpacked distribution", "files_written", written)
	}

	metrics.RecordBuild(time.Since(start))
	return nil
}

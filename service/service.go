// Package service runs the optional HTTP endpoints of a long-running
// harness: the healthz probe and the Prometheus metrics server.
package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/progtest/metrics"
)

type Config struct {
	Log log.Logger
	// HealthzAddr is the healthz listen address; empty disables it.
	HealthzAddr string
	Metrics     opmetrics.CLIConfig
}

type Service struct {
	cfg     Config
	log     log.Logger
	Healthz *HealthzServer
	Metrics *httputil.HTTPServer
}

func New(cfg Config) *Service {
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	logger = logger.New("component", "service")
	return &Service{
		cfg:     cfg,
		log:     logger,
		Healthz: NewHealthzServer(logger),
	}
}

// Enabled reports whether any endpoint is configured.
func (s *Service) Enabled() bool {
	return s.cfg.HealthzAddr != "" || s.cfg.Metrics.Enabled
}

func (s *Service) Start(ctx context.Context) error {
	s.log.Info("service starting")

	if s.cfg.HealthzAddr != "" {
		if err := s.Healthz.Start(s.cfg.HealthzAddr); err != nil {
			metrics.RecordErrorDetails("healthz", err)
			return fmt.Errorf("failed to start healthz server: %w", err)
		}
		s.log.Info("Started healthz server", "endpoint", s.Healthz.Addr())
	}

	if s.cfg.Metrics.Enabled {
		metricsCfg := s.cfg.Metrics
		s.log.Info("Starting metrics server", "addr", metricsCfg.ListenAddr, "port", metricsCfg.ListenPort)
		metricsServer, err := opmetrics.StartServer(metrics.Registry(), metricsCfg.ListenAddr, metricsCfg.ListenPort)
		if err != nil {
			_ = s.Healthz.Shutdown(ctx)
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		s.log.Info("Started metrics server", "endpoint", metricsServer.Addr())
		s.Metrics = metricsServer
	}

	s.log.Info("service started")
	return nil
}

func (s *Service) Shutdown(ctx context.Context) {
	s.log.Info("service shutting down")

	if err := s.Healthz.Shutdown(ctx); err != nil {
		s.log.Warn("failed to stop healthz server", "err", err)
	}
	if s.Metrics != nil {
		if err := s.Metrics.Stop(ctx); err != nil {
			s.log.Warn("failed to stop metrics server", "err", err)
		}
	}

	s.log.Info("service stopped")
}

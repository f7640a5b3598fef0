package usecase

import (
	"context"
	"log/slog"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

// Scheduler binds the interval driver to the pipeline for watch mode.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	channels []domain.Channel
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, channels []domain.Channel, logger *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, channels: channels, logger: logger}
}

// Start registers the pipeline with the provided scheduler. A failed run is
// logged and the next tick proceeds, keeping watch mode alive.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(time.Time) {
		if err := s.pipeline.Run(ctx, s.channels); err != nil && s.logger != nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

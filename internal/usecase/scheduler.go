package usecase

import (
	"context"
	"time"

	"MailPrompter/internal/domain"
	"MailPrompter/internal/ports"
)

// Scheduler wires the cron driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	phases   []domain.Phase
}

// NewScheduler returns a helper to start/stop recurring runs of the given phases.
// No phases means all of them.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, phases ...domain.Phase) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, phases: phases}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.pipeline.logger.Info("scheduled run triggered", "at", trigger)
		s.pipeline.Run(ctx, s.phases...)
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

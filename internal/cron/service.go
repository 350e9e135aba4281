package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs the registered jobs in order, once per interval, on whichever
// replica holds the lock.
type Service struct {
	logg     *logger.Logger
	jobs     *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.Lock == nil:
		return nil, errors.New("lock required")
	}
	if p.Registry == nil {
		p.Registry = NewRegistry()
	}
	if p.Interval <= 0 {
		p.Interval = defaultInterval
	}
	return &Service{
		logg:     p.Logger,
		jobs:     p.Registry,
		lock:     p.Lock,
		metrics:  p.Metrics,
		interval: p.Interval,
	}, nil
}

// Run starts a cycle right away and then one per tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs one locked cycle. Job errors are logged and counted but do
// not stop the cycle. The lease is refreshed before every job after the
// first, and a lost lease ends the cycle early.
func (s *Service) RunOnce(ctx context.Context) error {
	won, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !won {
		s.metrics.CycleSkipped()
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for i, job := range s.jobs.Jobs() {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.lock.Refresh(ctx); err != nil {
				return fmt.Errorf("before %s: %w", job.Name(), err)
			}
		}
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	ctx = s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	start := time.Now()
	err := job.Run(ctx)
	took := time.Since(start)
	s.metrics.ObserveRun(job.Name(), took, err)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
		return
	}
	s.logg.Info(ctx, "job completed")
}

// Package scheduler runs the retention sweeps on independent cron cadences.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config holds the three cron expressions, one per cadence.
type Config struct {
	Daily   string
	Weekly  string
	Monthly string
}

// DefaultConfig staggers the sweeps into the quiet hours.
func DefaultConfig() Config {
	return Config{
		Daily:   "0 3 * * *",
		Weekly:  "0 4 * * 1",
		Monthly: "0 5 1 * *",
	}
}

// Scheduler owns the cron instance driving the sweeps.
type Scheduler struct {
	jobs *Jobs
	cfg  Config
	cron *cron.Cron
	log  *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler constructs a stopped scheduler.
func NewScheduler(jobs *Jobs, cfg Config, log *zap.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, cfg: cfg, cron: cron.New(), log: log}
}

// Start validates the cron expressions, registers the sweeps and starts the
// cron loop. It stops itself when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []struct {
		name string
		expr string
		run  func(context.Context) error
	}{
		{"daily", s.cfg.Daily, s.jobs.RunDaily},
		{"weekly", s.cfg.Weekly, s.jobs.RunWeekly},
		{"monthly", s.cfg.Monthly, s.jobs.RunMonthly},
	}
	for _, e := range entries {
		if _, err := cron.ParseStandard(e.expr); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", e.name, e.expr, err)
		}
		name, run := e.name, e.run
		if _, err := s.cron.AddFunc(e.expr, func() {
			s.log.Info("sweep starting", zap.String("cadence", name))
			if err := run(ctx); err != nil {
				s.log.Error("sweep finished with errors", zap.String("cadence", name), zap.Error(err))
				return
			}
			s.log.Info("sweep finished", zap.String("cadence", name))
		}); err != nil {
			return fmt.Errorf("schedule %s sweep: %w", e.name, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.log.Info("retention scheduler started",
		zap.String("daily", s.cfg.Daily),
		zap.String("weekly", s.cfg.Weekly),
		zap.String("monthly", s.cfg.Monthly),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for any running sweep to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("retention scheduler stopped")
}

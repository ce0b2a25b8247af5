// Package scheduler drives the periodic balancing passes. Each job has its
// own ticker, so a slow pass never delays the others.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/balance-engine/internal/pass"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Enabled  bool
	Run      func(ctx context.Context) error
}

// Scheduler runs a fixed set of jobs.
type Scheduler struct {
	jobs []Job
}

// New creates a scheduler for jobs. Disabled jobs are kept only so they can
// be listed; they never run.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Jobs returns the configured jobs.
func (s *Scheduler) Jobs() []Job { return s.jobs }

// Run starts every enabled job and blocks until ctx is done. Job failures are
// logged and the job keeps its schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		if !job.Enabled {
			slog.Info("pass disabled", "pass", job.Name)
			continue
		}
		if job.Interval <= 0 {
			slog.Warn("pass has no interval, not scheduling", "pass", job.Name)
			continue
		}
		job := job
		g.Go(func() error {
			loop(ctx, job)
			return nil
		})
		slog.Info("pass scheduled", "pass", job.Name, "interval", job.Interval)
	}
	<-ctx.Done()
	return g.Wait()
}

func loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, job)
		}
	}
}

func runOnce(ctx context.Context, job Job) {
	err := job.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, pass.ErrInProgress):
		slog.Info("pass skipped, previous run still in progress", "pass", job.Name)
	case errors.Is(err, context.Canceled):
	default:
		slog.Error("pass failed", "pass", job.Name, "err", err)
	}
}

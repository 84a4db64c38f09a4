// Package scheduler runs recurring pipeline tasks.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
)

// Task is one scheduled unit of work. It receives the scheduler's context.
type Task func(ctx context.Context) error

// Scheduler manages scheduled tasks. Runs of the same task never overlap:
// a tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	log       *logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a scheduler evaluating cron expressions in loc.
func New(loc *time.Location, log *logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{scheduler: s, log: logger.OrNop(log), ctx: ctx, cancel: cancel}
}

// Cron schedules task on a five-field cron expression.
func (s *Scheduler) Cron(name, expr string, task Task) error {
	if _, err := s.scheduler.Cron(expr).Tag(name).Do(s.wrap(name, task)); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	s.log.Info("task scheduled", "task", name, "cron", expr)
	return nil
}

// Every schedules task at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if _, err := s.scheduler.Every(interval).Tag(name).Do(s.wrap(name, task)); err != nil {
		return fmt.Errorf("schedule %s every %s: %w", name, interval, err)
	}
	s.log.Info("task scheduled", "task", name, "every", interval.String())
	return nil
}

func (s *Scheduler) wrap(name string, task Task) func() {
	return func() {
		start := time.Now()
		if err := task(s.ctx); err != nil {
			s.log.Error("scheduled task failed", "task", name, "error", err)
			return
		}
		s.log.Info("scheduled task finished", "task", name, "elapsed", time.Since(start).String())
	}
}

// NextRun returns the next scheduled time of the first job, or the zero time.
func (s *Scheduler) NextRun() time.Time {
	jobs := s.scheduler.Jobs()
	if len(jobs) == 0 {
		return time.Time{}
	}
	return jobs[0].NextRun()
}

// Start begins running scheduled tasks without blocking.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Run starts the scheduler and blocks until ctx is done, then stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	s.log.Info("scheduler running", "next_run", s.NextRun().Format(time.RFC3339))
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

// Stop terminates all scheduled tasks and cancels the context given to
// running ones.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

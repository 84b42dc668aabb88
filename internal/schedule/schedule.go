// Package schedule implements the client's scheduled mode: a backup run
// fired on a cron expression rather than in response to filesystem events.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Options configures Run.
type Options struct {
	// CronExpr is a standard five-field cron expression (minute hour
	// day-of-month month day-of-week), evaluated in the local timezone.
	CronExpr string

	RunBackup func(ctx context.Context) error

	Logger *slog.Logger
}

// Run registers opts.RunBackup on opts.CronExpr and blocks until ctx is
// cancelled, at which point the scheduler is shut down and any in-flight
// run is allowed to finish.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// A single concurrency slot with LimitModeReschedule means a run that's
	// still in flight when the next tick fires is skipped rather than
	// stacked, instead of piling up overlapping backup runs.
	sched, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(1, gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule: create scheduler: %w", err)
	}

	task := func() {
		logger.Info("scheduled backup run starting")
		if err := opts.RunBackup(ctx); err != nil {
			logger.Error("scheduled backup run failed", "error", err)
			return
		}
		logger.Info("scheduled backup run finished")
	}

	_, err = sched.NewJob(
		gocron.CronJob(opts.CronExpr, false),
		gocron.NewTask(task),
		gocron.WithName("backup"),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, jobName string, jobErr error) {
				logger.Error("job panicked or errored", "job", jobName, "error", jobErr)
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("schedule: register job %q: %w", opts.CronExpr, err)
	}

	sched.Start()
	logger.Info("scheduler started", "cron", opts.CronExpr)

	<-ctx.Done()
	return sched.Shutdown()
}

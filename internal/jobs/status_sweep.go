package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/patchfox-io/input-service/internal/metrics"
	"github.com/patchfox-io/input-service/internal/reconcile"
)

// StatusSweepArgs schedules one reconciliation sweep.
type StatusSweepArgs struct{}

func (StatusSweepArgs) Kind() string { return JobKindStatusSweep }

// InsertOpts routes sweep jobs to the single-worker sweep queue, which is
// what keeps sweeps from overlapping; the uniqueness options only thin out
// duplicate inserts within a period bucket when the periodic scheduler and a
// manual insert collide.
func (StatusSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: StatusSweepMaxAttempts,
		Queue:       QueueStatusSweep,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: 30 * time.Second,
		},
	}
}

// StatusSweepWorker runs the three-pass status reconciliation.
type StatusSweepWorker struct {
	river.WorkerDefaults[StatusSweepArgs]
	Sweeper *reconcile.Sweeper
	Logger  *slog.Logger
}

func (StatusSweepWorker) Kind() string { return JobKindStatusSweep }

func (w StatusSweepWorker) Work(ctx context.Context, job *river.Job[StatusSweepArgs]) error {
	if w.Sweeper == nil {
		return fmt.Errorf("sweeper not configured")
	}

	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	if err := w.Sweeper.Sweep(ctx); err != nil {
		metrics.SweepRuns.WithLabelValues("failure").Inc()
		logger.Error("status sweep failed", "error", err, "attempt", job.Attempt)
		return fmt.Errorf("status sweep: %w", err)
	}
	metrics.SweepRuns.WithLabelValues("success").Inc()
	logger.Info("status sweep completed", "duration", time.Since(start))
	return nil
}

// NewWorkers registers every worker kind this service runs.
func NewWorkers(sweeper *reconcile.Sweeper, logger *slog.Logger) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[StatusSweepArgs](workers, StatusSweepWorker{Sweeper: sweeper, Logger: logger})
	return workers
}

// NewPeriodicJobs creates the periodic schedule: one status sweep per
// interval, starting immediately so a fresh deployment converges without
// waiting a full period.
func NewPeriodicJobs(sweepInterval time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(sweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return StatusSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

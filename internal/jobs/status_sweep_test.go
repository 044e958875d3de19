package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchfox-io/input-service/internal/metrics"
	"github.com/patchfox-io/input-service/internal/reconcile"
	"github.com/patchfox-io/input-service/internal/storage/storagetest"
)

func TestStatusSweepWorkerRuns(t *testing.T) {
	repo := storagetest.NewRepository()
	sweeper := reconcile.NewSweeper(repo, 2*time.Minute, zerolog.Nop())
	worker := StatusSweepWorker{Sweeper: sweeper}

	before := testutil.ToFloat64(metrics.SweepRuns.WithLabelValues("success"))

	job := &river.Job[StatusSweepArgs]{JobRow: &rivertype.JobRow{Attempt: 1}}
	require.NoError(t, worker.Work(context.Background(), job))

	after := testutil.ToFloat64(metrics.SweepRuns.WithLabelValues("success"))
	assert.Equal(t, before+1, after)
}

func TestStatusSweepWorkerRequiresSweeper(t *testing.T) {
	worker := StatusSweepWorker{}
	job := &river.Job[StatusSweepArgs]{JobRow: &rivertype.JobRow{Attempt: 1}}
	require.Error(t, worker.Work(context.Background(), job))
}

func TestStatusSweepNotRetried(t *testing.T) {
	policy := NewRetryPolicy()
	config := policy.configFor(JobKindStatusSweep)
	assert.Equal(t, 1, config.MaxAttempts)

	opts := StatusSweepArgs{}.InsertOpts()
	assert.Equal(t, 1, opts.MaxAttempts)
	assert.True(t, opts.UniqueOpts.ByArgs)
}

// Sweeps are serialized by a dedicated single-worker queue: period-bucket
// uniqueness alone would let a long sweep overlap the next periodic insert.
func TestStatusSweepSerialized(t *testing.T) {
	opts := StatusSweepArgs{}.InsertOpts()
	assert.Equal(t, QueueStatusSweep, opts.Queue)

	config := NewClientConfig(NewWorkers(nil, nil), nil, NewPeriodicJobs(time.Minute))
	require.Contains(t, config.Queues, QueueStatusSweep)
	assert.Equal(t, 1, config.Queues[QueueStatusSweep].MaxWorkers)
}

func TestRetryPolicyBacksOff(t *testing.T) {
	policy := NewRetryPolicy()
	attempted := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	first := policy.NextRetry(&rivertype.JobRow{Kind: "other", Attempt: 1, AttemptedAt: &attempted})
	second := policy.NextRetry(&rivertype.JobRow{Kind: "other", Attempt: 2, AttemptedAt: &attempted})
	assert.True(t, second.After(first))
}

func TestNewPeriodicJobs(t *testing.T) {
	jobs := NewPeriodicJobs(time.Minute)
	require.Len(t, jobs, 1)
}

package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  int
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string {
	return j.name
}

func (j *countingJob) Run(context.Context) error {
	j.runs++
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func TestAddJobAndRunNow(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "task_backfill"}
	require.NoError(t, s.AddJob(job, "*/5 * * * *"))
	require.Error(t, s.AddJob(job, "@hourly"))
	require.Error(t, s.AddJob(&countingJob{name: "bad"}, "not a spec"))

	require.NoError(t, s.RunNow(context.Background(), "task_backfill"))
	require.Equal(t, 1, job.runs)
	require.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestUnscheduledJobCanStillRun(t *testing.T) {
	s := NewCronScheduler()
	boom := errors.New("boom")
	job := &countingJob{name: "embedding_cache_cleanup", err: boom}
	require.NoError(t, s.AddJob(job, ""))
	require.ErrorIs(t, s.RunNow(context.Background(), "embedding_cache_cleanup"), boom)
	require.Empty(t, s.cron.Entries())
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := NewCronScheduler()
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.AddJob(job, ""))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	require.Eventually(t, func() bool { return s.entries["slow"].running.Load() }, time.Second, time.Millisecond)
	require.NoError(t, s.RunNow(context.Background(), "slow"))
	close(job.block)
	require.NoError(t, <-done)
	require.Equal(t, 1, job.runs)
}

package job

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragpipe/internal/model"
)

type fakeRepublisher struct {
	mu        sync.Mutex
	stale     []*model.Task
	failFor   int64
	published []int64
	gotAge    time.Duration
	gotLimit  int
}

func (f *fakeRepublisher) ListStalePending(_ context.Context, age time.Duration, limit int) ([]*model.Task, error) {
	f.gotAge = age
	f.gotLimit = limit
	return f.stale, nil
}

func (f *fakeRepublisher) Republish(_ context.Context, task *model.Task) error {
	if task.ID == f.failFor {
		return errors.New("bus down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, task.ID)
	return nil
}

func TestTaskBackfillJob(t *testing.T) {
	tasks := &fakeRepublisher{failFor: 3}
	for i := int64(1); i <= 5; i++ {
		tasks.stale = append(tasks.stale, &model.Task{ID: i, FileName: "f", Status: model.TaskStatusPending})
	}
	j := NewTaskBackfillJob(tasks, 30*time.Minute, 0, 2)
	require.Equal(t, "task_backfill", j.Name())

	err := j.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "task 3")
	require.Equal(t, 30*time.Minute, tasks.gotAge)
	require.Equal(t, defaultBackfillBatch, tasks.gotLimit)

	sort.Slice(tasks.published, func(i, k int) bool { return tasks.published[i] < tasks.published[k] })
	require.Equal(t, []int64{1, 2, 4, 5}, tasks.published)
}

func TestTaskBackfillJobNothingStale(t *testing.T) {
	j := NewTaskBackfillJob(&fakeRepublisher{}, time.Minute, 10, 1)
	require.NoError(t, j.Run(context.Background()))
}

type fakeCleaner struct {
	cutoff int64
}

func (f *fakeCleaner) DeleteBefore(_ context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func TestEmbeddingCacheCleanupJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cleaner := &fakeCleaner{}
	j := NewEmbeddingCacheCleanupJob(cleaner, 0)
	j.now = func() time.Time { return now }
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-30*24*time.Hour).Unix(), cleaner.cutoff)

	require.NoError(t, NewEmbeddingCacheCleanupJob(nil, 1).Run(context.Background()))
}

package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragpipe/internal/model"
)

const (
	defaultBackfillBatch   = 50
	defaultBackfillWorkers = 4
)

type taskRepublisher interface {
	ListStalePending(ctx context.Context, age time.Duration, limit int) ([]*model.Task, error)
	Republish(ctx context.Context, task *model.Task) error
}

// TaskBackfillJob re-announces tasks whose task_created event never reached a
// consumer, e.g. because publishing failed after the record was written.
type TaskBackfillJob struct {
	tasks      taskRepublisher
	staleAfter time.Duration
	batch      int
	workers    int
}

func NewTaskBackfillJob(tasks taskRepublisher, staleAfter time.Duration, batch, workers int) *TaskBackfillJob {
	if batch <= 0 {
		batch = defaultBackfillBatch
	}
	if workers <= 0 {
		workers = defaultBackfillWorkers
	}
	return &TaskBackfillJob{tasks: tasks, staleAfter: staleAfter, batch: batch, workers: workers}
}

func (j *TaskBackfillJob) Name() string {
	return "task_backfill"
}

func (j *TaskBackfillJob) Run(ctx context.Context) error {
	if j.tasks == nil {
		return nil
	}
	items, err := j.tasks.ListStalePending(ctx, j.staleAfter, j.batch)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	pool, err := ants.NewPool(j.workers)
	if err != nil {
		return fmt.Errorf("create backfill pool: %w", err)
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		errs      []error
		published int
	)
	for _, task := range items {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			err := j.tasks.Republish(ctx, task)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logutil.GetLogger(ctx).Warn("backfill task failed", zap.Int64("task_id", task.ID), zap.Error(err))
				errs = append(errs, fmt.Errorf("task %d: %w", task.ID, err))
				return
			}
			published++
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("task %d: %w", task.ID, submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()
	logutil.GetLogger(ctx).Info("backfill finished",
		zap.Int("stale", len(items)), zap.Int("republished", published), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

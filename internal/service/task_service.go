package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragpipe/internal/event"
	"github.com/xxxsen/ragpipe/internal/filestore"
	"github.com/xxxsen/ragpipe/internal/model"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

type TaskStore interface {
	Create(ctx context.Context, fileName string) (*model.Task, error)
	Find(ctx context.Context, id int64) (*model.Task, bool, error)
	List(ctx context.Context, filter model.TaskFilter) ([]*model.Task, error)
	ListStale(ctx context.Context, status model.TaskStatus, olderThan time.Time, limit int) ([]*model.Task, error)
	Update(ctx context.Context, id int64, upd model.TaskUpdate, allowedFrom []model.TaskStatus) (*model.Task, bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, ev event.Event) error
}

type TaskService struct {
	tasks TaskStore
	files filestore.Store
	bus   Publisher
	topic string
}

func NewTaskService(tasks TaskStore, files filestore.Store, bus Publisher, topic string) *TaskService {
	return &TaskService{tasks: tasks, files: files, bus: bus, topic: topic}
}

// Submit stores the document content, records a pending task and announces
// it on the bus. A nil content reuses what is already stored under the file
// name. Publish failures are logged only: the task stays pending and can be
// retried or picked up by the backfill job.
func (s *TaskService) Submit(ctx context.Context, fileName string, content []byte) (*model.Task, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, fmt.Errorf("%w: file_name is required", appErr.ErrInvalid)
	}
	key := filestore.KeyFor(fileName)
	if content != nil {
		if err := filestore.SaveBytes(ctx, s.files, key, content); err != nil {
			return nil, appErr.Wrap(appErr.ErrStorage, fmt.Errorf("save content: %w", err))
		}
	} else {
		stored, err := filestore.ReadAll(ctx, s.files, key)
		switch {
		case err == nil:
			content = stored
		case appErr.IsNotFound(err):
			logutil.GetLogger(ctx).Warn("no stored content for file, task will wait for retry", zap.String("file_name", fileName))
		default:
			return nil, appErr.Wrap(appErr.ErrStorage, fmt.Errorf("load content: %w", err))
		}
	}
	task, err := s.tasks.Create(ctx, fileName)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStorage, fmt.Errorf("create task: %w", err))
	}
	logutil.GetLogger(ctx).Info("task created", zap.Int64("task_id", task.ID), zap.String("file_name", fileName))
	if content == nil {
		return task, nil
	}
	if err := s.publish(ctx, task, content); err != nil {
		logutil.GetLogger(ctx).Error("publish task event failed, task left pending",
			zap.Int64("task_id", task.ID), zap.Error(err))
	}
	return task, nil
}

func (s *TaskService) publish(ctx context.Context, task *model.Task, content []byte) error {
	return s.bus.Publish(ctx, s.topic, event.TaskCreated{
		TaskID:      task.ID,
		FileName:    task.FileName,
		FileContent: base64.StdEncoding.EncodeToString(content),
	})
}

func (s *TaskService) Get(ctx context.Context, id int64) (*model.Task, error) {
	task, found, err := s.tasks.Find(ctx, id)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStorage, err)
	}
	if !found {
		return nil, appErr.ErrNotFound
	}
	return task, nil
}

func (s *TaskService) List(ctx context.Context, filter model.TaskFilter) ([]*model.Task, error) {
	items, err := s.tasks.List(ctx, filter.Normalize())
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStorage, err)
	}
	return items, nil
}

// Update merges upd into the task. Unless force is set the status may only
// move forward; see model.TaskStatus.CanTransitionTo.
func (s *TaskService) Update(ctx context.Context, id int64, upd model.TaskUpdate, force bool) (*model.Task, error) {
	if upd.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", appErr.ErrInvalid)
	}
	if upd.EmbeddingCount != nil && *upd.EmbeddingCount < 0 {
		return nil, fmt.Errorf("%w: embedding_count must not be negative", appErr.ErrInvalid)
	}
	var allowedFrom []model.TaskStatus
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, fmt.Errorf("%w: unsupported status %q", appErr.ErrInvalid, *upd.Status)
		}
		if !force {
			allowedFrom = model.AllowedPredecessors(*upd.Status)
		}
	}
	task, found, err := s.tasks.Update(ctx, id, upd, allowedFrom)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStorage, err)
	}
	if found {
		return task, nil
	}
	current, exists, err := s.tasks.Find(ctx, id)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStorage, err)
	}
	if !exists {
		return nil, appErr.ErrNotFound
	}
	return nil, fmt.Errorf("%w: %s -> %s", appErr.ErrInvalidTransition, current.Status, *upd.Status)
}

// ReportStatus records pipeline progress for the co-located consumer.
func (s *TaskService) ReportStatus(ctx context.Context, id int64, upd model.TaskUpdate) error {
	_, err := s.Update(ctx, id, upd, false)
	return err
}

func (s *TaskService) Delete(ctx context.Context, id int64) error {
	ok, err := s.tasks.Delete(ctx, id)
	if err != nil {
		return appErr.Wrap(appErr.ErrStorage, err)
	}
	if !ok {
		return appErr.ErrNotFound
	}
	return nil
}

// Retry republishes a task that has not completed, using the stored content.
func (s *TaskService) Retry(ctx context.Context, id int64) (*model.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == model.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task already completed", appErr.ErrInvalidTransition)
	}
	if err := s.Republish(ctx, task); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("task republished", zap.Int64("task_id", task.ID), zap.String("status", string(task.Status)))
	return task, nil
}

// Republish sends a task_created event for task again.
func (s *TaskService) Republish(ctx context.Context, task *model.Task) error {
	content, err := filestore.ReadAll(ctx, s.files, filestore.KeyFor(task.FileName))
	if err != nil {
		if appErr.IsNotFound(err) {
			return fmt.Errorf("%w: no stored content for %s", appErr.ErrInvalid, task.FileName)
		}
		return appErr.Wrap(appErr.ErrStorage, fmt.Errorf("load content: %w", err))
	}
	if err := s.publish(ctx, task, content); err != nil {
		return appErr.Wrap(appErr.ErrTransport, err)
	}
	return nil
}

// ListStalePending returns tasks that have been pending for longer than age,
// oldest first.
func (s *TaskService) ListStalePending(ctx context.Context, age time.Duration, limit int) ([]*model.Task, error) {
	items, err := s.tasks.ListStale(ctx, model.TaskStatusPending, time.Now().Add(-age), limit)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStorage, err)
	}
	return items, nil
}

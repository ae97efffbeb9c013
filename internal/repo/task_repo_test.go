package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragpipe/internal/model"
	"github.com/xxxsen/ragpipe/internal/repo"
	"github.com/xxxsen/ragpipe/internal/testutil"
)

func TestTaskRepoLifecycle(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.TruncateTasks(t, db)

	ctx := context.Background()
	tasks := repo.NewTaskRepo(db)

	task, err := tasks.Create(ctx, "a.txt")
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusPending, task.Status)
	require.Nil(t, task.StartedAt)
	require.Nil(t, task.CompletedAt)

	got, found, err := tasks.Find(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a.txt", got.FileName)

	processing, found, err := tasks.Update(ctx, task.ID, model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusProcessing)}, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, processing.StartedAt)
	require.Nil(t, processing.CompletedAt)
	require.False(t, processing.UpdatedAt.Before(task.UpdatedAt))

	// repeating processing keeps the first start time
	again, _, err := tasks.Update(ctx, task.ID, model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusProcessing)}, nil)
	require.NoError(t, err)
	require.True(t, again.StartedAt.Equal(*processing.StartedAt))

	done, found, err := tasks.Update(ctx, task.ID, model.TaskUpdate{
		Status:         model.StatusPtr(model.TaskStatusCompleted),
		EmbeddingCount: model.IntPtr(3),
	}, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, 3, *done.EmbeddingCount)
	require.Nil(t, done.ErrorMessage)

	// merge semantics: absent fields are untouched
	msg, _, err := tasks.Update(ctx, task.ID, model.TaskUpdate{ErrorMessage: model.StringPtr("note")}, nil)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusCompleted, msg.Status)
	require.Equal(t, 3, *msg.EmbeddingCount)
	require.Equal(t, "note", *msg.ErrorMessage)

	cleared, _, err := tasks.Update(ctx, task.ID, model.TaskUpdate{ErrorMessage: model.StringPtr("")}, nil)
	require.NoError(t, err)
	require.Nil(t, cleared.ErrorMessage)

	ok, err := tasks.Delete(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = tasks.Delete(ctx, task.ID)
	require.NoError(t, err)
	require.False(t, ok)

	_, found, err = tasks.Find(ctx, task.ID)
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = tasks.Update(ctx, task.ID, model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusFailed)}, nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestTaskRepoUpdateAllowedFrom(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.TruncateTasks(t, db)

	ctx := context.Background()
	tasks := repo.NewTaskRepo(db)
	task, err := tasks.Create(ctx, "b.txt")
	require.NoError(t, err)
	_, _, err = tasks.Update(ctx, task.ID, model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusCompleted)}, nil)
	require.NoError(t, err)

	_, found, err := tasks.Update(ctx, task.ID,
		model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusPending)},
		model.AllowedPredecessors(model.TaskStatusPending))
	require.NoError(t, err)
	require.False(t, found)

	got, _, err := tasks.Find(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusCompleted, got.Status)
}

func TestTaskRepoListAndStale(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	testutil.TruncateTasks(t, db)

	ctx := context.Background()
	tasks := repo.NewTaskRepo(db)
	for _, name := range []string{"1.txt", "2.txt", "3.txt"} {
		_, err := tasks.Create(ctx, name)
		require.NoError(t, err)
	}
	list, err := tasks.List(ctx, model.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "3.txt", list[0].FileName)

	page, err := tasks.List(ctx, model.TaskFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "2.txt", page[0].FileName)

	_, _, err = tasks.Update(ctx, list[0].ID, model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusFailed)}, nil)
	require.NoError(t, err)
	failed, err := tasks.List(ctx, model.TaskFilter{Status: model.StatusPtr(model.TaskStatusFailed)})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	stale, err := tasks.ListStale(ctx, model.TaskStatusPending, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	none, err := tasks.ListStale(ctx, model.TaskStatusPending, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

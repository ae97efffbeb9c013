package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"

	"github.com/xxxsen/ragpipe/internal/model"
	"github.com/xxxsen/ragpipe/internal/pkg/dbutil"
)

const taskTable = "file_to_embedding_task"

var taskColumns = []string{
	"id", "file_name", "status", "created_at", "updated_at",
	"started_at", "completed_at", "error_message", "embedding_count",
}

const knownStatusSQL = "'pending', 'processing', 'completed', 'failed'"

const taskReturning = ` RETURNING id, file_name, status, created_at, updated_at,
	started_at, completed_at, error_message, embedding_count`

type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		task        model.Task
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
		errMsg      sql.NullString
		count       sql.NullInt64
	)
	if err := row.Scan(&task.ID, &task.FileName, &status, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt, &errMsg, &count); err != nil {
		return nil, err
	}
	task.Status = model.ParseTaskStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	if errMsg.Valid {
		task.ErrorMessage = model.StringPtr(errMsg.String)
	}
	if count.Valid {
		task.EmbeddingCount = model.IntPtr(int(count.Int64))
	}
	return &task, nil
}

func (r *TaskRepo) Create(ctx context.Context, fileName string) (*model.Task, error) {
	data := map[string]interface{}{
		"file_name": fileName,
		"status":    string(model.TaskStatusPending),
	}
	sqlStr, args, err := builder.BuildInsert(taskTable, []map[string]interface{}{data})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+taskReturning, args)
	return scanTask(r.db.QueryRowContext(ctx, sqlStr, args...))
}

func (r *TaskRepo) Find(ctx context.Context, id int64) (*model.Task, bool, error) {
	where := map[string]interface{}{
		"id": id,
	}
	sqlStr, args, err := builder.BuildSelect(taskTable, where, taskColumns)
	if err != nil {
		return nil, false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	task, err := scanTask(r.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return task, true, nil
}

func (r *TaskRepo) List(ctx context.Context, filter model.TaskFilter) ([]*model.Task, error) {
	filter = filter.Normalize()
	where := map[string]interface{}{
		"_orderby": "created_at desc, id desc",
		"_limit":   []uint{uint(filter.Offset), uint(filter.Limit)},
	}
	if filter.Status != nil {
		where["status"] = string(*filter.Status)
	}
	return r.query(ctx, where)
}

// ListStale returns tasks in status whose last update is older than olderThan,
// oldest first.
func (r *TaskRepo) ListStale(ctx context.Context, status model.TaskStatus, olderThan time.Time, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = model.DefaultTaskListLimit
	}
	where := map[string]interface{}{
		"status":       string(status),
		"updated_at <": olderThan,
		"_orderby":     "updated_at asc",
		"_limit":       []uint{0, uint(limit)},
	}
	return r.query(ctx, where)
}

func (r *TaskRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.Task, error) {
	sqlStr, args, err := builder.BuildSelect(taskTable, where, taskColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

// Update merges the non-nil fields of upd into the row. started_at is stamped
// the first time the row enters processing and completed_at the first time it
// reaches a terminal status. When allowedFrom is non-empty the row is only
// touched if its current status is one of them. found is false when no row
// was updated.
func (r *TaskRepo) Update(ctx context.Context, id int64, upd model.TaskUpdate, allowedFrom []model.TaskStatus) (*model.Task, bool, error) {
	var status, errMsg interface{}
	var count interface{}
	if upd.Status != nil {
		status = string(*upd.Status)
	}
	if upd.ErrorMessage != nil {
		errMsg = *upd.ErrorMessage
	}
	if upd.EmbeddingCount != nil {
		count = *upd.EmbeddingCount
	}
	query := `
		UPDATE ` + taskTable + ` SET
			status = COALESCE($1::text, status),
			error_message = CASE WHEN $2::text IS NULL THEN error_message ELSE NULLIF($2::text, '') END,
			embedding_count = COALESCE($3::integer, embedding_count),
			started_at = CASE
				WHEN $1::text = 'processing' AND started_at IS NULL THEN NOW()
				ELSE started_at END,
			completed_at = CASE
				WHEN $1::text IN ('completed', 'failed') AND completed_at IS NULL THEN NOW()
				ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $4`
	args := []interface{}{status, errMsg, count, id}
	if len(allowedFrom) > 0 {
		from := make([]string, 0, len(allowedFrom))
		for _, s := range allowedFrom {
			from = append(from, string(s))
		}
		// unrecognized stored values decode to unknown, which may move anywhere
		query += " AND (status = ANY($5::text[]) OR status NOT IN (" + knownStatusSQL + "))"
		args = append(args, pq.Array(from))
	}
	task, err := scanTask(r.db.QueryRowContext(ctx, query+taskReturning, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return task, true, nil
}

func (r *TaskRepo) Delete(ctx context.Context, id int64) (bool, error) {
	where := map[string]interface{}{
		"id": id,
	}
	sqlStr, args, err := builder.BuildDelete(taskTable, where)
	if err != nil {
		return false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

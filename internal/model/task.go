package model

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusUnknown    TaskStatus = "unknown"
)

var knownStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusProcessing,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// ParseTaskStatus maps persisted or user supplied text to a status.
// Unrecognized values decode to TaskStatusUnknown.
func ParseTaskStatus(s string) TaskStatus {
	switch TaskStatus(strings.ToLower(strings.TrimSpace(s))) {
	case TaskStatusPending:
		return TaskStatusPending
	case TaskStatusProcessing:
		return TaskStatusProcessing
	case TaskStatusCompleted:
		return TaskStatusCompleted
	case TaskStatusFailed:
		return TaskStatusFailed
	default:
		return TaskStatusUnknown
	}
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

func (s TaskStatus) Valid() bool {
	return s != TaskStatusUnknown && ParseTaskStatus(string(s)) == s
}

// CanTransitionTo reports whether a non-administrative update may move a
// task from s to next. Repeating the current status is allowed so that a
// redelivered event can report again; Completed is sticky and nothing
// returns to Pending.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if !next.Valid() {
		return false
	}
	switch s {
	case TaskStatusPending:
		return true
	case TaskStatusProcessing:
		return next != TaskStatusPending
	case TaskStatusFailed:
		return next != TaskStatusPending
	case TaskStatusCompleted:
		return next == TaskStatusCompleted
	default:
		return true
	}
}

// AllowedPredecessors lists the stored statuses from which next is reachable.
func AllowedPredecessors(next TaskStatus) []TaskStatus {
	out := make([]TaskStatus, 0, len(knownStatuses)+1)
	for _, s := range append(knownStatuses, TaskStatusUnknown) {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

type Task struct {
	ID             int64      `json:"id"`
	FileName       string     `json:"file_name"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	ErrorMessage   *string    `json:"error_message"`
	EmbeddingCount *int       `json:"embedding_count"`
}

// TaskUpdate is a partial update; nil fields are left unchanged.
// An empty ErrorMessage clears the stored message.
type TaskUpdate struct {
	Status         *TaskStatus `json:"status,omitempty"`
	ErrorMessage   *string     `json:"error_message,omitempty"`
	EmbeddingCount *int        `json:"embedding_count,omitempty"`
}

func (u TaskUpdate) IsEmpty() bool {
	return u.Status == nil && u.ErrorMessage == nil && u.EmbeddingCount == nil
}

type TaskFilter struct {
	Status *TaskStatus
	Limit  int
	Offset int
}

const (
	DefaultTaskListLimit = 50
	MaxTaskListLimit     = 500
)

func (f TaskFilter) Normalize() TaskFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultTaskListLimit
	}
	if f.Limit > MaxTaskListLimit {
		f.Limit = MaxTaskListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func StatusPtr(s TaskStatus) *TaskStatus {
	return &s
}

func StringPtr(s string) *string {
	return &s
}

func IntPtr(v int) *int {
	return &v
}

package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/ragpipe/internal/ai"
	"github.com/xxxsen/ragpipe/internal/event"
	"github.com/xxxsen/ragpipe/internal/model"
)

type memTaskStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*model.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{items: map[int64]*model.Task{}}
}

func (m *memTaskStore) Create(_ context.Context, fileName string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := time.Now()
	task := &model.Task{ID: m.nextID, FileName: fileName, Status: model.TaskStatusPending, CreatedAt: now, UpdatedAt: now}
	m.items[task.ID] = task
	cp := *task
	return &cp, nil
}

func (m *memTaskStore) Find(_ context.Context, id int64) (*model.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	cp := *task
	return &cp, true, nil
}

func (m *memTaskStore) List(_ context.Context, filter model.TaskFilter) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Task, 0, len(m.items))
	for _, task := range m.items {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memTaskStore) ListStale(_ context.Context, status model.TaskStatus, olderThan time.Time, limit int) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Task
	for _, task := range m.items {
		if task.Status == status && task.UpdatedAt.Before(olderThan) {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTaskStore) Update(_ context.Context, id int64, upd model.TaskUpdate, allowedFrom []model.TaskStatus) (*model.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	if allowedFrom != nil {
		allowed := false
		for _, s := range allowedFrom {
			if s == task.Status {
				allowed = true
			}
		}
		if !allowed {
			return nil, false, nil
		}
	}
	now := time.Now()
	if upd.Status != nil {
		task.Status = *upd.Status
		if task.Status == model.TaskStatusProcessing && task.StartedAt == nil {
			task.StartedAt = &now
		}
		if task.Status.IsTerminal() && task.CompletedAt == nil {
			task.CompletedAt = &now
		}
	}
	if upd.ErrorMessage != nil {
		if *upd.ErrorMessage == "" {
			task.ErrorMessage = nil
		} else {
			task.ErrorMessage = model.StringPtr(*upd.ErrorMessage)
		}
	}
	if upd.EmbeddingCount != nil {
		task.EmbeddingCount = model.IntPtr(*upd.EmbeddingCount)
	}
	task.UpdatedAt = now
	cp := *task
	return &cp, true, nil
}

func (m *memTaskStore) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	return true, nil
}

func (m *memTaskStore) age(id int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].UpdatedAt = m.items[id].UpdatedAt.Add(-d)
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events []event.TaskCreated
}

func (f *fakePublisher) Publish(_ context.Context, _ string, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if tc, ok := ev.(event.TaskCreated); ok {
		f.events = append(f.events, tc)
	}
	return nil
}

// keywordEmbedder maps text onto a fixed keyword vocabulary.
type keywordEmbedder struct {
	vocab [][]string
	err   error
}

func (k *keywordEmbedder) Embed(_ context.Context, text string, _ string) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	text = strings.ToLower(text)
	vec := make([]float32, len(k.vocab)+1)
	vec[len(k.vocab)] = 0.01
	for i, words := range k.vocab {
		for _, w := range words {
			if strings.Contains(text, w) {
				vec[i]++
			}
		}
	}
	return vec, nil
}

func (k *keywordEmbedder) ModelName() string {
	return "keyword"
}

type fakeCompleter struct {
	answer   string
	err      error
	msgs     []ai.Message
	jsonMode bool
}

func (f *fakeCompleter) Complete(_ context.Context, msgs []ai.Message, jsonMode bool) (string, error) {
	f.msgs = msgs
	f.jsonMode = jsonMode
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

var errBoom = errors.New("boom")

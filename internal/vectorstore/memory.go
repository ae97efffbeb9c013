package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

func init() {
	Register("memory", func(_ Deps, _ interface{}) (Store, error) {
		return NewMemoryStore(), nil
	})
}

type memoryCollection struct {
	dim    int
	points map[string]Point
}

// MemoryStore keeps collections in process memory and ranks by brute force.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: map[string]*memoryCollection{}}
}

func (m *MemoryStore) EnsureCollection(_ context.Context, name string, dim int, metric string) error {
	if _, err := normalizeMetric(metric); err != nil {
		return appErr.Wrap(appErr.ErrStorage, err)
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", appErr.ErrStorage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return nil
	}
	m.collections[name] = &memoryCollection{dim: dim, points: map[string]Point{}}
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, points ...Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("%w: collection %s not found", appErr.ErrStorage, collection)
	}
	for _, p := range points {
		if len(p.Vector) != coll.dim {
			return fmt.Errorf("%w: vector dimension %d does not match collection dimension %d",
				appErr.ErrStorage, len(p.Vector), coll.dim)
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		coll.points[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) Search(_ context.Context, collection string, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: collection %s not found", appErr.ErrStorage, collection)
	}
	if len(vector) != coll.dim {
		return nil, fmt.Errorf("%w: query dimension %d does not match collection dimension %d",
			appErr.ErrStorage, len(vector), coll.dim)
	}
	hits := make([]Hit, 0, len(coll.points))
	for _, p := range coll.points {
		hits = append(hits, Hit{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if k = normalizeLimit(k); len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryStore) DeleteStale(_ context.Context, collection string, fileName string, chunkCount int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%w: collection %s not found", appErr.ErrStorage, collection)
	}
	var removed int64
	for id, p := range coll.points {
		if p.Payload.FileName == fileName && p.Payload.ChunkCount != chunkCount {
			delete(coll.points, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of points stored in collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if coll, ok := m.collections[collection]; ok {
		return len(coll.points)
	}
	return 0
}

// Get returns a stored point by id.
func (m *MemoryStore) Get(collection, id string) (Point, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return Point{}, false
	}
	p, ok := coll.points[id]
	return p, ok
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

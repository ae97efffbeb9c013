package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xxxsen/ragpipe/internal/config"
)

const (
	MetricCosine = "cosine"

	DefaultSearchLimit = 10

	snippetSuffix = "..."
)

// Payload is the attribute bag stored with every point.
type Payload struct {
	TaskID     int64  `json:"task_id"`
	FileName   string `json:"file_name"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkCount int    `json:"chunk_count"`
	Snippet    string `json:"content_snippet"`
	Content    string `json:"content"`
}

type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

type Hit struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

type Store interface {
	// EnsureCollection creates the collection when absent. It is safe to call
	// on every start.
	EnsureCollection(ctx context.Context, name string, dim int, metric string) error
	// Upsert inserts or replaces points by id.
	Upsert(ctx context.Context, collection string, points ...Point) error
	// Search returns up to k points ordered by descending similarity. A k
	// that is not positive falls back to DefaultSearchLimit.
	Search(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error)
	// DeleteStale removes the points of fileName written under a different
	// chunk count, left behind when a document is re-ingested with fewer or
	// more chunks. It returns the number of removed points when the backend
	// reports it.
	DeleteStale(ctx context.Context, collection string, fileName string, chunkCount int) (int64, error)
}

// PointID derives a stable point identifier from the file name, and the chunk
// index for documents split into more than one chunk. Re-ingesting the same
// source therefore overwrites its previous points.
func PointID(fileName string, chunkIndex, chunkCount int) string {
	key := fileName
	if chunkCount > 1 {
		key = fileName + "#" + strconv.Itoa(chunkIndex)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Snippet returns the first n bytes of text, cut on a rune boundary.
func Snippet(text string, n int) string {
	if n <= 0 || len(text) <= n {
		return text
	}
	cut := n
	for cut > 0 && !utf8RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + snippetSuffix
}

func normalizeLimit(k int) int {
	if k <= 0 {
		return DefaultSearchLimit
	}
	return k
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

type Deps struct {
	DB *sql.DB
}

type Factory func(deps Deps, args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorStoreConfig, deps Deps) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	return factory(deps, cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}

func normalizeMetric(metric string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(metric))
	if m == "" {
		m = MetricCosine
	}
	if m != MetricCosine {
		return "", fmt.Errorf("unsupported metric: %s", metric)
	}
	return m, nil
}

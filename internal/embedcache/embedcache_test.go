package embedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragpipe/internal/model"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string { return "test-model" }

type memStore struct {
	items   map[model.EmbeddingCacheKey]*model.EmbeddingCache
	getErr  error
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{items: map[model.EmbeddingCacheKey]*model.EmbeddingCache{}}
}

func (m *memStore) Get(ctx context.Context, key model.EmbeddingCacheKey) ([]float32, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return item.Embedding, true, nil
}

func (m *memStore) Save(ctx context.Context, item *model.EmbeddingCache) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.items[item.EmbeddingCacheKey] = item
	return nil
}

func TestLRUCacheHit(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)
	ctx := context.Background()
	a, err := e.Embed(ctx, "hello", "q")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello", "q")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(ctx, "hello", "d")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
	require.Equal(t, "test-model", e.ModelName())
}

func TestLRUDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WrapLruCacheToEmbedder(next, 0, time.Minute))
}

func TestLRUDoesNotCacheErrors(t *testing.T) {
	next := &countingEmbedder{err: errors.New("boom")}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)
	_, err := e.Embed(context.Background(), "x", "")
	require.Error(t, err)
	_, err = e.Embed(context.Background(), "x", "")
	require.Error(t, err)
	require.Equal(t, 2, next.calls)
}

func TestDBCache(t *testing.T) {
	next := &countingEmbedder{}
	store := newMemStore()
	e := WrapDBCacheToEmbedder(next, store)
	ctx := context.Background()
	_, err := e.Embed(ctx, "doc", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Len(t, store.items, 1)
	_, err = e.Embed(ctx, "doc", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)
}

func TestCacheKey(t *testing.T) {
	key := buildCacheKey("  ", "RETRIEVAL_DOCUMENT", "doc")
	require.Equal(t, "unknown", key.ModelName)
	require.Len(t, key.ContentHash, 64)
	require.Equal(t, key, buildCacheKey("", "RETRIEVAL_DOCUMENT", "doc"))
	require.NotEqual(t, key, buildCacheKey("", "RETRIEVAL_QUERY", "doc"))
	require.Equal(t, "embed:unknown:RETRIEVAL_DOCUMENT:"+key.ContentHash, key.String())
}

func TestDBCacheFailuresFallThrough(t *testing.T) {
	next := &countingEmbedder{}
	store := newMemStore()
	store.getErr = errors.New("db down")
	store.saveErr = errors.New("db down")
	e := WrapDBCacheToEmbedder(next, store)
	vec, err := e.Embed(context.Background(), "doc", "")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
	require.Equal(t, 1, next.calls)
}

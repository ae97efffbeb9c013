package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragpipe/internal/model"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
	"github.com/xxxsen/ragpipe/internal/repo"
	"github.com/xxxsen/ragpipe/internal/testutil"
)

func TestEmbeddingCacheRepo(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	_, err := db.Exec(`TRUNCATE embedding_cache`)
	require.NoError(t, err)

	ctx := context.Background()
	cache := repo.NewEmbeddingCacheRepo(db)
	key := model.EmbeddingCacheKey{ModelName: "m", TaskType: "RETRIEVAL_DOCUMENT", ContentHash: "abc"}

	_, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{EmbeddingCacheKey: key, Embedding: []float32{1, 2}, Ctime: 100}))
	require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{EmbeddingCacheKey: key, Embedding: []float32{3, 4}, Ctime: 200}))
	vec, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []float32{3, 4}, vec)

	err = cache.Save(ctx, &model.EmbeddingCache{EmbeddingCacheKey: key, Ctime: 300})
	require.True(t, errors.Is(err, appErr.ErrInvalid))

	removed, err := cache.DeleteBefore(ctx, 150)
	require.NoError(t, err)
	require.Equal(t, int64(0), removed)
	removed, err = cache.DeleteBefore(ctx, 250)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/ragpipe/internal/model"
	"github.com/xxxsen/ragpipe/internal/pkg/dbutil"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

const embeddingCacheTable = "embedding_cache"

// EmbeddingCacheRepo stores document embeddings in a pgvector column.
type EmbeddingCacheRepo struct {
	db *sql.DB
}

func NewEmbeddingCacheRepo(db *sql.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, key model.EmbeddingCacheKey) ([]float32, bool, error) {
	where := map[string]interface{}{
		"model_name":   key.ModelName,
		"task_type":    key.TaskType,
		"content_hash": key.ContentHash,
	}
	sqlStr, args, err := builder.BuildSelect(embeddingCacheTable, where, []string{"embedding"})
	if err != nil {
		return nil, false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var embedding pgvector.Vector
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&embedding); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read embedding cache: %v", appErr.ErrStorage, err)
	}
	return embedding.Slice(), true, nil
}

// Save upserts item. A row for the same key is replaced and its ctime renewed.
func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	if len(item.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", appErr.ErrInvalid)
	}
	const query = `
		INSERT INTO ` + embeddingCacheTable + ` (model_name, task_type, content_hash, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			ctime = EXCLUDED.ctime
	`
	if _, err := r.db.ExecContext(ctx, query, item.ModelName, item.TaskType, item.ContentHash,
		pgvector.NewVector(item.Embedding), item.Ctime); err != nil {
		return fmt.Errorf("%w: write embedding cache: %v", appErr.ErrStorage, err)
	}
	return nil
}

// DeleteBefore removes entries whose ctime is older than cutoff (unix seconds).
func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	where := map[string]interface{}{
		"ctime <": cutoff,
	}
	sqlStr, args, err := builder.BuildDelete(embeddingCacheTable, where)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: clean embedding cache: %v", appErr.ErrStorage, err)
	}
	return res.RowsAffected()
}

package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

type pgvectorStore struct {
	db *sql.DB
}

func init() {
	Register("pgvector", createPGVectorStore)
}

func createPGVectorStore(deps Deps, _ interface{}) (Store, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("pgvector store requires a database")
	}
	return NewPGVectorStore(deps.DB), nil
}

func NewPGVectorStore(db *sql.DB) Store {
	return &pgvectorStore{db: db}
}

func (s *pgvectorStore) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	m, err := normalizeMetric(metric)
	if err != nil {
		return appErr.Wrap(appErr.ErrStorage, err)
	}
	const query = `
		INSERT INTO vector_collections (name, dimension, metric)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, name, dim, m)
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", appErr.ErrStorage, name, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logutil.GetLogger(ctx).Info("collection created", zap.String("collection", name), zap.Int("dim", dim))
	}
	stored, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	if stored != dim {
		return fmt.Errorf("%w: collection %s has dimension %d, want %d", appErr.ErrStorage, name, stored, dim)
	}
	return nil
}

func (s *pgvectorStore) dimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM vector_collections WHERE name = $1`, name).Scan(&dim)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("%w: collection %s not found", appErr.ErrStorage, name)
		}
		return 0, fmt.Errorf("%w: load collection %s: %v", appErr.ErrStorage, name, err)
	}
	return dim, nil
}

func (s *pgvectorStore) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO vector_points (collection, id, embedding, payload, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			updated_at = NOW()
	`
	for _, p := range points {
		if len(p.Vector) != dim {
			return fmt.Errorf("%w: vector dimension %d does not match collection dimension %d",
				appErr.ErrStorage, len(p.Vector), dim)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("%w: encode payload: %v", appErr.ErrStorage, err)
		}
		if _, err := s.db.ExecContext(ctx, query, collection, p.ID, pgvector.NewVector(p.Vector), payload); err != nil {
			return fmt.Errorf("%w: upsert point %s: %v", appErr.ErrStorage, p.ID, err)
		}
	}
	return nil
}

func (s *pgvectorStore) Search(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error) {
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query dimension %d does not match collection dimension %d",
			appErr.ErrStorage, len(vector), dim)
	}
	k = normalizeLimit(k)
	const query = `
		SELECT id, 1 - (embedding <=> $1) AS score, payload
		FROM vector_points
		WHERE collection = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), collection, k)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", appErr.ErrStorage, collection, err)
	}
	defer rows.Close()
	hits := make([]Hit, 0, k)
	for rows.Next() {
		var (
			hit     Hit
			score   float64
			payload []byte
		)
		if err := rows.Scan(&hit.ID, &score, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan hit: %v", appErr.ErrStorage, err)
		}
		hit.Score = float32(score)
		if err := json.Unmarshal(payload, &hit.Payload); err != nil {
			return nil, fmt.Errorf("%w: decode payload: %v", appErr.ErrStorage, err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrStorage, err)
	}
	return hits, nil
}

func (s *pgvectorStore) DeleteStale(ctx context.Context, collection string, fileName string, chunkCount int) (int64, error) {
	const query = `
		DELETE FROM vector_points
		WHERE collection = $1
			AND payload->>'file_name' = $2
			AND (payload->>'chunk_count')::integer <> $3
	`
	res, err := s.db.ExecContext(ctx, query, collection, fileName, chunkCount)
	if err != nil {
		return 0, fmt.Errorf("%w: delete stale points of %s: %v", appErr.ErrStorage, fileName, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

type qdrantConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"api_key"`
	UseTLS bool   `json:"use_tls"`
}

// qdrantAPI is the subset of *qdrant.Client the store uses.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

type qdrantStore struct {
	client qdrantAPI
}

func init() {
	Register("qdrant", createQdrantStore)
}

func createQdrantStore(_ Deps, args interface{}) (Store, error) {
	cfg := &qdrantConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant client: %v", appErr.ErrStorage, err)
	}
	return &qdrantStore{client: client}, nil
}

func (s *qdrantStore) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	if _, err := normalizeMetric(metric); err != nil {
		return appErr.Wrap(appErr.ErrStorage, err)
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: check collection %s: %v", appErr.ErrStorage, name, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		if isAlreadyExists(err) {
			logutil.GetLogger(ctx).Warn("collection created concurrently", zap.String("collection", name))
			return nil
		}
		return fmt.Errorf("%w: create collection %s: %v", appErr.ErrStorage, name, err)
	}
	logutil.GetLogger(ctx).Info("collection created", zap.String("collection", name), zap.Int("dim", dim))
	return nil
}

func (s *qdrantStore) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payloadToMap(p.Payload)),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert into %s: %v", appErr.ErrStorage, collection, err)
	}
	return nil
}

func (s *qdrantStore) Search(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error) {
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(normalizeLimit(k))),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", appErr.ErrStorage, collection, err)
	}
	hits := make([]Hit, 0, len(res))
	for _, sp := range res {
		hits = append(hits, Hit{
			ID:      pointIDString(sp.GetId()),
			Score:   sp.GetScore(),
			Payload: payloadFromValues(sp.GetPayload()),
		})
	}
	return hits, nil
}

func (s *qdrantStore) DeleteStale(ctx context.Context, collection string, fileName string, chunkCount int) (int64, error) {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must:    []*qdrant.Condition{qdrant.NewMatch("file_name", fileName)},
			MustNot: []*qdrant.Condition{qdrant.NewMatchInt("chunk_count", int64(chunkCount))},
		}),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete stale points of %s: %v", appErr.ErrStorage, fileName, err)
	}
	// qdrant does not report how many points a filtered delete removed
	return 0, nil
}

func isAlreadyExists(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.AlreadyExists
}

func (s *qdrantStore) Close() error {
	return s.client.Close()
}

func payloadToMap(p Payload) map[string]any {
	return map[string]any{
		"task_id":         p.TaskID,
		"file_name":       p.FileName,
		"chunk_index":     int64(p.ChunkIndex),
		"chunk_count":     int64(p.ChunkCount),
		"content_snippet": p.Snippet,
		"content":         p.Content,
	}
}

func payloadFromValues(values map[string]*qdrant.Value) Payload {
	return Payload{
		TaskID:     values["task_id"].GetIntegerValue(),
		FileName:   values["file_name"].GetStringValue(),
		ChunkIndex: int(values["chunk_index"].GetIntegerValue()),
		ChunkCount: int(values["chunk_count"].GetIntegerValue()),
		Snippet:    values["content_snippet"].GetStringValue(),
		Content:    values["content"].GetStringValue(),
	}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

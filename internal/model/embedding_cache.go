package model

// EmbeddingCacheKey identifies a cached embedding. ContentHash is the hex
// sha256 of the embedded text.
type EmbeddingCacheKey struct {
	ModelName   string `json:"model_name"`
	TaskType    string `json:"task_type"`
	ContentHash string `json:"content_hash"`
}

// String renders the key for in-memory caches.
func (k EmbeddingCacheKey) String() string {
	return "embed:" + k.ModelName + ":" + k.TaskType + ":" + k.ContentHash
}

// EmbeddingCache is a document embedding persisted so that re-ingesting
// unchanged chunks does not call the provider again.
type EmbeddingCache struct {
	EmbeddingCacheKey
	Embedding []float32 `json:"embedding"`
	Ctime     int64     `json:"ctime"`
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int               `json:"port" yaml:"port"`
	AdminSecret string            `json:"admin_secret" yaml:"admin_secret"`
	LogConfig   logger.LogConfig  `json:"log_config" yaml:"log_config"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	EventBus    EventBusConfig    `json:"event_bus" yaml:"event_bus"`
	VectorStore VectorStoreConfig `json:"vector_store" yaml:"vector_store"`
	AI          AIConfig          `json:"ai" yaml:"ai"`
	FileStore   FileStoreConfig   `json:"file_store" yaml:"file_store"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Query       QueryConfig       `json:"query" yaml:"query"`
	Jobs        JobsConfig        `json:"jobs" yaml:"jobs"`
	CORS        []string          `json:"cors_allowlist" yaml:"cors_allowlist"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
	MaxConns int    `json:"max_conns" yaml:"max_conns"`
}

type EventBusConfig struct {
	Brokers           []string `json:"brokers" yaml:"brokers"`
	Topic             string   `json:"topic" yaml:"topic"`
	GroupID           string   `json:"group_id" yaml:"group_id"`
	ConnectRetries    int      `json:"connect_retries" yaml:"connect_retries"`
	ConnectRetryDelay int      `json:"connect_retry_delay_seconds" yaml:"connect_retry_delay_seconds"`
	SendTimeout       int      `json:"send_timeout_seconds" yaml:"send_timeout_seconds"`
	PollWindowMs      int      `json:"poll_window_ms" yaml:"poll_window_ms"`
}

type VectorStoreConfig struct {
	Type       string      `json:"type" yaml:"type"`
	Collection string      `json:"collection" yaml:"collection"`
	Dimension  int         `json:"dimension" yaml:"dimension"`
	Metric     string      `json:"metric" yaml:"metric"`
	Data       interface{} `json:"data" yaml:"data"`
}

type EmbedCacheConfig struct {
	LRUSize       int  `json:"lru_size" yaml:"lru_size"`
	LRUTTLSeconds int  `json:"lru_ttl_seconds" yaml:"lru_ttl_seconds"`
	DB            bool `json:"db" yaml:"db"`
	MaxAgeDays    int  `json:"max_age_days" yaml:"max_age_days"`
}

type AIConfig struct {
	Provider    string           `json:"provider" yaml:"provider"`
	Data        interface{}      `json:"data" yaml:"data"`
	EmbedModel  string           `json:"embed_model" yaml:"embed_model"`
	ChatModel   string           `json:"chat_model" yaml:"chat_model"`
	Timeout     int              `json:"timeout" yaml:"timeout"`
	Temperature float32          `json:"temperature" yaml:"temperature"`
	MaxTokens   int              `json:"max_tokens" yaml:"max_tokens"`
	EmbedCache  EmbedCacheConfig `json:"embed_cache" yaml:"embed_cache"`
}

type FileStoreConfig struct {
	Type string      `json:"type" yaml:"type"`
	Data interface{} `json:"data" yaml:"data"`
}

type IngestConfig struct {
	ChunkBytes       int    `json:"chunk_bytes" yaml:"chunk_bytes"`
	SnippetBytes     int    `json:"snippet_bytes" yaml:"snippet_bytes"`
	StatusReporter   string `json:"status_reporter" yaml:"status_reporter"`
	APIBaseURL       string `json:"api_base_url" yaml:"api_base_url"`
	APIToken         string `json:"api_token" yaml:"api_token"`
	MaxUploadBytes   int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	IdleBackoffMs    int    `json:"idle_backoff_ms" yaml:"idle_backoff_ms"`
	ErrorBackoffSecs int    `json:"error_backoff_seconds" yaml:"error_backoff_seconds"`
}

type QueryConfig struct {
	TopK        int `json:"top_k" yaml:"top_k"`
	RateLimitMs int `json:"rate_limit_ms" yaml:"rate_limit_ms"`
}

type JobsConfig struct {
	BackfillSpec         string `json:"backfill_spec" yaml:"backfill_spec"`
	BackfillStaleMinutes int    `json:"backfill_stale_minutes" yaml:"backfill_stale_minutes"`
	BackfillBatch        int    `json:"backfill_batch" yaml:"backfill_batch"`
	BackfillWorkers      int    `json:"backfill_workers" yaml:"backfill_workers"`
	CacheCleanupSpec     string `json:"cache_cleanup_spec" yaml:"cache_cleanup_spec"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	return Parse(raw, filepath.Ext(path))
}

// Parse decodes raw config content. ${VAR} references are expanded from the
// environment first so secrets and endpoints can be injected at deploy time.
func Parse(raw []byte, ext string) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 5
	}
	if len(cfg.EventBus.Brokers) == 0 {
		return fmt.Errorf("event_bus.brokers is required")
	}
	if cfg.EventBus.Topic == "" {
		cfg.EventBus.Topic = "file-embedding-tasks"
	}
	if cfg.EventBus.GroupID == "" {
		cfg.EventBus.GroupID = "file-processor-group"
	}
	if cfg.EventBus.ConnectRetries <= 0 {
		cfg.EventBus.ConnectRetries = 5
	}
	if cfg.EventBus.ConnectRetryDelay <= 0 {
		cfg.EventBus.ConnectRetryDelay = 2
	}
	if cfg.EventBus.SendTimeout <= 0 {
		cfg.EventBus.SendTimeout = 10
	}
	if cfg.EventBus.PollWindowMs <= 0 {
		cfg.EventBus.PollWindowMs = 1000
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "qdrant"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "rag-collection"
	}
	if cfg.VectorStore.Dimension <= 0 {
		cfg.VectorStore.Dimension = 1536
	}
	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = "cosine"
	}
	if cfg.AI.Provider == "" {
		return fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.EmbedModel == "" {
		cfg.AI.EmbedModel = "text-embedding-3-small"
	}
	if cfg.AI.ChatModel == "" {
		cfg.AI.ChatModel = "gpt-4o"
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = 0.7
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 2000
	}
	if cfg.AI.EmbedCache.MaxAgeDays <= 0 {
		cfg.AI.EmbedCache.MaxAgeDays = 30
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.Ingest.ChunkBytes <= 0 {
		cfg.Ingest.ChunkBytes = 4000
	}
	if cfg.Ingest.SnippetBytes <= 0 {
		cfg.Ingest.SnippetBytes = 200
	}
	switch cfg.Ingest.StatusReporter {
	case "":
		cfg.Ingest.StatusReporter = "local"
	case "local":
	case "http":
		if cfg.Ingest.APIBaseURL == "" {
			return fmt.Errorf("ingest.api_base_url is required for http status reporter")
		}
	default:
		return fmt.Errorf("ingest.status_reporter must be local or http")
	}
	if cfg.Ingest.IdleBackoffMs <= 0 {
		cfg.Ingest.IdleBackoffMs = 100
	}
	if cfg.Ingest.ErrorBackoffSecs <= 0 {
		cfg.Ingest.ErrorBackoffSecs = 5
	}
	if cfg.Ingest.MaxUploadBytes <= 0 {
		cfg.Ingest.MaxUploadBytes = 20 << 20
	}
	if cfg.Query.TopK <= 0 {
		cfg.Query.TopK = 5
	}
	if cfg.Jobs.BackfillStaleMinutes <= 0 {
		cfg.Jobs.BackfillStaleMinutes = 30
	}
	if cfg.Jobs.BackfillBatch <= 0 {
		cfg.Jobs.BackfillBatch = 50
	}
	if cfg.Jobs.BackfillWorkers <= 0 {
		cfg.Jobs.BackfillWorkers = 4
	}
	return nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/ragpipe/internal/ai"
	"github.com/xxxsen/ragpipe/internal/config"
	"github.com/xxxsen/ragpipe/internal/db"
	"github.com/xxxsen/ragpipe/internal/embedcache"
	"github.com/xxxsen/ragpipe/internal/eventbus"
	"github.com/xxxsen/ragpipe/internal/filestore"
	"github.com/xxxsen/ragpipe/internal/handler"
	"github.com/xxxsen/ragpipe/internal/ingest"
	"github.com/xxxsen/ragpipe/internal/job"
	"github.com/xxxsen/ragpipe/internal/middleware"
	"github.com/xxxsen/ragpipe/internal/repo"
	"github.com/xxxsen/ragpipe/internal/schedule"
	"github.com/xxxsen/ragpipe/internal/service"
	"github.com/xxxsen/ragpipe/internal/vectorstore"
)

// app holds the components shared by the api and job commands.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	bus       *eventbus.Client
	files     filestore.Store
	vectors   vectorstore.Store
	embedder  ai.IEmbedder
	completer ai.ICompleter
	cacheRepo *repo.EmbeddingCacheRepo
	tasks     *service.TaskService
	query     *service.QueryService
	closers   []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.db = conn
	a.closers = append(a.closers, conn)
	if err := db.ApplyMigrations(ctx, conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	if err := a.initShared(ctx); err != nil {
		a.Close()
		return nil, err
	}
	bus, err := eventbus.New(ctx, busConfig(cfg))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.bus = bus
	a.closers = append(a.closers, bus)

	a.tasks = service.NewTaskService(repo.NewTaskRepo(conn), a.files, bus, cfg.EventBus.Topic)
	queryEmbedder := embedcache.WrapLruCacheToEmbedder(a.embedder, cfg.AI.EmbedCache.LRUSize,
		time.Duration(cfg.AI.EmbedCache.LRUTTLSeconds)*time.Second)
	a.query = service.NewQueryService(queryEmbedder, a.completer, a.vectors, a.files, cfg.VectorStore.Collection, cfg.Query.TopK)
	return a, nil
}

// initShared builds the content store, vector store and ai clients. a.db may
// be nil when the caller has no database.
func (a *app) initShared(ctx context.Context) error {
	cfg := a.cfg
	files, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	a.files = files

	vectors, err := vectorstore.New(cfg.VectorStore, vectorstore.Deps{DB: a.db})
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	a.vectors = vectors
	if c, ok := vectors.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	if err := vectors.EnsureCollection(ctx, cfg.VectorStore.Collection, cfg.VectorStore.Dimension, cfg.VectorStore.Metric); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	provider, err := ai.NewProvider(cfg.AI.Provider, providerArgs)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	timeout := time.Duration(cfg.AI.Timeout) * time.Second
	a.embedder = ai.NewEmbedder(provider, cfg.AI.EmbedModel, timeout)
	if cfg.AI.EmbedCache.DB && a.db != nil {
		a.cacheRepo = repo.NewEmbeddingCacheRepo(a.db)
		a.embedder = embedcache.WrapDBCacheToEmbedder(a.embedder, a.cacheRepo)
	}
	a.completer = ai.NewCompleter(provider, cfg.AI.ChatModel, ai.CompleteOptions{
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
	}, timeout)
	logutil.GetLogger(ctx).Info("components ready",
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("ai_provider", provider.Name()),
		zap.String("embed_model", cfg.AI.EmbedModel),
		zap.String("chat_model", cfg.AI.ChatModel))
	return nil
}

func (a *app) scheduler() (*schedule.CronScheduler, error) {
	sched := schedule.NewCronScheduler()
	backfill := job.NewTaskBackfillJob(a.tasks,
		time.Duration(a.cfg.Jobs.BackfillStaleMinutes)*time.Minute,
		a.cfg.Jobs.BackfillBatch, a.cfg.Jobs.BackfillWorkers)
	if err := sched.AddJob(backfill, a.cfg.Jobs.BackfillSpec); err != nil {
		return nil, err
	}
	if a.cacheRepo != nil {
		cleanup := job.NewEmbeddingCacheCleanupJob(a.cacheRepo, a.cfg.AI.EmbedCache.MaxAgeDays)
		if err := sched.AddJob(cleanup, a.cfg.Jobs.CacheCleanupSpec); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logutil.GetLogger(context.Background()).Warn("close component failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func busConfig(cfg *config.Config) eventbus.Config {
	return eventbus.Config{
		Brokers:           cfg.EventBus.Brokers,
		GroupID:           cfg.EventBus.GroupID,
		ConnectRetries:    cfg.EventBus.ConnectRetries,
		ConnectRetryDelay: time.Duration(cfg.EventBus.ConnectRetryDelay) * time.Second,
		SendTimeout:       time.Duration(cfg.EventBus.SendTimeout) * time.Second,
		PollWindow:        time.Duration(cfg.EventBus.PollWindowMs) * time.Millisecond,
	}
}

func runAPI(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.scheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	deps := handler.RouterDeps{
		Tasks:          handler.NewTaskHandler(a.tasks, cfg.Ingest.MaxUploadBytes),
		Query:          handler.NewQueryHandler(a.query),
		AdminSecret:    []byte(cfg.AdminSecret),
		ServiceToken:   cfg.Ingest.APIToken,
		QueryRateLimit: time.Duration(cfg.Query.RateLimitMs) * time.Millisecond,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORS),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	a := &app{cfg: cfg}
	defer a.Close()

	// the database is needed for local status reporting, the embedding cache
	// and the pgvector backend
	if cfg.Ingest.StatusReporter == "local" || cfg.AI.EmbedCache.DB || cfg.VectorStore.Type == "pgvector" {
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		a.db = conn
		a.closers = append(a.closers, conn)
		if err := db.ApplyMigrations(ctx, conn); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}
	if err := a.initShared(ctx); err != nil {
		return err
	}
	bus, err := eventbus.New(ctx, busConfig(cfg))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, bus)
	if err := bus.Subscribe(cfg.EventBus.Topic); err != nil {
		return err
	}

	var reporter ingest.StatusReporter
	switch cfg.Ingest.StatusReporter {
	case "http":
		reporter = ingest.NewHTTPReporter(cfg.Ingest.APIBaseURL, cfg.Ingest.APIToken, time.Duration(cfg.AI.Timeout)*time.Second)
	default:
		reporter = service.NewTaskService(repo.NewTaskRepo(a.db), a.files, bus, cfg.EventBus.Topic)
	}

	consumer := ingest.NewConsumer(ingest.Config{
		Collection:   cfg.VectorStore.Collection,
		Dimension:    cfg.VectorStore.Dimension,
		Metric:       cfg.VectorStore.Metric,
		ChunkBytes:   cfg.Ingest.ChunkBytes,
		SnippetBytes: cfg.Ingest.SnippetBytes,
		IdleBackoff:  time.Duration(cfg.Ingest.IdleBackoffMs) * time.Millisecond,
		ErrorBackoff: time.Duration(cfg.Ingest.ErrorBackoffSecs) * time.Second,
	}, bus, reporter, a.embedder, a.vectors)
	return consumer.Run(ctx)
}

func runJobOnce(ctx context.Context, cfg *config.Config, name string) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	return sched.RunNow(ctx, name)
}

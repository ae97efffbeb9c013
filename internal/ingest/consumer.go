// Package ingest runs the consumer that turns task_created events into
// stored vectors and task status updates.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragpipe/internal/ai"
	"github.com/xxxsen/ragpipe/internal/chunker"
	"github.com/xxxsen/ragpipe/internal/event"
	"github.com/xxxsen/ragpipe/internal/eventbus"
	"github.com/xxxsen/ragpipe/internal/model"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
	"github.com/xxxsen/ragpipe/internal/vectorstore"
)

const errNoContent = "no content to embed"

type EventSource interface {
	// Consume returns nil, nil when nothing arrived within the poll window.
	Consume(ctx context.Context) (*eventbus.Delivery, error)
	Ack(ctx context.Context, d *eventbus.Delivery) error
}

type StatusReporter interface {
	ReportStatus(ctx context.Context, id int64, upd model.TaskUpdate) error
}

type Config struct {
	Collection   string
	Dimension    int
	Metric       string
	ChunkBytes   int
	SnippetBytes int
	IdleBackoff  time.Duration
	ErrorBackoff time.Duration
}

type Consumer struct {
	cfg      Config
	source   EventSource
	reporter StatusReporter
	embedder ai.IEmbedder
	vectors  vectorstore.Store
}

func NewConsumer(cfg Config, source EventSource, reporter StatusReporter, embedder ai.IEmbedder, vectors vectorstore.Store) *Consumer {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = chunker.DefaultMaxBytes
	}
	if cfg.SnippetBytes <= 0 {
		cfg.SnippetBytes = 200
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 100 * time.Millisecond
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.Metric == "" {
		cfg.Metric = vectorstore.MetricCosine
	}
	return &Consumer{
		cfg:      cfg,
		source:   source,
		reporter: reporter,
		embedder: embedder,
		vectors:  vectors,
	}
}

// Run consumes events until ctx is cancelled. An event already being handled
// is finished before Run returns. Only a failure to prepare the collection is
// returned; everything else is logged and the loop moves on.
func (c *Consumer) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	if err := c.vectors.EnsureCollection(ctx, c.cfg.Collection, c.cfg.Dimension, c.cfg.Metric); err != nil {
		return fmt.Errorf("ensure collection %s: %w", c.cfg.Collection, err)
	}
	logger.Info("ingest consumer started", zap.String("collection", c.cfg.Collection))
	for {
		if ctx.Err() != nil {
			logger.Info("ingest consumer stopped")
			return nil
		}
		d, err := c.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("consume event failed", zap.Error(err), zap.Duration("backoff", c.cfg.ErrorBackoff))
			sleepCtx(ctx, c.cfg.ErrorBackoff)
			continue
		}
		if d == nil {
			sleepCtx(ctx, c.cfg.IdleBackoff)
			continue
		}
		workCtx := context.WithoutCancel(ctx)
		c.Handle(workCtx, d.Envelope)
		if err := c.source.Ack(workCtx, d); err != nil {
			logger.Error("ack event failed", zap.Int64("offset", d.Offset()), zap.Error(err))
		}
	}
}

// Handle processes one envelope. Unknown or malformed events are logged and
// dropped.
func (c *Consumer) Handle(ctx context.Context, env *event.Envelope) {
	ev, err := event.Decode(env)
	if err != nil {
		logutil.GetLogger(ctx).Warn("discard event", zap.String("event_type", env.EventType), zap.Error(err))
		return
	}
	switch ev := ev.(type) {
	case *event.TaskCreated:
		c.processTask(ctx, ev)
	default:
		logutil.GetLogger(ctx).Warn("discard event with no handler", zap.String("event_type", ev.Type()))
	}
}

func (c *Consumer) processTask(ctx context.Context, ev *event.TaskCreated) {
	logger := logutil.GetLogger(ctx).With(zap.Int64("task_id", ev.TaskID), zap.String("file_name", ev.FileName))
	logger.Info("processing task")
	c.report(ctx, ev.TaskID, model.TaskUpdate{Status: model.StatusPtr(model.TaskStatusProcessing)})

	raw, err := decodeContent(ev.FileContent)
	if err != nil {
		logger.Error("decode file content failed", zap.Error(err))
		c.fail(ctx, ev.TaskID, err.Error())
		return
	}
	chunks := chunker.Split(chunker.ExtractText(ev.FileName, raw), c.cfg.ChunkBytes)
	if len(chunks) == 0 {
		logger.Warn("task has no content to embed")
		c.fail(ctx, ev.TaskID, errNoContent)
		return
	}

	var errs []error
	stored := 0
	for i, chunk := range chunks {
		if err := c.storeChunk(ctx, ev, chunk, i, len(chunks)); err != nil {
			logger.Warn("chunk failed", zap.Int("chunk_index", i), zap.Int("chunk_count", len(chunks)), zap.Error(err))
			errs = append(errs, fmt.Errorf("chunk %d: %w", i, err))
			continue
		}
		stored++
	}
	if stored == 0 {
		c.fail(ctx, ev.TaskID, errors.Join(errs...).Error())
		return
	}
	if removed, err := c.vectors.DeleteStale(ctx, c.cfg.Collection, ev.FileName, len(chunks)); err != nil {
		logger.Warn("delete stale points failed", zap.Error(err))
	} else if removed > 0 {
		logger.Info("stale points removed", zap.Int64("removed", removed))
	}
	msg := ""
	if len(errs) > 0 {
		msg = errors.Join(errs...).Error()
	}
	c.report(ctx, ev.TaskID, model.TaskUpdate{
		Status:         model.StatusPtr(model.TaskStatusCompleted),
		ErrorMessage:   model.StringPtr(msg),
		EmbeddingCount: model.IntPtr(stored),
	})
	logger.Info("task completed", zap.Int("embedding_count", stored), zap.Int("failed_chunks", len(errs)))
}

func (c *Consumer) storeChunk(ctx context.Context, ev *event.TaskCreated, chunk string, index, count int) error {
	vec, err := c.embedder.Embed(ctx, chunk, ai.TaskTypeDocument)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	point := vectorstore.Point{
		ID:     vectorstore.PointID(ev.FileName, index, count),
		Vector: vec,
		Payload: vectorstore.Payload{
			TaskID:     ev.TaskID,
			FileName:   ev.FileName,
			ChunkIndex: index,
			ChunkCount: count,
			Snippet:    vectorstore.Snippet(chunk, c.cfg.SnippetBytes),
			Content:    chunk,
		},
	}
	if err := c.vectors.Upsert(ctx, c.cfg.Collection, point); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

func (c *Consumer) fail(ctx context.Context, id int64, msg string) {
	c.report(ctx, id, model.TaskUpdate{
		Status:       model.StatusPtr(model.TaskStatusFailed),
		ErrorMessage: model.StringPtr(msg),
	})
}

// report never fails the pipeline; a lost status update is only logged.
func (c *Consumer) report(ctx context.Context, id int64, upd model.TaskUpdate) {
	if err := c.reporter.ReportStatus(ctx, id, upd); err != nil {
		logutil.GetLogger(ctx).Warn("report task status failed",
			zap.Int64("task_id", id), zap.String("status", string(*upd.Status)), zap.Error(err))
	}
}

func decodeContent(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64 content: %v", appErr.ErrDecode, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: content is not valid utf-8", appErr.ErrDecode)
	}
	return string(raw), nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

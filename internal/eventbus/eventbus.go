// Package eventbus wraps kafka-go for publishing and consuming pipeline events.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragpipe/internal/event"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
	"github.com/xxxsen/ragpipe/internal/pkg/retry"
	"github.com/xxxsen/ragpipe/internal/pkg/timeutil"
)

type Config struct {
	Brokers           []string
	GroupID           string
	ConnectRetries    int
	ConnectRetryDelay time.Duration
	SendTimeout       time.Duration
	PollWindow        time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Delivery is one consumed message. It must be passed back to Ack once handled.
type Delivery struct {
	Envelope *event.Envelope
	msg      kafka.Message
}

func (d *Delivery) Topic() string {
	return d.msg.Topic
}

func (d *Delivery) Offset() int64 {
	return d.msg.Offset
}

type Client struct {
	cfg       Config
	writer    messageWriter
	newReader func(topics []string) messageReader

	mu     sync.Mutex
	reader messageReader
}

// New checks broker reachability, retrying a bounded number of times, and
// returns a client ready to publish. Call Subscribe before Consume.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg = withDefaults(cfg)
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no brokers configured", appErr.ErrTransport)
	}
	err := retry.Do(ctx, "eventbus.connect", cfg.ConnectRetries, cfg.ConnectRetryDelay, func(ctx context.Context) error {
		return dialAny(ctx, cfg.Brokers)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect brokers: %v", appErr.ErrTransport, err)
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.SendTimeout,
		AllowAutoTopicCreation: true,
	}
	newReader := func(topics []string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: topics,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10 << 20,
		})
	}
	logutil.GetLogger(ctx).Info("event bus connected", zap.Strings("brokers", cfg.Brokers))
	return newClient(cfg, writer, newReader), nil
}

func newClient(cfg Config, writer messageWriter, newReader func([]string) messageReader) *Client {
	return &Client{
		cfg:       withDefaults(cfg),
		writer:    writer,
		newReader: newReader,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 5
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = time.Second
	}
	return cfg
}

func dialAny(ctx context.Context, brokers []string) error {
	var errs []error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = conn.Close()
		return nil
	}
	return errors.Join(errs...)
}

// Publish sends one event and waits for the broker ack or the send timeout.
func (c *Client) Publish(ctx context.Context, topic string, ev event.Event) error {
	env, err := event.NewEnvelope(ev, time.Unix(timeutil.NowUnix(), 0))
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", appErr.ErrTransport, err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %v", appErr.ErrTransport, err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	if err := c.writer.WriteMessages(sendCtx, kafka.Message{
		Topic: topic,
		Key:   []byte(env.EventType),
		Value: raw,
	}); err != nil {
		return fmt.Errorf("%w: publish %s to %s: %v", appErr.ErrTransport, env.EventType, topic, err)
	}
	return nil
}

// Subscribe registers the consumer group's topics. It may only be called once.
func (c *Client) Subscribe(topics ...string) error {
	if len(topics) == 0 {
		return fmt.Errorf("%w: no topics", appErr.ErrInvalid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != nil {
		return fmt.Errorf("%w: already subscribed", appErr.ErrConflict)
	}
	c.reader = c.newReader(topics)
	return nil
}

// Consume returns the next message, or nil when nothing arrived within the
// poll window. Messages whose envelope cannot be parsed are committed and
// skipped.
func (c *Client) Consume(ctx context.Context) (*Delivery, error) {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return nil, fmt.Errorf("%w: consume before subscribe", appErr.ErrTransport)
	}
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollWindow)
	defer cancel()
	msg, err := reader.FetchMessage(pollCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: fetch: %v", appErr.ErrTransport, err)
	}
	env, err := event.ParseEnvelope(msg.Value)
	if err != nil {
		logutil.GetLogger(ctx).Warn("drop undecodable message",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		if cerr := reader.CommitMessages(ctx, msg); cerr != nil {
			return nil, fmt.Errorf("%w: commit: %v", appErr.ErrTransport, cerr)
		}
		return nil, nil
	}
	return &Delivery{Envelope: env, msg: msg}, nil
}

// Ack commits the delivery's offset for the consumer group.
func (c *Client) Ack(ctx context.Context, d *Delivery) error {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil || d == nil {
		return nil
	}
	if err := reader.CommitMessages(ctx, d.msg); err != nil {
		return fmt.Errorf("%w: commit: %v", appErr.ErrTransport, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	reader := c.reader
	c.reader = nil
	c.mu.Unlock()
	var errs []error
	if reader != nil {
		errs = append(errs, reader.Close())
	}
	if c.writer != nil {
		errs = append(errs, c.writer.Close())
	}
	return errors.Join(errs...)
}

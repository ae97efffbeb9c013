package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	TaskTypeDocument = "RETRIEVAL_DOCUMENT"
	TaskTypeQuery    = "RETRIEVAL_QUERY"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompleteOptions struct {
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

type IProvider interface {
	Name() string
	Complete(ctx context.Context, model string, msgs []Message, opts CompleteOptions) (string, error)
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

type ICompleter interface {
	Complete(ctx context.Context, msgs []Message, jsonMode bool) (string, error)
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type completer struct {
	provider IProvider
	model    string
	opts     CompleteOptions
	timeout  time.Duration
}

func NewCompleter(p IProvider, model string, opts CompleteOptions, timeout time.Duration) ICompleter {
	return &completer{provider: p, model: model, opts: opts, timeout: timeout}
}

func (c *completer) Complete(ctx context.Context, msgs []Message, jsonMode bool) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	opts := c.opts
	opts.JSONMode = jsonMode
	return c.provider.Complete(ctx, c.model, msgs, opts)
}

type embedder struct {
	provider IProvider
	model    string
	timeout  time.Duration
}

func NewEmbedder(p IProvider, model string, timeout time.Duration) IEmbedder {
	return &embedder{provider: p, model: model, timeout: timeout}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()
	vec, err := e.provider.Embed(ctx, e.model, text, taskType)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, &UpstreamError{Provider: e.provider.Name(), Message: "empty embedding"}
	}
	return vec, nil
}

func (e *embedder) ModelName() string {
	return e.model
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

type ProviderFactory func(args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}

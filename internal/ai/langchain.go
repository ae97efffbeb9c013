package ai

import (
	"context"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
)

type ollamaConfig struct {
	ServerURL string `json:"server_url"`
}

type anthropicConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// langchainProvider adapts langchaingo models. Ollama binds the embedding
// model at construction, so one client is kept per model name.
type langchainProvider struct {
	name     string
	newLLM   func(model string) (llms.Model, error)
	canEmbed bool

	mu        sync.Mutex
	models    map[string]llms.Model
	embedders map[string]embeddings.Embedder
}

func (p *langchainProvider) Name() string {
	return p.name
}

func (p *langchainProvider) model(name string) (llms.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.models[name]; ok {
		return m, nil
	}
	m, err := p.newLLM(name)
	if err != nil {
		return nil, &UpstreamError{Provider: p.name, Message: err.Error()}
	}
	p.models[name] = m
	return m, nil
}

func (p *langchainProvider) Complete(ctx context.Context, model string, msgs []Message, opts CompleteOptions) (string, error) {
	llm, err := p.model(model)
	if err != nil {
		return "", err
	}
	contents := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		contents = append(contents, llms.TextParts(role, m.Content))
	}
	callOpts := []llms.CallOption{llms.WithModel(model)}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(float64(opts.Temperature)))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	resp, err := llm.GenerateContent(ctx, contents, callOpts...)
	if err != nil {
		return "", &UpstreamError{Provider: p.name, Message: err.Error()}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &UpstreamError{Provider: p.name, Message: "response has no choices"}
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (p *langchainProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	_ = taskType
	if !p.canEmbed {
		return nil, ErrUnavailable
	}
	emb, err := p.embedder(model)
	if err != nil {
		return nil, err
	}
	vec, err := emb.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &UpstreamError{Provider: p.name, Message: err.Error()}
	}
	return vec, nil
}

func (p *langchainProvider) embedder(model string) (embeddings.Embedder, error) {
	llm, err := p.model(model)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.embedders[model]; ok {
		return e, nil
	}
	client, ok := llm.(embeddings.EmbedderClient)
	if !ok {
		return nil, ErrUnavailable
	}
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, &UpstreamError{Provider: p.name, Message: err.Error()}
	}
	p.embedders[model] = e
	return e, nil
}

func newLangchainProvider(name string, canEmbed bool, newLLM func(model string) (llms.Model, error)) *langchainProvider {
	return &langchainProvider{
		name:      name,
		newLLM:    newLLM,
		canEmbed:  canEmbed,
		models:    map[string]llms.Model{},
		embedders: map[string]embeddings.Embedder{},
	}
}

func createOllamaFactory(args interface{}) (IProvider, error) {
	cfg := &ollamaConfig{}
	if args != nil {
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
	}
	return newLangchainProvider("ollama", true, func(model string) (llms.Model, error) {
		opts := []ollama.Option{ollama.WithModel(model)}
		if cfg.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, err
		}
		return llm, nil
	}), nil
}

func createAnthropicFactory(args interface{}) (IProvider, error) {
	cfg := &anthropicConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	return newLangchainProvider("anthropic", false, func(model string) (llms.Model, error) {
		if apiKey == "" {
			return nil, ErrUnavailable
		}
		opts := []anthropic.Option{anthropic.WithToken(apiKey), anthropic.WithModel(model)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, err
		}
		return llm, nil
	}), nil
}

func init() {
	Register("ollama", createOllamaFactory)
	Register("anthropic", createAnthropicFactory)
}

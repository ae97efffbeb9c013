package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

type geminiConfig struct {
	APIKey     string `json:"api_key"`
	Dimensions int    `json:"dimensions"`
}

type geminiProvider struct {
	apiKey     string
	dimensions int
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &UpstreamError{Provider: p.Name(), Message: err.Error()}
	}
	return client, nil
}

func (p *geminiProvider) Complete(ctx context.Context, model string, msgs []Message, opts CompleteOptions) (string, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return "", err
	}
	config := &genai.GenerateContentConfig{}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSONMode {
		config.ResponseMIMEType = "application/json"
	}
	var contents []*genai.Content
	var system []string
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}
	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", p.wrapError(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *geminiProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	var config *genai.EmbedContentConfig
	if taskType != "" || p.dimensions > 0 {
		config = &genai.EmbedContentConfig{TaskType: taskType}
		if p.dimensions > 0 {
			config.OutputDimensionality = genai.Ptr(int32(p.dimensions))
		}
	}
	resp, err := client.Models.EmbedContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, &UpstreamError{Provider: p.Name(), Message: "no embedding values returned"}
	}
	return resp.Embeddings[0].Values, nil
}

func (p *geminiProvider) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: p.Name(), StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &UpstreamError{Provider: p.Name(), StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return &UpstreamError{Provider: p.Name(), Message: err.Error()}
}

func createGeminiFactory(args interface{}) (IProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiProvider{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		dimensions: cfg.Dimensions,
	}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
}

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) IProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewProvider("openai", map[string]interface{}{
		"api_key":  "sk-test",
		"base_url": srv.URL,
	})
	require.NoError(t, err)
	return p
}

func TestOpenAIEmbed(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "text-embedding-3-small", req.Model)
		require.Equal(t, "hello", req.Input)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	})
	e := NewEmbedder(p, "text-embedding-3-small", time.Second)
	vec, err := e.Embed(context.Background(), "hello", TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	require.Equal(t, "text-embedding-3-small", e.ModelName())
}

func TestOpenAIEmbedUpstreamStatus(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})
	_, err := NewEmbedder(p, "m", 0).Embed(context.Background(), "hello", "")
	require.True(t, errors.Is(err, appErr.ErrUpstream))
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	require.Equal(t, http.StatusTooManyRequests, upErr.StatusCode)
	require.Equal(t, "rate limited", upErr.Message)
}

func TestOpenAIEmbedEmptyResult(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	_, err := NewEmbedder(p, "m", 0).Embed(context.Background(), "hello", "")
	require.True(t, errors.Is(err, appErr.ErrUpstream))
}

func TestOpenAIComplete(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		require.Equal(t, RoleSystem, req.Messages[0].Role)
		require.NotNil(t, req.ResponseFormat)
		require.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Equal(t, 2000, req.MaxTokens)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  {\"a\":1}  "}}]}`))
	})
	c := NewCompleter(p, "gpt-4o", CompleteOptions{Temperature: 0.7, MaxTokens: 2000}, time.Second)
	out, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
	}, true)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, out)
}

func TestOpenAIMissingKey(t *testing.T) {
	p, err := NewProvider("openai", map[string]interface{}{})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "m", "x", "")
	require.True(t, errors.Is(err, ErrUnavailable))
	require.True(t, errors.Is(err, appErr.ErrUpstream))
}

func TestOpenRouterHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "https://example.com", r.Header.Get("HTTP-Referer"))
		require.Equal(t, "ragpipe", r.Header.Get("X-Title"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()
	p, err := NewProvider("openrouter", map[string]interface{}{
		"api_key":      "k",
		"base_url":     srv.URL,
		"http_referer": "https://example.com",
		"x_title":      "ragpipe",
	})
	require.NoError(t, err)
	out, err := p.Complete(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, CompleteOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}

func TestUnsupportedProvider(t *testing.T) {
	_, err := NewProvider("llama", nil)
	require.Error(t, err)
	_, err = NewProvider("", nil)
	require.Error(t, err)
}

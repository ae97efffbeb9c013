package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragpipe/internal/ai"
	"github.com/xxxsen/ragpipe/internal/filestore"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
	"github.com/xxxsen/ragpipe/internal/vectorstore"
)

const (
	DefaultTopK    = 5
	maxSearchLimit = 100

	noContextText = "(no relevant documents found)"
)

type SearchHit struct {
	Score    float32 `json:"score"`
	TaskID   int64   `json:"task_id"`
	FileName string  `json:"file_name"`
	Snippet  string  `json:"content_snippet"`
}

type SearchResult struct {
	Query      string      `json:"query"`
	Results    []SearchHit `json:"results"`
	TotalFound int         `json:"total_found"`
}

type QueryRequest struct {
	Query        string `json:"query"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	UserPrompt   string `json:"user_prompt,omitempty"`
	JSONMode     bool   `json:"json_mode,omitempty"`
}

type RetrievedChunk struct {
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
	Content string  `json:"content"`
}

type QueryResult struct {
	Answer    string           `json:"answer"`
	Sources   []string         `json:"sources"`
	Retrieved []RetrievedChunk `json:"retrieved"`
}

type QueryService struct {
	embedder   ai.IEmbedder
	completer  ai.ICompleter
	vectors    vectorstore.Store
	files      filestore.Store
	collection string
	topK       int
}

func NewQueryService(embedder ai.IEmbedder, completer ai.ICompleter, vectors vectorstore.Store, files filestore.Store, collection string, topK int) *QueryService {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &QueryService{
		embedder:   embedder,
		completer:  completer,
		vectors:    vectors,
		files:      files,
		collection: collection,
		topK:       topK,
	}
}

func (s *QueryService) retrieve(ctx context.Context, query string, k int) ([]vectorstore.Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", appErr.ErrInvalid)
	}
	vec, err := s.embedder.Embed(ctx, query, ai.TaskTypeQuery)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrQuery, fmt.Errorf("embed query: %w", err))
	}
	hits, err := s.vectors.Search(ctx, s.collection, vec, k)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrQuery, fmt.Errorf("search vectors: %w", err))
	}
	return hits, nil
}

// Search returns the chunks closest to query, best match first.
func (s *QueryService) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = s.topK
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	hits, err := s.retrieve(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	results := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchHit{
			Score:    hit.Score,
			TaskID:   hit.Payload.TaskID,
			FileName: hit.Payload.FileName,
			Snippet:  hit.Payload.Snippet,
		})
	}
	return &SearchResult{Query: query, Results: results, TotalFound: len(results)}, nil
}

// Answer retrieves the top chunks for the query and asks the completion model
// to answer from them. Any failure fails the whole request.
func (s *QueryService) Answer(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	hits, err := s.retrieve(ctx, req.Query, s.topK)
	if err != nil {
		return nil, err
	}
	retrieved := make([]RetrievedChunk, 0, len(hits))
	sources := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		source := hit.Payload.FileName
		retrieved = append(retrieved, RetrievedChunk{
			Source:  source,
			Score:   hit.Score,
			Content: s.resolveContent(ctx, hit),
		})
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		sources = append(sources, source)
	}
	msgs := buildMessages(req, buildContext(retrieved))
	answer, err := s.completer.Complete(ctx, msgs, req.JSONMode)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrQuery, fmt.Errorf("complete: %w", err))
	}
	logutil.GetLogger(ctx).Info("query answered",
		zap.Int("retrieved", len(retrieved)),
		zap.Strings("sources", sources))
	return &QueryResult{Answer: answer, Sources: sources, Retrieved: retrieved}, nil
}

// resolveContent prefers the chunk text stored with the point, then the
// document in the content store, then the snippet.
func (s *QueryService) resolveContent(ctx context.Context, hit vectorstore.Hit) string {
	if hit.Payload.Content != "" {
		return hit.Payload.Content
	}
	if s.files != nil && hit.Payload.FileName != "" {
		data, err := filestore.ReadAll(ctx, s.files, filestore.KeyFor(hit.Payload.FileName))
		if err == nil {
			return string(data)
		}
		logutil.GetLogger(ctx).Warn("resolve hit content failed, using snippet",
			zap.String("point_id", hit.ID), zap.String("file_name", hit.Payload.FileName), zap.Error(err))
	}
	return hit.Payload.Snippet
}

func buildContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return noContextText
	}
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Source: %s]\n%s", c.Source, strings.TrimSpace(c.Content))
	}
	return sb.String()
}

func buildMessages(req QueryRequest, contextBlock string) []ai.Message {
	msgs := make([]ai.Message, 0, 2)
	if sp := strings.TrimSpace(req.SystemPrompt); sp != "" {
		msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: sp})
	}
	var sb strings.Builder
	if up := strings.TrimSpace(req.UserPrompt); up != "" {
		sb.WriteString(up)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Context:\n")
	sb.WriteString(contextBlock)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(strings.TrimSpace(req.Query))
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: sb.String()})
	return msgs
}

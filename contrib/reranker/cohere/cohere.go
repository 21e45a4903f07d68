// Package cohere reranks retrieved passages with Cohere's ReRank API, which
// scores the passage text against the question instead of comparing vectors.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sweetpotato0/bookqa/knowledge"
	"github.com/sweetpotato0/bookqa/pkg/logging"
	"github.com/sweetpotato0/bookqa/rag/reranker"
)

const defaultEndpoint = "https://api.cohere.com/v1/rerank"

var _ reranker.Reranker = (*Client)(nil)

// Client implements Cohere's ReRank API.
type Client struct {
	apiKey     string
	model      string
	topN       int
	httpClient *http.Client
	endpoint   string
	fallback   reranker.Reranker
	logger     *slog.Logger
}

// Option customises the Cohere reranker client.
type Option func(*Client)

// WithModel overrides the default Cohere model (rerank-english-v3.0).
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTopN limits how many hits Cohere re-ranks per call. Hits past the
// limit keep their store order after the ranked ones.
func WithTopN(topN int) Option {
	return func(c *Client) {
		if topN > 0 {
			c.topN = topN
		}
	}
}

// WithHTTPClient swaps the HTTP client (useful for timeouts or proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithEndpoint overrides the Cohere API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithFallback specifies the reranker used when Cohere is unavailable.
func WithFallback(r reranker.Reranker) Option {
	return func(c *Client) {
		if r != nil {
			c.fallback = r
		}
	}
}

// New creates a new Cohere-based reranker. Without an API key every call
// goes to the fallback.
func New(apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     apiKey,
		model:      "rerank-english-v3.0",
		topN:       50,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   defaultEndpoint,
		fallback:   reranker.NewCosineReranker(),
		logger:     logging.WithComponent("cohere_reranker"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// Rank implements reranker.Reranker. The query text is read from ctx; see
// reranker.ContextWithQuery.
func (c *Client) Rank(ctx context.Context, queryVector []float32, hits []knowledge.Hit) ([]knowledge.Hit, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	query, ok := reranker.QueryFromContext(ctx)
	if !ok || strings.TrimSpace(query) == "" || c.apiKey == "" {
		return c.fallback.Rank(ctx, queryVector, hits)
	}

	ranked, err := c.rerank(ctx, query, hits)
	if err != nil {
		c.logger.Warn("cohere rerank failed, using fallback", "error", err)
		return c.fallback.Rank(ctx, queryVector, hits)
	}
	return ranked, nil
}

func (c *Client) rerank(ctx context.Context, query string, hits []knowledge.Hit) ([]knowledge.Hit, error) {
	limit := min(len(hits), c.topN)
	docs := make([]string, limit)
	for i := range limit {
		docs[i] = hits[i].Text
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: docs,
		TopN:      limit,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cohere rerank failed: status %d", resp.StatusCode)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode cohere response: %w", err)
	}

	out := make([]knowledge.Hit, 0, len(hits))
	seen := make(map[int]bool, limit)
	for _, res := range rr.Results {
		if res.Index < 0 || res.Index >= limit || seen[res.Index] {
			continue
		}
		seen[res.Index] = true
		h := hits[res.Index]
		h.Score = res.RelevanceScore
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cohere returned no results")
	}
	for i, h := range hits {
		if !seen[i] {
			out = append(out, h)
		}
	}
	return out, nil
}

// Package retrieval is the gateway to the external document search service.
// The service owns ranking; the gateway normalizes queries, passes result
// order through untouched, and attaches citation metadata.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrEmptyQuery is returned when a search query is empty or whitespace.
	ErrEmptyQuery = errors.New("retrieval query is empty")
	// ErrUnavailable is returned on transport, timeout, or server-side
	// failure of the search service. Zero results is NOT an error.
	ErrUnavailable = errors.New("retrieval service unavailable")
)

// Document is one ranked hit returned by the search service.
type Document struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
	// Source is the citation for the document (URL or document path).
	Source string `json:"source"`
}

// Result is a ranked, ephemeral retrieval result. It lives only for the
// turn that produced it: it is logged and fed back to the model, never
// persisted on its own.
type Result struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
}

// Config configures a Gateway.
type Config struct {
	// Endpoint is the search service URL.
	Endpoint string
	// Timeout bounds a single search call.
	Timeout time.Duration
	// MaxTopK clamps the number of documents requested per search.
	MaxTopK int
}

// Gateway calls the external search service. It performs exactly one call
// per Search; retry policy belongs to the caller.
type Gateway struct {
	endpoint string
	client   *http.Client
	maxTopK  int
}

// NewGateway creates a retrieval gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("retrieval endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxTopK := cfg.MaxTopK
	if maxTopK <= 0 {
		maxTopK = 20
	}
	return &Gateway{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		maxTopK:  maxTopK,
	}, nil
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []Document `json:"results"`
}

// Search queries the service for the topK most relevant documents.
// Order is the service's ranking, passed through unchanged.
func (g *Gateway) Search(ctx context.Context, query string, topK int) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if topK > g.maxTopK {
		topK = g.maxTopK
	}

	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}

	return &Result{Query: query, Documents: parsed.Results}, nil
}

// Ping checks that the search service endpoint is reachable. Any HTTP
// response counts as reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = resp.Body.Close()
	return nil
}

// Package embed provides the client for the hosted text-embedding service.
// One call is one outbound HTTP request; the client never retries.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

// DefaultTimeout bounds a single embedding request.
const DefaultTimeout = 30 * time.Second

// ErrEmptyText is returned for blank input without contacting the service.
var ErrEmptyText = errors.New("embed: empty text")

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config controls the HTTP client.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
	Metrics *metrics.Registry // optional
}

// Client calls an inference endpoint that accepts {"inputs": text} and
// answers with a JSON vector, e.g. a sentence-transformers feature-extraction
// deployment.
type Client struct {
	url    string
	token  string
	client *http.Client
	met    *metrics.Registry
	dims   atomic.Int64
}

var _ Embedder = (*Client)(nil)

// NewClient creates an embedding client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:   cfg.URL,
		token: cfg.Token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		met: cfg.Metrics,
	}
}

type embedReq struct {
	Inputs string `json:"inputs"`
}

// Dimension returns the vector length of the last successful response, or 0.
func (c *Client) Dimension() int { return int(c.dims.Load()) }

// Embed returns the embedding for text. Every failure other than empty input
// is a *domain.EmbeddingServiceError.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()
	vec, status, err := c.do(ctx, text)
	c.observe(status, err, start)
	if err != nil {
		return nil, err
	}
	c.dims.Store(int64(len(vec)))
	return vec, nil
}

func (c *Client) do(ctx context.Context, text string) ([]float32, int, error) {
	body, _ := json.Marshal(embedReq{Inputs: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, domain.NewEmbeddingServiceError(0, nil, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, domain.NewEmbeddingServiceError(0, nil, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, domain.NewEmbeddingServiceError(resp.StatusCode, nil, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, domain.NewEmbeddingServiceError(resp.StatusCode, raw, nil)
	}

	vec, err := decodeVector(raw)
	if err != nil {
		return nil, resp.StatusCode, domain.NewEmbeddingServiceError(resp.StatusCode, raw, err)
	}
	return vec, resp.StatusCode, nil
}

// decodeVector accepts a flat vector or a single-row nested vector.
func decodeVector(raw []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, errors.New("decode: empty vector")
		}
		return flat, nil
	}
	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(nested) != 1 || len(nested[0]) == 0 {
		return nil, fmt.Errorf("decode: expected one vector, got %d rows", len(nested))
	}
	return nested[0], nil
}

func (c *Client) observe(status int, err error, start time.Time) {
	if c.met == nil {
		return
	}
	label := strconv.Itoa(status)
	if status == 0 && err != nil {
		label = "error"
	}
	c.met.Counter(metrics.WithLabels("reddit_etl_embed_requests_total", "status", label), "Embedding requests by HTTP status").Inc()
	c.met.Histogram("reddit_etl_embed_duration_seconds", "Embedding request latency", nil).Since(start)
}

// Package sentiment calls a hosted text-classification model, such as
// distilbert-base-uncased-finetuned-sst-2-english, for positive/negative
// labels. Like pkg/embed it sends {"inputs": text} with an optional bearer
// token and never retries.
package sentiment

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
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

// DefaultTimeout bounds a single classification request.
const DefaultTimeout = 30 * time.Second

// Labels returned by sst-2 style models.
const (
	Positive = "POSITIVE"
	Negative = "NEGATIVE"
)

// maxErrorBody bounds the response body kept on a ServiceError.
const maxErrorBody = 4096

// ErrEmptyText is returned for blank input without contacting the service.
var ErrEmptyText = errors.New("sentiment: empty text")

// Label is one classification with its confidence.
type Label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Positive reports whether l is the positive class.
func (l Label) Positive() bool { return strings.EqualFold(l.Label, Positive) }

// Classifier labels text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Label, error)
}

// ServiceError reports a failed call to the classification service.
// StatusCode is zero when no response arrived.
type ServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("sentiment service: status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("sentiment service: status %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("sentiment service: %v", e.Err)
	}
}

func (e *ServiceError) Unwrap() error { return e.Err }

func serviceError(status int, body []byte, err error) *ServiceError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &ServiceError{StatusCode: status, Body: string(body), Err: err}
}

// Config controls the HTTP client.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
	Metrics *metrics.Registry // optional
}

// Client is an HTTP Classifier.
type Client struct {
	url    string
	token  string
	client *http.Client
	met    *metrics.Registry
}

var _ Classifier = (*Client)(nil)

// NewClient creates a classification client.
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

type classifyReq struct {
	Inputs string `json:"inputs"`
}

// Classify returns the highest-scoring label for text. Every failure other
// than empty input is a *ServiceError.
func (c *Client) Classify(ctx context.Context, text string) (Label, error) {
	if strings.TrimSpace(text) == "" {
		return Label{}, ErrEmptyText
	}
	start := time.Now()
	l, status, err := c.do(ctx, text)
	c.observe(status, err, start)
	return l, err
}

func (c *Client) do(ctx context.Context, text string) (Label, int, error) {
	body, _ := json.Marshal(classifyReq{Inputs: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Label{}, 0, serviceError(0, nil, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Label{}, 0, serviceError(0, nil, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Label{}, resp.StatusCode, serviceError(resp.StatusCode, nil, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return Label{}, resp.StatusCode, serviceError(resp.StatusCode, raw, nil)
	}
	l, err := decodeLabels(raw)
	if err != nil {
		return Label{}, resp.StatusCode, serviceError(resp.StatusCode, raw, err)
	}
	return l, resp.StatusCode, nil
}

// decodeLabels accepts [{label, score}...] or the single-row nested form and
// returns the best-scoring label.
func decodeLabels(raw []byte) (Label, error) {
	var flat []Label
	if err := json.Unmarshal(raw, &flat); err != nil {
		var nested [][]Label
		if err := json.Unmarshal(raw, &nested); err != nil {
			return Label{}, fmt.Errorf("decode: %w", err)
		}
		if len(nested) != 1 {
			return Label{}, fmt.Errorf("decode: expected one row, got %d", len(nested))
		}
		flat = nested[0]
	}
	if len(flat) == 0 {
		return Label{}, errors.New("decode: no labels")
	}
	best := flat[0]
	for _, l := range flat[1:] {
		if l.Score > best.Score {
			best = l
		}
	}
	if best.Label == "" {
		return Label{}, errors.New("decode: empty label")
	}
	return best, nil
}

func (c *Client) observe(status int, err error, start time.Time) {
	if c.met == nil {
		return
	}
	label := strconv.Itoa(status)
	if status == 0 && err != nil {
		label = "error"
	}
	c.met.Counter(metrics.WithLabels("reddit_etl_sentiment_requests_total", "status", label), "Sentiment requests by HTTP status").Inc()
	c.met.Histogram("reddit_etl_sentiment_duration_seconds", "Sentiment request latency", nil).Since(start)
}

// Package reddit extracts posts and comments from Reddit's public JSON API.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/fn"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

// DefaultBaseURL is Reddit's public web host.
const DefaultBaseURL = "https://www.reddit.com"

// maxPageSize is the largest page Reddit serves for a listing.
const maxPageSize = 100

// Config controls an Extractor.
type Config struct {
	BaseURL   string
	UserAgent string
	// RateLimit is the minimum spacing between requests. Zero disables it.
	RateLimit  time.Duration
	Retry      fn.RetryOpts
	Breaker    BreakerOpts
	HTTPClient *http.Client
	Metrics    *metrics.Registry
	Logger     *slog.Logger
}

// Extractor scrapes subreddit listings.
type Extractor struct {
	base    string
	agent   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *breaker
	retry   fn.RetryOpts
	logger  *slog.Logger
	now     func() time.Time

	reg      *metrics.Registry
	posts    *metrics.Counter
	failures *metrics.Counter
}

// StatusError is a non-200 answer from Reddit.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reddit: http %d from %s", e.StatusCode, e.URL)
}

// Transient reports whether retrying the request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "reddit-etl/1.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 5 * time.Second,
			MaxWait:     30 * time.Second,
			Jitter:      true,
		}
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = retryable
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Every(cfg.RateLimit)
	}
	state := cfg.Metrics.Gauge("reddit_etl_reddit_breaker_state", "Reddit circuit breaker state (0 closed, 1 open, 2 half-open)")
	logger := cfg.Logger
	onChange := func(s BreakerState) {
		state.Set(int64(s))
		logger.Warn("reddit: circuit breaker", "state", s.String())
	}
	return &Extractor{
		base:     cfg.BaseURL,
		agent:    cfg.UserAgent,
		client:   cfg.HTTPClient,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  newBreaker(cfg.Breaker, onChange),
		retry:    cfg.Retry,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		reg:      cfg.Metrics,
		posts:    cfg.Metrics.Counter("reddit_etl_reddit_posts_total", "Posts extracted"),
		failures: cfg.Metrics.Counter("reddit_etl_reddit_subreddit_failures_total", "Subreddits skipped after errors"),
	}
}

// retryable retries network failures and transient HTTP statuses, never
// decode errors, 4xx answers or calls rejected by the breaker.
func retryable(err error) bool {
	return !errors.Is(err, ErrCircuitOpen) && outage(err)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "reddit: decode: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// Extract scrapes every subreddit and sort in p and returns the posts in the
// order they were first seen. A post listed under several sorts is returned
// once. Failures on one subreddit are logged and the subreddit skipped; only
// cancellation stops the run.
func (e *Extractor) Extract(ctx context.Context, p domain.ScrapeParams) ([]domain.Post, error) {
	p, err := domain.ValidateScrapeParams(p)
	if err != nil {
		return nil, err
	}

	var (
		out  []domain.Post
		seen = make(map[string]bool)
	)
	for _, sub := range p.Subreddits {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		posts, err := e.extractSubreddit(ctx, sub, p, seen)
		out = append(out, posts...)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			e.failures.Inc()
			e.logger.Warn("reddit: subreddit skipped", "subreddit", sub, "error", err)
			continue
		}
		e.logger.Info("reddit: subreddit extracted", "subreddit", sub, "posts", len(posts))
	}
	return out, nil
}

func (e *Extractor) extractSubreddit(ctx context.Context, sub string, p domain.ScrapeParams, seen map[string]bool) ([]domain.Post, error) {
	var out []domain.Post
	for _, sort := range p.Sorts {
		things, err := e.listing(ctx, sub, sort, p)
		if err != nil {
			return out, fmt.Errorf("r/%s %s: %w", sub, sort, err)
		}
		scrapedAt := e.now()
		for _, t := range things {
			d := t.Data
			if seen[d.ID] {
				continue
			}
			post := d.post(scrapedAt)
			if !p.InWindow(post.CreatedUTC) || !p.MatchesText(post.Title, post.SelfText) {
				continue
			}
			seen[d.ID] = true
			if p.IncludeComments {
				comments, err := e.Comments(ctx, d.Permalink, p.CommentLimit)
				if err != nil {
					if ctx.Err() != nil {
						return out, ctx.Err()
					}
					e.logger.Warn("reddit: comments skipped", "post", d.ID, "error", err)
				}
				post.Comments = comments
			}
			out = append(out, post)
			e.posts.Inc()
		}
	}
	return out, nil
}

// listing pages through one subreddit listing until limit posts were read or
// the listing ends. The new listing stops early once it passes p.From.
func (e *Extractor) listing(ctx context.Context, sub string, sort domain.SortType, p domain.ScrapeParams) ([]thing, error) {
	var (
		out   []thing
		after string
	)
	for len(out) < p.PostLimit {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(min(maxPageSize, p.PostLimit-len(out))))
		q.Set("raw_json", "1")
		if after != "" {
			q.Set("after", after)
		}
		if sort == domain.SortTop {
			q.Set("t", timeFilter(p.From, e.now()))
		}
		u := fmt.Sprintf("%s/r/%s/%s.json?%s", e.base, url.PathEscape(sub), sort, q.Encode())

		var page listing
		if err := e.getJSON(ctx, u, &page); err != nil {
			return out, err
		}
		for _, c := range page.Data.Children {
			if c.Kind == "t3" {
				out = append(out, c)
			}
		}
		if page.Data.After == "" || len(page.Data.Children) == 0 {
			break
		}
		if sort == domain.SortNew && !p.From.IsZero() {
			last := page.Data.Children[len(page.Data.Children)-1].Data
			if unixTime(last.CreatedUTC).Before(p.From) {
				break
			}
		}
		after = page.Data.After
	}
	if len(out) > p.PostLimit {
		out = out[:p.PostLimit]
	}
	return out, nil
}

// Comments fetches the comment tree of a post and flattens it. limit bounds
// the number of top-level comments requested.
func (e *Extractor) Comments(ctx context.Context, permalink string, limit int) ([]domain.Comment, error) {
	q := url.Values{}
	q.Set("raw_json", "1")
	q.Set("sort", "top")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := fmt.Sprintf("%s%s.json?%s", e.base, trimSlash(permalink), q.Encode())

	// Reddit answers with [postListing, commentListing].
	var listings []listing
	if err := e.getJSON(ctx, u, &listings); err != nil {
		return nil, err
	}
	if len(listings) < 2 {
		return nil, nil
	}
	return flatten(listings[1].Data.Children, nil), nil
}

func trimSlash(p string) string {
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// timeFilter picks the narrowest top-listing window that still covers from.
func timeFilter(from, now time.Time) string {
	if from.IsZero() {
		return "all"
	}
	age := now.Sub(from)
	switch {
	case age <= time.Hour:
		return "hour"
	case age <= 24*time.Hour:
		return "day"
	case age <= 7*24*time.Hour:
		return "week"
	case age <= 31*24*time.Hour:
		return "month"
	case age <= 366*24*time.Hour:
		return "year"
	default:
		return "all"
	}
}

// getJSON performs a rate-limited, retried GET guarded by the breaker and
// decodes the body into v.
func (e *Extractor) getJSON(ctx context.Context, u string, v any) error {
	res := fn.Retry(ctx, e.retry, func(ctx context.Context) fn.Result[struct{}] {
		if err := e.limiter.Wait(ctx); err != nil {
			return fn.Err[struct{}](err)
		}
		err := e.breaker.call(ctx, func(ctx context.Context) error {
			body, err := e.get(ctx, u)
			if err != nil {
				return err
			}
			defer body.Close()
			if err := json.NewDecoder(body).Decode(v); err != nil {
				return &decodeError{err: err}
			}
			return nil
		})
		if err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	})
	_, err := res.Unwrap()
	return err
}

func (e *Extractor) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.agent)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.reg.Counter(metrics.WithLabels("reddit_etl_reddit_requests_total", "status", "error"), "Reddit API requests").Inc()
		return nil, err
	}
	e.reg.Counter(metrics.WithLabels("reddit_etl_reddit_requests_total", "status", strconv.Itoa(resp.StatusCode)), "Reddit API requests").Inc()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: u}
	}
	return resp.Body, nil
}

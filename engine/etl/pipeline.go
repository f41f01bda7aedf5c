// Package etl runs one extraction job end to end: pick subreddits (from a
// similarity query or an explicit list), scrape them, hand every post to a
// sink and record the run.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/fn"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

// Ranker finds catalog subreddits similar to a query.
type Ranker interface {
	Rank(ctx context.Context, query string, limit int) ([]domain.Match, error)
}

// Extractor scrapes posts.
type Extractor interface {
	Extract(ctx context.Context, p domain.ScrapeParams) ([]domain.Post, error)
}

// SearchRecorder persists run records.
type SearchRecorder interface {
	SaveSearch(ctx context.Context, rec domain.SearchRecord) error
}

// Request describes one run. With a Query, the SimilarLimit most similar
// catalog subreddits are added to Params.Subreddits.
type Request struct {
	Query        string
	SimilarLimit int
	Params       domain.ScrapeParams
}

// Summary reports what a run did.
type Summary struct {
	SearchID     string         `json:"search_id"`
	Subreddits   []string       `json:"subreddits"`
	Matches      []domain.Match `json:"matches,omitempty"`
	PostsScraped int            `json:"posts_scraped"`
	PostsStored  int            `json:"posts_stored"`
	PostsFailed  int            `json:"posts_failed"`
	From         time.Time      `json:"from,omitempty"`
	To           time.Time      `json:"to,omitempty"`
}

// Pipeline wires the run stages together.
type Pipeline struct {
	ranker    Ranker
	extractor Extractor
	sink      Sink
	searches  SearchRecorder
	logger    *slog.Logger
	now       func() time.Time

	runs     *metrics.Counter
	duration *metrics.Histogram
}

// Options holds the optional Pipeline dependencies.
type Options struct {
	// Ranker is required only for requests with a Query.
	Ranker Ranker
	// Searches records each run; nil skips recording.
	Searches SearchRecorder
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// New creates a Pipeline.
func New(x Extractor, sink Sink, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Pipeline{
		ranker:    opts.Ranker,
		extractor: x,
		sink:      sink,
		searches:  opts.Searches,
		logger:    opts.Logger,
		now:       func() time.Time { return time.Now().UTC() },
		runs:      opts.Metrics.Counter("reddit_etl_etl_runs_total", "ETL runs started"),
		duration:  opts.Metrics.Histogram("reddit_etl_etl_duration_seconds", "ETL run latency", []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}),
	}
}

type plan struct {
	summary Summary
	params  domain.ScrapeParams
}

type scraped struct {
	plan
	posts []domain.Post
}

// Run executes req. A query that matches no subreddit produces an empty
// Summary and no error.
func (p *Pipeline) Run(ctx context.Context, req Request) (Summary, error) {
	p.runs.Inc()
	defer p.duration.Since(time.Now())

	run := fn.Then(
		fn.TracedStage[Request, plan]("etl.select", p.selectStage),
		fn.Then(
			fn.TracedStage[plan, scraped]("etl.extract", p.extractStage),
			fn.TracedStage[scraped, Summary]("etl.load", p.loadStage),
		),
	)
	return run(ctx, req).Unwrap()
}

func (p *Pipeline) selectStage(ctx context.Context, req Request) fn.Result[plan] {
	params := req.Params
	params.Query = req.Query
	var matches []domain.Match

	if req.Query != "" {
		if err := domain.ValidateQuery(req.Query); err != nil {
			return fn.Err[plan](err)
		}
		if p.ranker == nil {
			return fn.Errf[plan]("etl: query given but no ranker configured")
		}
		var err error
		matches, err = p.ranker.Rank(ctx, req.Query, req.SimilarLimit)
		if err != nil {
			return fn.Err[plan](err)
		}
		params.Subreddits = mergeNames(params.Subreddits, matches)
	}

	pl := plan{summary: Summary{Matches: matches, From: params.From, To: params.To}}
	if len(params.Subreddits) == 0 && req.Query != "" {
		p.logger.Warn("etl: query matched no subreddits", "query", req.Query)
		return fn.Ok(pl)
	}

	params, err := domain.ValidateScrapeParams(params)
	if err != nil {
		return fn.Err[plan](err)
	}
	pl.params = params
	pl.summary.Subreddits = params.Subreddits
	return fn.Ok(pl)
}

func (p *Pipeline) extractStage(ctx context.Context, pl plan) fn.Result[scraped] {
	if len(pl.params.Subreddits) == 0 {
		return fn.Ok(scraped{plan: pl})
	}
	posts, err := p.extractor.Extract(ctx, pl.params)
	if err != nil {
		return fn.Err[scraped](fmt.Errorf("etl: extract: %w", err))
	}
	pl.summary.PostsScraped = len(posts)
	p.logger.Info("etl: extracted", "subreddits", len(pl.params.Subreddits), "posts", len(posts))
	return fn.Ok(scraped{plan: pl, posts: posts})
}

func (p *Pipeline) loadStage(ctx context.Context, s scraped) fn.Result[Summary] {
	sum := s.summary
	if len(s.params.Subreddits) == 0 {
		return fn.Ok(sum)
	}

	ids := make([]string, 0, len(s.posts))
	for _, post := range s.posts {
		if err := ctx.Err(); err != nil {
			return fn.Err[Summary](err)
		}
		stored, err := p.sink.Put(ctx, post)
		if err != nil {
			sum.PostsFailed++
			p.logger.Warn("etl: sink failed", "post", post.ID, "error", err)
			continue
		}
		if stored {
			sum.PostsStored++
		}
		ids = append(ids, post.ID)
	}

	sum.SearchID = uuid.NewString()
	if p.searches != nil {
		rec := domain.SearchRecord{
			SearchID:   sum.SearchID,
			Timestamp:  p.now(),
			Parameters: s.params,
			PostIDs:    ids,
			TotalPosts: len(ids),
		}
		if err := p.searches.SaveSearch(ctx, rec); err != nil {
			return fn.Err[Summary](fmt.Errorf("etl: %w", err))
		}
	}
	p.logger.Info("etl: run complete",
		"search_id", sum.SearchID,
		"scraped", sum.PostsScraped,
		"stored", sum.PostsStored,
		"failed", sum.PostsFailed,
	)
	return fn.Ok(sum)
}

// mergeNames appends ranked names not already requested.
func mergeNames(names []string, matches []domain.Match) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names)+len(matches))
	for _, n := range names {
		n = domain.NormalizeSubreddit(n)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, m := range matches {
		if !seen[m.Name] {
			seen[m.Name] = true
			out = append(out, m.Name)
		}
	}
	return out
}

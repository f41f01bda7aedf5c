package similarity

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/embed"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

// DefaultLimit is used when a caller asks for zero or fewer matches.
const DefaultLimit = 10

// Catalog is the read side of the subreddit catalog.
type Catalog interface {
	ScanAll(ctx context.Context) ([]domain.SubredditRecord, error)
}

// Ranker embeds a query and ranks the whole catalog against it.
type Ranker struct {
	embedder embed.Embedder
	catalog  Catalog
	logger   *slog.Logger

	queries  *metrics.Counter
	skipped  *metrics.Counter
	degraded *metrics.Counter
	duration *metrics.Histogram
}

// NewRanker creates a Ranker. reg and logger may be nil.
func NewRanker(e embed.Embedder, c Catalog, reg *metrics.Registry, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Ranker{
		embedder: e,
		catalog:  c,
		logger:   logger,
		queries:  reg.Counter("reddit_etl_rank_queries_total", "Similarity queries served"),
		skipped:  reg.Counter("reddit_etl_rank_skipped_records_total", "Catalog records excluded from ranking"),
		degraded: reg.Counter("reddit_etl_rank_degraded_total", "Queries that produced no matches"),
		duration: reg.Histogram("reddit_etl_rank_duration_seconds", "End-to-end ranking latency", nil),
	}
}

// Rank returns up to limit catalog subreddits most similar to query.
// Embedding and catalog errors are returned unchanged. A query that matches
// nothing returns an empty slice and no error.
func (r *Ranker) Rank(ctx context.Context, query string, limit int) ([]domain.Match, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ctx, span := otel.Tracer("engine/similarity").Start(ctx, "similarity.rank")
	defer span.End()
	span.SetAttributes(attribute.Int("rank.limit", limit))

	start := time.Now()
	defer r.duration.Since(start)
	r.queries.Inc()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	records, err := r.catalog.ScanAll(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches, skipped := Rank(vec, records, limit)
	if skipped > 0 {
		r.skipped.Add(int64(skipped))
		r.logger.Debug("similarity: records skipped", "skipped", skipped, "catalog", len(records))
	}
	span.SetAttributes(
		attribute.Int("rank.catalog_size", len(records)),
		attribute.Int("rank.matches", len(matches)),
	)

	if len(matches) == 0 {
		r.degraded.Inc()
		r.logger.Warn("similarity: no rankable records",
			"catalog", len(records), "skipped", skipped, "dims", len(vec))
	}
	return matches, nil
}

// Package app turns a config.Config into the stores and clients the
// binaries share.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/WessleyAI/reddit-etl/engine/catalog"
	"github.com/WessleyAI/reddit-etl/engine/posts"
	"github.com/WessleyAI/reddit-etl/engine/reddit"
	"github.com/WessleyAI/reddit-etl/pkg/config"
	"github.com/WessleyAI/reddit-etl/pkg/embed"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
	"github.com/WessleyAI/reddit-etl/pkg/sentiment"
)

// Mongo connects to MongoDB and verifies the connection.
func Mongo(ctx context.Context, cfg config.Config) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI).SetAppName("reddit-etl"))
	if err != nil {
		return nil, fmt.Errorf("app: mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("app: mongo ping: %w", err)
	}
	return client, nil
}

// Embedder builds the embedding client. EMBEDDING_URL must be set.
func Embedder(cfg config.Config, reg *metrics.Registry) (*embed.Client, error) {
	if err := cfg.RequireEmbedding(); err != nil {
		return nil, err
	}
	return embed.NewClient(embed.Config{
		URL:     cfg.EmbeddingURL,
		Token:   cfg.EmbeddingToken,
		Timeout: cfg.EmbeddingTimeout,
		Metrics: reg,
	}), nil
}

// Classifier builds the sentiment client. SENTIMENT_URL must be set.
func Classifier(cfg config.Config, reg *metrics.Registry) (*sentiment.Client, error) {
	if err := cfg.RequireSentiment(); err != nil {
		return nil, err
	}
	return sentiment.NewClient(sentiment.Config{
		URL:     cfg.SentimentURL,
		Token:   cfg.EmbeddingToken,
		Timeout: cfg.EmbeddingTimeout,
		Metrics: reg,
	}), nil
}

// Catalog opens the configured catalog backend. The returned close function
// is never nil.
func Catalog(ctx context.Context, cfg config.Config, db *mongo.Database) (catalog.Store, func() error, error) {
	switch cfg.CatalogBackend {
	case config.BackendQdrant:
		s, err := catalog.NewQdrantStore(cfg.QdrantURL, cfg.QdrantCollection)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		if db == nil {
			return nil, nil, fmt.Errorf("app: mongo catalog needs a database")
		}
		s := catalog.NewMongoStore(db.Collection(cfg.SubredditsColl))
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
}

// Posts opens the posts store and makes sure its indexes exist.
func Posts(ctx context.Context, cfg config.Config, db *mongo.Database, reg *metrics.Registry, logger *slog.Logger) (*posts.Store, error) {
	s := posts.NewStore(db, cfg.PostsColl, cfg.SearchesColl, reg, logger)
	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Extractor builds the Reddit extractor.
func Extractor(cfg config.Config, reg *metrics.Registry, logger *slog.Logger) *reddit.Extractor {
	return reddit.New(reddit.Config{
		BaseURL:   cfg.RedditBaseURL,
		UserAgent: cfg.RedditUserAgent,
		RateLimit: cfg.RedditRateLimit,
		Metrics:   reg,
		Logger:    logger,
	})
}

// ServeMetrics exposes reg on METRICS_PORT until ctx is done. Failures are
// logged, not fatal.
func ServeMetrics(ctx context.Context, cfg config.Config, reg *metrics.Registry, logger *slog.Logger) {
	if cfg.MetricsPort == "" {
		return
	}
	go func() {
		addr := ":" + cfg.MetricsPort
		logger.Info("metrics server starting", "addr", addr)
		if err := reg.Serve(ctx, addr); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

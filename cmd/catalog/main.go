// Command catalog bootstraps the subreddit catalog and, given a query, prints
// the most similar subreddits as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/WessleyAI/reddit-etl/engine/catalog"
	"github.com/WessleyAI/reddit-etl/engine/similarity"
	"github.com/WessleyAI/reddit-etl/pkg/app"
	"github.com/WessleyAI/reddit-etl/pkg/config"
	"github.com/WessleyAI/reddit-etl/pkg/embed"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

func main() {
	var (
		envFile = flag.String("env", "", "dotenv file (default .env)")
		source  = flag.String("source", "", "subreddit source file (default SUBREDDITS_FILE)")
		query   = flag.String("query", "", "rank catalog subreddits against this text")
		limit   = flag.Int("limit", similarity.DefaultLimit, "matches to print")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	if *source != "" {
		cfg.SubredditsFile = *source
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := wire(ctx, cfg, *query, *limit, logger); err != nil {
		logger.Error("catalog failed", "err", err)
		os.Exit(1)
	}
}

// wire opens the configured embedder and store, then runs.
func wire(ctx context.Context, cfg config.Config, query string, limit int, logger *slog.Logger) error {
	reg := metrics.New()
	embedder, err := app.Embedder(cfg, reg)
	if err != nil {
		return err
	}

	var db *mongo.Database
	if cfg.CatalogBackend == config.BackendMongo {
		client, err := app.Mongo(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())
		db = client.Database(cfg.MongoDatabase)
	}
	store, closeStore, err := app.Catalog(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	j := job{
		store:    store,
		embedder: embedder,
		open:     catalog.FileSource(cfg.SubredditsFile),
		workers:  cfg.BootstrapWorkers,
		reg:      reg,
		logger:   logger,
	}
	return j.run(ctx, query, limit, os.Stdout)
}

// job is one catalog invocation over an opened store.
type job struct {
	store    catalog.Store
	embedder embed.Embedder
	open     func() (io.ReadCloser, error)
	workers  int
	reg      *metrics.Registry
	logger   *slog.Logger
}

// run bootstraps the catalog if empty and, when query is set, writes the
// ranked matches to w.
func (j job) run(ctx context.Context, query string, limit int, w io.Writer) error {
	boot := catalog.NewBootstrapper(j.store, j.embedder, j.open, catalog.BootstrapConfig{
		Workers: j.workers,
		Metrics: j.reg,
		Logger:  j.logger,
	})
	n, err := boot.EnsureReady(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("catalog ready", "inserted", n)

	if query == "" {
		return nil
	}
	matches, err := similarity.NewRanker(j.embedder, j.store, j.reg, j.logger).Rank(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("rank: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(matches)
}

// Command scraper runs the ETL pipeline: it picks subreddits (explicitly or
// by similarity to a query), scrapes their listings and loads the posts into
// MongoDB, or publishes them to NATS for cmd/loader.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/reddit-etl/engine/catalog"
	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/engine/etl"
	"github.com/WessleyAI/reddit-etl/engine/similarity"
	"github.com/WessleyAI/reddit-etl/pkg/app"
	"github.com/WessleyAI/reddit-etl/pkg/config"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

type flags struct {
	envFile      string
	subreddits   string
	query        string
	similar      int
	sorts        string
	limit        int
	comments     bool
	commentLimit int
	from         string
	to           string
	searchText   string
	interval     time.Duration
}

func main() {
	var f flags
	flag.StringVar(&f.envFile, "env", "", "dotenv file (default .env)")
	flag.StringVar(&f.subreddits, "subreddits", "", "comma-separated subreddit names")
	flag.StringVar(&f.query, "query", "", "also scrape the subreddits most similar to this text")
	flag.IntVar(&f.similar, "similar", similarity.DefaultLimit, "number of similar subreddits to add for -query")
	flag.StringVar(&f.sorts, "sorts", "hot,new,top", "comma-separated listing orders")
	flag.IntVar(&f.limit, "limit", domain.DefaultPostLimit, "posts per subreddit per listing")
	flag.BoolVar(&f.comments, "comments", false, "fetch comment trees")
	flag.IntVar(&f.commentLimit, "comment-limit", domain.DefaultCommentLimit, "top-level comments per post")
	flag.StringVar(&f.from, "from", "", "earliest post time, RFC3339")
	flag.StringVar(&f.to, "to", "", "latest post time, RFC3339")
	flag.StringVar(&f.searchText, "search-text", "", "keep only posts whose title or body contains this text")
	flag.DurationVar(&f.interval, "interval", 0, "polling interval (0 = one-shot)")
	flag.Parse()

	cfg, err := config.Load(f.envFile)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	req, err := f.request()
	if err != nil {
		logger.Error("invalid flags", "err", err)
		os.Exit(2)
	}
	if err := run(cfg, req, f.interval, logger); err != nil {
		logger.Error("scraper failed", "err", err)
		os.Exit(1)
	}
}

// request turns the flags into a pipeline request.
func (f flags) request() (etl.Request, error) {
	req := etl.Request{
		Query:        strings.TrimSpace(f.query),
		SimilarLimit: f.similar,
		Params: domain.ScrapeParams{
			Subreddits:      splitList(f.subreddits),
			PostLimit:       f.limit,
			IncludeComments: f.comments,
			CommentLimit:    f.commentLimit,
			SearchText:      f.searchText,
		},
	}
	for _, s := range splitList(f.sorts) {
		req.Params.Sorts = append(req.Params.Sorts, domain.SortType(strings.ToLower(s)))
	}
	var err error
	if req.Params.From, err = parseTime("from", f.from); err != nil {
		return req, err
	}
	if req.Params.To, err = parseTime("to", f.to); err != nil {
		return req, err
	}
	if req.Query == "" && len(req.Params.Subreddits) == 0 {
		return req, fmt.Errorf("one of -subreddits or -query is required")
	}
	return req, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s: %w", name, err)
	}
	return t.UTC(), nil
}

func run(cfg config.Config, req etl.Request, interval time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	app.ServeMetrics(ctx, cfg, reg, logger)

	client, err := app.Mongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())
	db := client.Database(cfg.MongoDatabase)

	postStore, err := app.Posts(ctx, cfg, db, reg, logger)
	if err != nil {
		return err
	}
	opts := etl.Options{Searches: postStore, Metrics: reg, Logger: logger}

	if req.Query != "" {
		embedder, err := app.Embedder(cfg, reg)
		if err != nil {
			return err
		}
		store, closeStore, err := app.Catalog(ctx, cfg, db)
		if err != nil {
			return err
		}
		defer closeStore()
		boot := catalog.NewBootstrapper(store, embedder, catalog.FileSource(cfg.SubredditsFile), catalog.BootstrapConfig{
			Workers: cfg.BootstrapWorkers,
			Metrics: reg,
			Logger:  logger,
		})
		if _, err := boot.EnsureReady(ctx); err != nil {
			return err
		}
		opts.Ranker = similarity.NewRanker(embedder, store, reg, logger)
	}

	sink := etl.StoreSink(postStore)
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("reddit-etl-scraper"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		sink = etl.NATSSink(nc, cfg.NATSSubject)
		logger.Info("publishing posts to NATS", "subject", cfg.NATSSubject)
	}

	pipeline := etl.New(app.Extractor(cfg, reg, logger), sink, opts)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	once := func() error {
		sum, err := pipeline.Run(ctx, req)
		if err != nil {
			return err
		}
		logger.Info("etl run complete",
			"search_id", sum.SearchID,
			"subreddits", len(sum.Subreddits),
			"scraped", sum.PostsScraped,
			"stored", sum.PostsStored,
			"failed", sum.PostsFailed,
		)
		return enc.Encode(sum)
	}

	// First run
	if err := once(); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}

	// Poll loop
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := once(); err != nil {
				logger.Error("etl run failed", "err", err)
			}
		}
	}
}

// Command analyze prints descriptive statistics over the stored posts.
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
	"time"

	"github.com/WessleyAI/reddit-etl/engine/analytics"
	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/engine/posts"
	"github.com/WessleyAI/reddit-etl/pkg/app"
	"github.com/WessleyAI/reddit-etl/pkg/config"
	"github.com/WessleyAI/reddit-etl/pkg/sentiment"
)

func main() {
	var (
		envFile   = flag.String("env", "", "dotenv file (default .env)")
		subreddit = flag.String("subreddit", "", "only analyse this subreddit")
		searchID  = flag.String("search-id", "", "only analyse the posts of this ETL run")
		format    = flag.String("format", "text", "output format: text or json")
		withSent  = flag.Bool("sentiment", false, "classify titles and comments via SENTIMENT_URL")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := app.Mongo(ctx, cfg)
	if err != nil {
		logger.Error("mongo", "err", err)
		os.Exit(1)
	}
	defer client.Disconnect(context.Background())
	store := posts.NewStore(client.Database(cfg.MongoDatabase), cfg.PostsColl, cfg.SearchesColl, nil, logger)

	opts := options{subreddit: *subreddit, searchID: *searchID, format: *format}
	if *withSent {
		cls, err := app.Classifier(cfg, nil)
		if err != nil {
			logger.Error("sentiment", "err", err)
			os.Exit(1)
		}
		opts.classifier, opts.workers = cls, cfg.SentimentWorkers
	}

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		logger.Error("analyze failed", "err", err)
		os.Exit(1)
	}
}

// Finder reads stored posts and run records.
type Finder interface {
	FindAll(ctx context.Context, f posts.Filter) ([]domain.Post, error)
	Search(ctx context.Context, id string) (domain.SearchRecord, error)
}

// options selects the posts to analyse and the output. A nil classifier
// skips sentiment.
type options struct {
	subreddit  string
	searchID   string
	format     string
	classifier sentiment.Classifier
	workers    int
}

func run(ctx context.Context, store Finder, opts options, w io.Writer) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	f := posts.Filter{Subreddit: domain.NormalizeSubreddit(opts.subreddit)}
	if opts.searchID != "" {
		rec, err := store.Search(ctx, opts.searchID)
		if err != nil {
			return err
		}
		if len(rec.PostIDs) == 0 {
			return analytics.ErrNoData
		}
		f.IDs = rec.PostIDs
	}

	found, err := store.FindAll(ctx, f)
	if err != nil {
		return err
	}
	report, err := analytics.Analyze(found, time.Now())
	if err != nil {
		return err
	}
	if opts.classifier != nil {
		report.Sentiment, err = analytics.Sentiment(ctx, opts.classifier, found, opts.workers)
		if err != nil {
			return err
		}
	}

	if opts.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, err = io.WriteString(w, report.Text())
	return err
}

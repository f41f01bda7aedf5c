// Command loader consumes scraped posts from NATS and upserts them into the
// posts collection.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/engine/etl"
	"github.com/WessleyAI/reddit-etl/pkg/app"
	"github.com/WessleyAI/reddit-etl/pkg/config"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
	"github.com/WessleyAI/reddit-etl/pkg/natsutil"
)

func main() {
	envFile := flag.String("env", "", "dotenv file (default .env)")
	queue := flag.String("queue", "reddit-etl-loader", "NATS queue group")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, *queue, logger); err != nil {
		logger.Error("loader failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, queue string, logger *slog.Logger) error {
	if cfg.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	app.ServeMetrics(ctx, cfg, reg, logger)

	client, err := app.Mongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	store, err := app.Posts(ctx, cfg, client.Database(cfg.MongoDatabase), reg, logger)
	if err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("reddit-etl-loader"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	sub, err := natsutil.QueueSubscribe(nc, cfg.NATSSubject, queue, logger, loadPost(store, logger))
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	logger.Info("loader consuming", "subject", cfg.NATSSubject, "queue", queue)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// loadPost upserts each consumed post. Duplicates are logged at debug level.
func loadPost(w etl.PostWriter, logger *slog.Logger) func(context.Context, domain.Post) error {
	return func(ctx context.Context, p domain.Post) error {
		written, err := w.Upsert(ctx, p)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", p.ID, err)
		}
		if !written {
			logger.Debug("duplicate post skipped", "id", p.ID)
		}
		return nil
	}
}

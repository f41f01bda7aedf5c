package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WessleyAI/reddit-etl/pkg/config"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

func TestEmbedder_RequiresURL(t *testing.T) {
	if _, err := Embedder(config.Config{}, nil); err == nil {
		t.Fatal("expected error without EMBEDDING_URL")
	}
	c, err := Embedder(config.Config{EmbeddingURL: "http://localhost:1", EmbeddingTimeout: time.Second}, metrics.New())
	if err != nil || c == nil {
		t.Fatalf("unexpected %v", err)
	}
}

func TestClassifier_RequiresURL(t *testing.T) {
	if _, err := Classifier(config.Config{}, nil); err == nil {
		t.Fatal("expected error without SENTIMENT_URL")
	}
	c, err := Classifier(config.Config{SentimentURL: "http://localhost:1", EmbeddingTimeout: time.Second}, metrics.New())
	if err != nil || c == nil {
		t.Fatalf("unexpected %v", err)
	}
}

func TestCatalog_MongoNeedsDatabase(t *testing.T) {
	if _, _, err := Catalog(context.Background(), config.Config{CatalogBackend: config.BackendMongo}, nil); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestCatalog_Qdrant(t *testing.T) {
	// grpc.NewClient dials lazily, so no server is needed.
	s, closeFn, err := Catalog(context.Background(), config.Config{
		CatalogBackend:   config.BackendQdrant,
		QdrantURL:        "localhost:6334",
		QdrantCollection: "subreddits",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected store")
	}
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}
}

func TestExtractor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if Extractor(config.Config{RedditRateLimit: time.Second}, metrics.New(), logger) == nil {
		t.Fatal("expected extractor")
	}
}

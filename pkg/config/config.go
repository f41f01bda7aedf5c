// Package config loads process configuration from the environment, after an
// optional .env file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Catalog backends.
const (
	BackendMongo  = "mongo"
	BackendQdrant = "qdrant"
)

// Config holds every setting the binaries read. Env names are given by the
// envconfig tags; there is no prefix.
type Config struct {
	MongoURI         string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase    string `envconfig:"MONGODB_DATABASE" default:"reddit_db"`
	SubredditsColl   string `envconfig:"MONGODB_SUBREDDITS" default:"subreddits"`
	PostsColl        string `envconfig:"MONGODB_POSTS" default:"posts"`
	SearchesColl     string `envconfig:"MONGODB_SEARCHES" default:"searches"`
	CatalogBackend   string `envconfig:"CATALOG_BACKEND" default:"mongo"`
	QdrantURL        string `envconfig:"QDRANT_URL" default:"localhost:6334"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"subreddits"`

	// EmbeddingURL is the inference endpoint. Required by anything that
	// touches the catalog or ranks subreddits.
	EmbeddingURL     string        `envconfig:"EMBEDDING_URL"`
	EmbeddingToken   string        `envconfig:"HF_TOKEN"`
	EmbeddingTimeout time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`

	// SentimentURL is the text-classification endpoint used by analyze
	// -sentiment. It shares HF_TOKEN and EMBEDDING_TIMEOUT.
	SentimentURL     string `envconfig:"SENTIMENT_URL"`
	SentimentWorkers int    `envconfig:"SENTIMENT_WORKERS" default:"4"`

	SubredditsFile   string `envconfig:"SUBREDDITS_FILE" default:"subreddits.tsv"`
	BootstrapWorkers int    `envconfig:"BOOTSTRAP_WORKERS" default:"1"`

	RedditBaseURL   string        `envconfig:"REDDIT_BASE_URL" default:"https://www.reddit.com"`
	RedditUserAgent string        `envconfig:"REDDIT_USER_AGENT" default:"reddit-etl/1.0"`
	RedditRateLimit time.Duration `envconfig:"REDDIT_RATE_LIMIT" default:"2s"`

	// NATSURL empty means posts are loaded straight into Mongo.
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"reddit.posts"`

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9091"`
	CORSOrigin  string `envconfig:"CORS_ORIGIN" default:"*"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load reads envPath (default ".env") if it exists, then the environment.
// Variables already set in the environment win over the file.
func Load(envPath string) (Config, error) {
	if envPath == "" {
		envPath = ".env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	switch c.CatalogBackend {
	case BackendMongo, BackendQdrant:
	default:
		return fmt.Errorf("config: CATALOG_BACKEND must be %q or %q, got %q", BackendMongo, BackendQdrant, c.CatalogBackend)
	}
	if c.EmbeddingTimeout <= 0 {
		return fmt.Errorf("config: EMBEDDING_TIMEOUT must be positive")
	}
	if c.BootstrapWorkers < 1 {
		return fmt.Errorf("config: BOOTSTRAP_WORKERS must be at least 1")
	}
	if c.SentimentWorkers < 1 {
		return fmt.Errorf("config: SENTIMENT_WORKERS must be at least 1")
	}
	if c.RedditRateLimit < 0 {
		return fmt.Errorf("config: REDDIT_RATE_LIMIT must not be negative")
	}
	return nil
}

// RequireEmbedding fails when no embedding endpoint is configured.
func (c Config) RequireEmbedding() error {
	if c.EmbeddingURL == "" {
		return fmt.Errorf("config: EMBEDDING_URL is required")
	}
	return nil
}

// RequireSentiment fails when no classification endpoint is configured.
func (c Config) RequireSentiment() error {
	if c.SentimentURL == "" {
		return fmt.Errorf("config: SENTIMENT_URL is required")
	}
	return nil
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

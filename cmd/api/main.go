// Package main implements the reddit-etl API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/reddit-etl/engine/analytics"
	"github.com/WessleyAI/reddit-etl/engine/catalog"
	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/engine/etl"
	"github.com/WessleyAI/reddit-etl/engine/posts"
	"github.com/WessleyAI/reddit-etl/engine/similarity"
	"github.com/WessleyAI/reddit-etl/pkg/app"
	"github.com/WessleyAI/reddit-etl/pkg/config"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
	"github.com/WessleyAI/reddit-etl/pkg/mid"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Connect to MongoDB ---
	client, err := app.Mongo(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())
	db := client.Database(cfg.MongoDatabase)

	// --- Catalog and ranker ---
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
		return fmt.Errorf("catalog: %w", err)
	}
	ranker := similarity.NewRanker(embedder, store, reg, logger)

	// --- Posts store and ETL pipeline ---
	postStore, err := app.Posts(ctx, cfg, db, reg, logger)
	if err != nil {
		return err
	}
	sink := etl.StoreSink(postStore)
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("reddit-etl-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		sink = etl.NATSSink(nc, cfg.NATSSubject)
		logger.Info("publishing posts to NATS", "subject", cfg.NATSSubject)
	}
	pipeline := etl.New(app.Extractor(cfg, reg, logger), sink, etl.Options{
		Ranker:   ranker,
		Searches: postStore,
		Metrics:  reg,
		Logger:   logger,
	})

	// --- Build HTTP server ---
	handler := newServer(ranker, pipeline, postStore, reg, logger).routes(cfg.CORSOrigin)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// Ranker scores catalog subreddits against a query.
type Ranker interface {
	Rank(ctx context.Context, query string, limit int) ([]domain.Match, error)
}

// Runner executes an ETL run.
type Runner interface {
	Run(ctx context.Context, req etl.Request) (etl.Summary, error)
}

// PostFinder reads stored posts and run records.
type PostFinder interface {
	FindAll(ctx context.Context, f posts.Filter) ([]domain.Post, error)
	Search(ctx context.Context, id string) (domain.SearchRecord, error)
}

type server struct {
	ranker Ranker
	runner Runner
	posts  PostFinder
	reg    *metrics.Registry
	logger *slog.Logger
	now    func() time.Time
}

func newServer(r Ranker, run Runner, p PostFinder, reg *metrics.Registry, logger *slog.Logger) *server {
	if reg == nil {
		reg = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &server{ranker: r, runner: run, posts: p, reg: reg, logger: logger, now: time.Now}
}

func (s *server) routes(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/similar", s.handleSimilar)
	mux.HandleFunc("POST /api/etl", s.handleETL)
	mux.HandleFunc("GET /api/report", s.handleReport)
	mux.Handle("GET /metrics", s.reg.Handler())

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.OTel("reddit-etl-api"),
		mid.Logger(s.logger),
		mid.Metrics(s.reg),
		mid.CORS(corsOrigin),
	)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SimilarRequest is the JSON body for POST /api/similar.
type SimilarRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SimilarResponse is the JSON response for POST /api/similar.
type SimilarResponse struct {
	Query   string         `json:"query"`
	Matches []domain.Match `json:"matches"`
}

func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateQuery(req.Query); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Limit < 0 {
		writeMessage(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	matches, err := s.ranker.Rank(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SimilarResponse{Query: req.Query, Matches: matches})
}

// ETLRequest is the JSON body for POST /api/etl. Either Query or Subreddits
// must be given.
type ETLRequest struct {
	Query           string            `json:"query,omitempty"`
	SimilarLimit    int               `json:"similar_limit,omitempty"`
	Subreddits      []string          `json:"subreddits,omitempty"`
	Sorts           []domain.SortType `json:"sorts,omitempty"`
	PostLimit       int               `json:"post_limit,omitempty"`
	IncludeComments bool              `json:"include_comments,omitempty"`
	CommentLimit    int               `json:"comment_limit,omitempty"`
	From            time.Time         `json:"from,omitempty"`
	To              time.Time         `json:"to,omitempty"`
	SearchText      string            `json:"search_text,omitempty"`
}

func (req ETLRequest) toRequest() etl.Request {
	return etl.Request{
		Query:        strings.TrimSpace(req.Query),
		SimilarLimit: req.SimilarLimit,
		Params: domain.ScrapeParams{
			Subreddits:      req.Subreddits,
			Sorts:           req.Sorts,
			PostLimit:       req.PostLimit,
			IncludeComments: req.IncludeComments,
			CommentLimit:    req.CommentLimit,
			From:            req.From,
			To:              req.To,
			SearchText:      req.SearchText,
		},
	}
}

func (s *server) handleETL(w http.ResponseWriter, r *http.Request) {
	var req ETLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" && len(req.Subreddits) == 0 {
		writeMessage(w, http.StatusBadRequest, "query or subreddits is required")
		return
	}

	sum, err := s.runner.Run(r.Context(), req.toRequest())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleReport analyses stored posts, optionally narrowed to a subreddit or
// to the posts of one ETL run. ?format=text returns the plain text report.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := posts.Filter{Subreddit: domain.NormalizeSubreddit(q.Get("subreddit"))}
	if f.Subreddit != "" {
		if err := domain.ValidateSubreddit(f.Subreddit); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if id := q.Get("search_id"); id != "" {
		rec, err := s.posts.Search(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if len(rec.PostIDs) == 0 {
			s.writeError(w, analytics.ErrNoData)
			return
		}
		f.IDs = rec.PostIDs
	}

	found, err := s.posts.FindAll(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	report, err := analytics.Analyze(found, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}

	if q.Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, report.Text())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var ve *domain.ValidationError
	var ee *domain.EmbeddingServiceError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ee):
		return http.StatusBadGateway
	case errors.Is(err, analytics.ErrNoData), errors.Is(err, posts.ErrSearchNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "err", err)
		writeMessage(w, status, "internal server error")
	case http.StatusBadGateway:
		s.logger.Warn("embedding service failed", "err", err)
		writeMessage(w, status, "embedding service unavailable")
	default:
		writeMessage(w, status, err.Error())
	}
}

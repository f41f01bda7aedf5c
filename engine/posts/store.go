// Package posts persists scraped posts and search records in MongoDB.
// Posts are keyed by their Reddit id; loading the same post twice updates it
// in place.
package posts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

// ErrSearchNotFound is returned by Search for an unknown search id.
var ErrSearchNotFound = errors.New("posts: search not found")

// collection is the subset of *mongo.Collection the store uses.
type collection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

type indexer interface {
	CreateMany(ctx context.Context, models []mongo.IndexModel, opts ...*options.CreateIndexesOptions) ([]string, error)
}

// Store writes posts and search records.
type Store struct {
	posts       collection
	postIndexes indexer
	searches    collection
	logger      *slog.Logger

	written  *metrics.Counter
	skipped  *metrics.Counter
	failures *metrics.Counter
}

// Filter narrows FindAll. Zero fields match everything.
type Filter struct {
	Subreddit string
	IDs       []string
}

// NewStore creates a Store over the posts and searches collections of db.
// reg and logger may be nil.
func NewStore(db *mongo.Database, postsColl, searchesColl string, reg *metrics.Registry, logger *slog.Logger) *Store {
	p := db.Collection(postsColl)
	return newStore(p, p.Indexes(), db.Collection(searchesColl), reg, logger)
}

func newStore(posts collection, idx indexer, searches collection, reg *metrics.Registry, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Store{
		posts:       posts,
		postIndexes: idx,
		searches:    searches,
		logger:      logger,
		written:     reg.Counter(metrics.WithLabels("reddit_etl_posts_loaded_total", "result", "written"), "Posts handed to the loader"),
		skipped:     reg.Counter(metrics.WithLabels("reddit_etl_posts_loaded_total", "result", "duplicate"), ""),
		failures:    reg.Counter(metrics.WithLabels("reddit_etl_posts_loaded_total", "result", "error"), ""),
	}
}

// EnsureIndexes creates the unique id index and the subreddit and
// created_utc lookup indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.postIndexes.CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "subreddit", Value: 1}}},
		{Keys: bson.D{{Key: "created_utc", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("posts: create indexes: %w", err)
	}
	return nil
}

// Upsert inserts or updates p by id. scraped_at keeps the first time the
// post was seen. A duplicate-key race with a concurrent writer reports
// written=false without an error.
func (s *Store) Upsert(ctx context.Context, p domain.Post) (written bool, err error) {
	if p.ID == "" {
		return false, domain.NewValidationError("id", "", errors.New("post without id"))
	}
	raw, err := bson.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("posts: encode %s: %w", p.ID, err)
	}
	var set bson.M
	if err := bson.Unmarshal(raw, &set); err != nil {
		return false, fmt.Errorf("posts: encode %s: %w", p.ID, err)
	}
	delete(set, "scraped_at")

	_, err = s.posts.UpdateOne(ctx,
		bson.M{"id": p.ID},
		bson.M{"$set": set, "$setOnInsert": bson.M{"scraped_at": p.ScrapedAt}},
		options.Update().SetUpsert(true),
	)
	switch {
	case err == nil:
		s.written.Inc()
		return true, nil
	case mongo.IsDuplicateKeyError(err):
		s.skipped.Inc()
		return false, nil
	default:
		s.failures.Inc()
		return false, fmt.Errorf("posts: upsert %s: %w", p.ID, err)
	}
}

// LoadAll upserts every post, logging and counting failures instead of
// stopping. It returns the number written and the first error seen, if any,
// unless ctx is cancelled.
func (s *Store) LoadAll(ctx context.Context, posts []domain.Post) (int, error) {
	var (
		loaded   int
		firstErr error
	)
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		ok, err := s.Upsert(ctx, p)
		if err != nil {
			s.logger.Warn("posts: load failed", "post", p.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			loaded++
		}
	}
	if firstErr != nil {
		s.logger.Warn("posts: load finished with errors", "loaded", loaded, "total", len(posts))
	}
	return loaded, firstErr
}

// SaveSearch records one ETL run.
func (s *Store) SaveSearch(ctx context.Context, rec domain.SearchRecord) error {
	if _, err := s.searches.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("posts: save search %s: %w", rec.SearchID, err)
	}
	return nil
}

// Search loads a search record by id.
func (s *Store) Search(ctx context.Context, id string) (domain.SearchRecord, error) {
	var rec domain.SearchRecord
	err := s.searches.FindOne(ctx, bson.M{"search_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, fmt.Errorf("%w: %s", ErrSearchNotFound, id)
	}
	if err != nil {
		return rec, fmt.Errorf("posts: find search %s: %w", id, err)
	}
	return rec, nil
}

// FindAll returns the posts matching f, oldest first.
func (s *Store) FindAll(ctx context.Context, f Filter) ([]domain.Post, error) {
	q := bson.M{}
	if f.Subreddit != "" {
		q["subreddit"] = f.Subreddit
	}
	if len(f.IDs) > 0 {
		q["id"] = bson.M{"$in": f.IDs}
	}
	cur, err := s.posts.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created_utc", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("posts: find: %w", err)
	}
	var out []domain.Post
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("posts: decode: %w", err)
	}
	return out, nil
}

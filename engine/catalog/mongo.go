package catalog

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/WessleyAI/reddit-etl/engine/domain"
)

// Document field names in the subreddits collection.
const (
	fieldName        = "subreddit"
	fieldSubscribers = "subscribers"
	fieldEmbedding   = "embedding"
)

// collection is the subset of *mongo.Collection the store uses.
type collection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type indexer interface {
	CreateOne(ctx context.Context, model mongo.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

// MongoStore keeps the catalog in a MongoDB collection, one document per
// subreddit.
type MongoStore struct {
	coll    collection
	indexes indexer
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wraps an existing collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, indexes: coll.Indexes()}
}

// EnsureIndexes creates the unique index on the subreddit name.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.indexes.CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: fieldName, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("subreddit_unique"),
	})
	if err != nil {
		return fmt.Errorf("catalog: create index: %w", err)
	}
	return nil
}

// Count returns the number of catalog documents.
func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	return n, nil
}

// BulkInsert inserts records in one ordered InsertMany call.
func (s *MongoStore) BulkInsert(ctx context.Context, records []domain.SubredditRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = bson.D{
			{Key: fieldName, Value: r.Name},
			{Key: fieldSubscribers, Value: r.Subscribers},
			{Key: fieldEmbedding, Value: toFloat64(r.Embedding)},
		}
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("catalog: insert %d records: %w", len(records), err)
	}
	return nil
}

// Delete removes the documents for names.
func (s *MongoStore) Delete(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := s.coll.DeleteMany(ctx, bson.M{fieldName: bson.M{"$in": names}}); err != nil {
		return fmt.Errorf("catalog: delete %d records: %w", len(names), err)
	}
	return nil
}

// ScanAll reads the whole collection in insertion (_id) order. Documents with
// a missing or malformed embedding come back with an empty one.
func (s *MongoStore) ScanAll(ctx context.Context) ([]domain.SubredditRecord, error) {
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("catalog: scan: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.SubredditRecord
	for cur.Next(ctx) {
		out = append(out, decodeRecord(cur.Current))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("catalog: scan: %w", err)
	}
	return out, nil
}

func decodeRecord(doc bson.Raw) domain.SubredditRecord {
	var r domain.SubredditRecord
	if v, err := doc.LookupErr(fieldName); err == nil {
		r.Name, _ = v.StringValueOK()
	}
	if v, err := doc.LookupErr(fieldSubscribers); err == nil {
		if n, ok := numeric(v); ok {
			r.Subscribers = int64(n)
		}
	}
	if v, err := doc.LookupErr(fieldEmbedding); err == nil {
		r.Embedding = decodeEmbedding(v)
	}
	return r
}

// decodeEmbedding returns nil unless v is an array of numbers.
func decodeEmbedding(v bson.RawValue) []float32 {
	arr, ok := v.ArrayOK()
	if !ok {
		return nil
	}
	vals, err := arr.Values()
	if err != nil {
		return nil
	}
	out := make([]float32, len(vals))
	for i, e := range vals {
		f, ok := numeric(e)
		if !ok {
			return nil
		}
		out[i] = float32(f)
	}
	return out
}

func numeric(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeDouble:
		return v.Double(), true
	case bson.TypeInt32:
		return float64(v.Int32()), true
	case bson.TypeInt64:
		return float64(v.Int64()), true
	default:
		return 0, false
	}
}

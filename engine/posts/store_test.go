package posts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

// --- Mocks ---

type fakeCollection struct {
	updates   []bson.M
	filters   []interface{}
	updateErr error
	inserted  []interface{}
	insertErr error
	docs      []interface{}
	findErr   error
	one       interface{}
	oneErr    error
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.filters = append(f.filters, filter)
	f.updates = append(f.updates, update.(bson.M))
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func (f *fakeCollection) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.inserted = append(f.inserted, doc)
	return &mongo.InsertOneResult{}, nil
}

func (f *fakeCollection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.filters = append(f.filters, filter)
	return mongo.NewCursorFromDocuments(f.docs, nil, nil)
}

func (f *fakeCollection) FindOne(_ context.Context, _ interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	doc := f.one
	if doc == nil {
		doc = bson.D{}
	}
	return mongo.NewSingleResultFromDocument(doc, f.oneErr, nil)
}

type fakeIndexes struct{ models []mongo.IndexModel }

func (f *fakeIndexes) CreateMany(_ context.Context, m []mongo.IndexModel, _ ...*options.CreateIndexesOptions) ([]string, error) {
	f.models = m
	return make([]string, len(m)), nil
}

func dupKeyErr() error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
}

func testPost(id string) domain.Post {
	ts := time.Date(2024, 11, 9, 11, 1, 15, 0, time.UTC)
	return domain.Post{ID: id, Title: "t", Author: "a", Subreddit: "golang", CreatedUTC: ts, ScrapedAt: ts, LastUpdated: ts}
}

// --- Tests ---

func TestEnsureIndexes(t *testing.T) {
	idx := &fakeIndexes{}
	s := newStore(&fakeCollection{}, idx, &fakeCollection{}, nil, nil)
	if err := s.EnsureIndexes(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(idx.models) != 3 {
		t.Fatalf("expected 3 indexes, got %d", len(idx.models))
	}
	if u := idx.models[0].Options.Unique; u == nil || !*u {
		t.Fatal("expected unique id index")
	}
}

func TestUpsert_SetsAndKeepsScrapedAt(t *testing.T) {
	posts := &fakeCollection{}
	s := newStore(posts, &fakeIndexes{}, &fakeCollection{}, nil, nil)
	ok, err := s.Upsert(context.Background(), testPost("p1"))
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	upd := posts.updates[0]
	set := upd["$set"].(bson.M)
	if set["id"] != "p1" || set["subreddit"] != "golang" {
		t.Fatalf("unexpected $set %v", set)
	}
	if _, has := set["scraped_at"]; has {
		t.Fatal("scraped_at must only be set on insert")
	}
	if _, has := upd["$setOnInsert"].(bson.M)["scraped_at"]; !has {
		t.Fatal("expected scraped_at in $setOnInsert")
	}
}

func TestUpsert_DuplicateKeyIsNotAnError(t *testing.T) {
	reg := metrics.New()
	s := newStore(&fakeCollection{updateErr: dupKeyErr()}, &fakeIndexes{}, &fakeCollection{}, reg, nil)
	ok, err := s.Upsert(context.Background(), testPost("p1"))
	if err != nil || ok {
		t.Fatalf("expected silent skip, got ok=%v err=%v", ok, err)
	}
	if !strings.Contains(reg.Render(), `reddit_etl_posts_loaded_total{result="duplicate"} 1`) {
		t.Fatalf("expected duplicate counted:\n%s", reg.Render())
	}
}

func TestUpsert_Errors(t *testing.T) {
	s := newStore(&fakeCollection{updateErr: errors.New("down")}, &fakeIndexes{}, &fakeCollection{}, nil, nil)
	if _, err := s.Upsert(context.Background(), testPost("p1")); err == nil {
		t.Fatal("expected error")
	}
	var ve *domain.ValidationError
	if _, err := s.Upsert(context.Background(), domain.Post{}); !errors.As(err, &ve) {
		t.Fatalf("expected validation error for missing id, got %v", err)
	}
}

func TestLoadAll(t *testing.T) {
	posts := &fakeCollection{}
	s := newStore(posts, &fakeIndexes{}, &fakeCollection{}, nil, nil)
	n, err := s.LoadAll(context.Background(), []domain.Post{testPost("a"), {}, testPost("b")})
	if n != 2 {
		t.Fatalf("expected 2 loaded, got %d", n)
	}
	if err == nil {
		t.Fatal("expected first error reported")
	}
	if len(posts.updates) != 2 {
		t.Fatalf("expected loading to continue past failure, got %d writes", len(posts.updates))
	}
}

func TestSaveSearch(t *testing.T) {
	searches := &fakeCollection{}
	s := newStore(&fakeCollection{}, &fakeIndexes{}, searches, nil, nil)
	rec := domain.SearchRecord{SearchID: "s1", PostIDs: []string{"a"}, TotalPosts: 1}
	if err := s.SaveSearch(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if len(searches.inserted) != 1 {
		t.Fatal("expected search inserted")
	}

	searches.insertErr = errors.New("fail")
	if err := s.SaveSearch(context.Background(), rec); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch(t *testing.T) {
	searches := &fakeCollection{one: domain.SearchRecord{SearchID: "s1", PostIDs: []string{"a", "b"}, TotalPosts: 2}}
	s := newStore(&fakeCollection{}, &fakeIndexes{}, searches, nil, nil)
	rec, err := s.Search(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.TotalPosts != 2 || len(rec.PostIDs) != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}

	searches.oneErr = mongo.ErrNoDocuments
	if _, err := s.Search(context.Background(), "nope"); !errors.Is(err, ErrSearchNotFound) {
		t.Fatalf("expected ErrSearchNotFound, got %v", err)
	}
}

func TestFindAll(t *testing.T) {
	posts := &fakeCollection{docs: []interface{}{testPost("a"), testPost("b")}}
	s := newStore(posts, &fakeIndexes{}, &fakeCollection{}, nil, nil)

	got, err := s.FindAll(context.Background(), Filter{Subreddit: "golang", IDs: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].ID != "b" || got[0].Subreddit != "golang" {
		t.Fatalf("unexpected posts %+v", got)
	}
	q := posts.filters[0].(bson.M)
	if q["subreddit"] != "golang" || q["id"] == nil {
		t.Fatalf("unexpected filter %v", q)
	}

	posts.findErr = errors.New("down")
	if _, err := s.FindAll(context.Background(), Filter{}); err == nil {
		t.Fatal("expected error")
	}
}

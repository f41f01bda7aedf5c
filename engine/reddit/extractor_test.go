package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/fn"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

const postJSON = `{"kind":"t3","data":{"id":%q,"subreddit":"golang","title":%q,"author":%q,"selftext":"body text","url":"https://example.com","permalink":"/r/golang/comments/%s/x/","score":%d,"upvote_ratio":0.9,"num_comments":2,"created_utc":%d,"is_video":false,"is_original_content":true}}`

func page(after string, posts ...string) string {
	return fmt.Sprintf(`{"kind":"Listing","data":{"after":%q,"children":[%s]}}`, after, strings.Join(posts, ","))
}

func post(id, title, author string, score int, created int64) string {
	return fmt.Sprintf(postJSON, id, title, author, id, score, created)
}

const commentsJSON = `[
 {"kind":"Listing","data":{"children":[]}},
 {"kind":"Listing","data":{"children":[
  {"kind":"t1","data":{"id":"c1","author":"gopher","body":"use channels","created_utc":1700000100,"score":5,"is_submitter":true,"parent_id":"t3_p1","edited":false,"depth":0,
   "replies":{"kind":"Listing","data":{"children":[
     {"kind":"t1","data":{"id":"c2","author":"","body":"[removed]","created_utc":1700000200,"score":1,"parent_id":"t1_c1","edited":1700000300,"depth":1,"replies":""}},
     {"kind":"more","data":{"id":"m1"}}
   ]}}}},
  {"kind":"t1","data":{"id":"c3","author":"rustacean","body":"or mutexes","created_utc":1700000400,"score":2,"parent_id":"t3_p1","edited":false,"depth":0,"replies":""}}
 ]}}
]`

func testExtractor(srv *httptest.Server, reg *metrics.Registry) *Extractor {
	e := New(Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Retry:      fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		Metrics:    reg,
	})
	e.now = func() time.Time { return time.Unix(1700100000, 0).UTC() }
	return e
}

func TestExtract_PostsAndComments(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/r/golang/hot.json":
			fmt.Fprint(w, page("", post("p1", "Goroutine leak", "alice", 42, 1700000000)))
		case "/r/golang/comments/p1/x.json":
			fmt.Fprint(w, commentsJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	posts, err := testExtractor(srv, nil).Extract(context.Background(), domain.ScrapeParams{
		Subreddits:      []string{"golang"},
		Sorts:           []domain.SortType{domain.SortHot},
		IncludeComments: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p.ID != "p1" || p.Author != "alice" || p.Score != 42 || !p.IsOriginalContent {
		t.Errorf("unexpected post %+v", p)
	}
	if !p.CreatedUTC.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected created time %v", p.CreatedUTC)
	}
	if p.ScrapedAt.IsZero() {
		t.Error("expected scraped_at set")
	}
	if len(p.Comments) != 3 {
		t.Fatalf("expected 3 flattened comments, got %d: %+v", len(p.Comments), p.Comments)
	}
	if p.Comments[1].ID != "c2" || p.Comments[1].Author != domain.DeletedAuthor || !p.Comments[1].Edited || p.Comments[1].Depth != 1 {
		t.Errorf("unexpected nested comment %+v", p.Comments[1])
	}
	if !p.Comments[0].IsSubmitter || p.Comments[0].Edited {
		t.Errorf("unexpected first comment %+v", p.Comments[0])
	}
	if agent.Load() != "reddit-etl/1.0" {
		t.Errorf("unexpected user agent %v", agent.Load())
	}
}

func TestExtract_PaginatesToLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		limit := r.URL.Query().Get("limit")
		switch r.URL.Query().Get("after") {
		case "":
			if limit != "3" {
				t.Errorf("expected limit 3, got %s", limit)
			}
			fmt.Fprint(w, page("t3_b", post("a", "A", "u", 1, 1700000000), post("b", "B", "u", 1, 1700000000)))
		case "t3_b":
			if limit != "1" {
				t.Errorf("expected remaining limit 1, got %s", limit)
			}
			fmt.Fprint(w, page("t3_c", post("c", "C", "u", 1, 1700000000)))
		default:
			t.Errorf("unexpected page request %s", r.URL)
		}
	}))
	defer srv.Close()

	posts, err := testExtractor(srv, nil).Extract(context.Background(), domain.ScrapeParams{
		Subreddits: []string{"golang"},
		Sorts:      []domain.SortType{domain.SortNew},
		PostLimit:  3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 3 || calls.Load() != 2 {
		t.Fatalf("expected 3 posts over 2 calls, got %d over %d", len(posts), calls.Load())
	}
}

func TestExtract_DedupAcrossSortsAndWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/r/golang/hot.json":
			fmt.Fprint(w, page("", post("a", "A", "u", 1, 1700000000), post("old", "Old", "u", 1, 1600000000)))
		case "/r/golang/top.json":
			if r.URL.Query().Get("t") != "week" {
				t.Errorf("expected t=week, got %q", r.URL.Query().Get("t"))
			}
			fmt.Fprint(w, page("", post("a", "A", "u", 1, 1700000000), post("b", "B", "u", 1, 1700050000)))
		}
	}))
	defer srv.Close()

	from := time.Unix(1700000000-3600, 0)
	posts, err := testExtractor(srv, nil).Extract(context.Background(), domain.ScrapeParams{
		Subreddits: []string{"golang"},
		Sorts:      []domain.SortType{domain.SortHot, domain.SortTop},
		From:       from,
	})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Fatalf("expected a,b got %v", ids)
	}
}

func TestExtract_SearchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("", post("a", "Generics are here", "u", 1, 1700000000), post("b", "Weekly thread", "u", 1, 1700000000)))
	}))
	defer srv.Close()

	posts, err := testExtractor(srv, nil).Extract(context.Background(), domain.ScrapeParams{
		Subreddits: []string{"golang"},
		Sorts:      []domain.SortType{domain.SortHot},
		SearchText: "generics",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].ID != "a" {
		t.Fatalf("expected only post a, got %+v", posts)
	}
}

func TestExtract_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, page("", post("a", "A", "u", 1, 1700000000)))
	}))
	defer srv.Close()

	reg := metrics.New()
	posts, err := testExtractor(srv, reg).Extract(context.Background(), domain.ScrapeParams{
		Subreddits: []string{"golang"},
		Sorts:      []domain.SortType{domain.SortHot},
	})
	if err != nil || len(posts) != 1 {
		t.Fatalf("expected recovery after 429, got %d posts, %v", len(posts), err)
	}
	out := reg.Render()
	if !strings.Contains(out, `reddit_etl_reddit_requests_total{status="429"} 1`) {
		t.Fatalf("expected 429 counted:\n%s", out)
	}
}

func TestExtract_SkipsFailingSubreddit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/r/private/") {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, page("", post("a", "A", "u", 1, 1700000000)))
	}))
	defer srv.Close()

	reg := metrics.New()
	posts, err := testExtractor(srv, reg).Extract(context.Background(), domain.ScrapeParams{
		Subreddits: []string{"private", "golang"},
		Sorts:      []domain.SortType{domain.SortHot},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected golang post only, got %d", len(posts))
	}
	if calls.Load() != 1 {
		t.Fatalf("403 must not be retried, got %d calls", calls.Load())
	}
	if !strings.Contains(reg.Render(), "reddit_etl_reddit_subreddit_failures_total 1") {
		t.Fatal("expected failure counted")
	}
}

func TestExtract_CommentFailureKeepsPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/comments/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, page("", post("a", "A", "u", 1, 1700000000)))
	}))
	defer srv.Close()

	posts, err := testExtractor(srv, nil).Extract(context.Background(), domain.ScrapeParams{
		Subreddits:      []string{"golang"},
		Sorts:           []domain.SortType{domain.SortHot},
		IncludeComments: true,
	})
	if err != nil || len(posts) != 1 || len(posts[0].Comments) != 0 {
		t.Fatalf("expected post without comments, got %+v, %v", posts, err)
	}
}

func TestExtract_InvalidParams(t *testing.T) {
	e := New(Config{})
	_, err := e.Extract(context.Background(), domain.ScrapeParams{Subreddits: []string{"bad name"}})
	if !errors.Is(err, domain.ErrInvalidSubreddit) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtract_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page(""))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testExtractor(srv, nil).Extract(ctx, domain.ScrapeParams{Subreddits: []string{"golang"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTimeFilter(t *testing.T) {
	now := time.Date(2024, 11, 9, 0, 0, 0, 0, time.UTC)
	cases := map[time.Duration]string{
		30 * time.Minute:      "hour",
		5 * time.Hour:         "day",
		3 * 24 * time.Hour:    "week",
		20 * 24 * time.Hour:   "month",
		200 * 24 * time.Hour:  "year",
		1000 * 24 * time.Hour: "all",
	}
	for age, want := range cases {
		if got := timeFilter(now.Add(-age), now); got != want {
			t.Errorf("age %s: got %s, want %s", age, got, want)
		}
	}
	if timeFilter(time.Time{}, now) != "all" {
		t.Error("zero from should be all")
	}
}

func TestRetryable(t *testing.T) {
	if !retryable(&StatusError{StatusCode: 503}) || !retryable(&StatusError{StatusCode: 429}) {
		t.Error("expected 5xx and 429 retryable")
	}
	if retryable(&StatusError{StatusCode: 404}) {
		t.Error("404 must not be retried")
	}
	if retryable(&decodeError{err: &json.SyntaxError{}}) {
		t.Error("decode errors must not be retried")
	}
	if retryable(context.Canceled) {
		t.Error("cancellation must not be retried")
	}
	if retryable(fmt.Errorf("r/golang hot: %w", ErrCircuitOpen)) {
		t.Error("open breaker must not be retried")
	}
	if !retryable(errors.New("connection reset")) {
		t.Error("network errors should be retried")
	}
}

func TestExtract_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := metrics.New()
	e := New(Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Retry:      fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond},
		Breaker:    BreakerOpts{Threshold: 2, Cooldown: time.Hour},
		Metrics:    reg,
	})
	posts, err := e.Extract(context.Background(), domain.ScrapeParams{
		Subreddits: []string{"golang", "rust", "python"},
		Sorts:      []domain.SortType{domain.SortHot},
	})
	if err != nil || len(posts) != 0 {
		t.Fatalf("expected empty result, got %d posts, %v", len(posts), err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected breaker to stop after 2 requests, got %d", calls.Load())
	}
	out := reg.Render()
	if !strings.Contains(out, "reddit_etl_reddit_breaker_state 1") {
		t.Fatalf("expected open breaker gauge:\n%s", out)
	}
	if !strings.Contains(out, "reddit_etl_reddit_subreddit_failures_total 3") {
		t.Fatalf("expected every subreddit skipped:\n%s", out)
	}
}

package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

func TestClassify_Nested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req classifyReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Inputs != "great release" {
			t.Errorf("unexpected inputs %q", req.Inputs)
		}
		w.Write([]byte(`[[{"label":"NEGATIVE","score":0.02},{"label":"POSITIVE","score":0.98}]]`))
	}))
	defer srv.Close()

	reg := metrics.New()
	l, err := NewClient(Config{URL: srv.URL, Token: "secret", Metrics: reg}).Classify(context.Background(), "great release")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.Positive() || l.Score != 0.98 {
		t.Fatalf("unexpected label %+v", l)
	}
	if !strings.Contains(reg.Render(), `reddit_etl_sentiment_requests_total{status="200"} 1`) {
		t.Fatalf("expected request counter in:\n%s", reg.Render())
	}
}

func TestClassify_Flat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"label":"NEGATIVE","score":0.9}]`))
	}))
	defer srv.Close()

	l, err := NewClient(Config{URL: srv.URL}).Classify(context.Background(), "broken again")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Positive() || l.Label != Negative {
		t.Fatalf("unexpected label %+v", l)
	}
}

func TestClassify_NonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}).Classify(context.Background(), "x")
	var se *ServiceError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 ServiceError, got %v", err)
	}
	if !strings.Contains(se.Body, "currently loading") {
		t.Fatalf("expected body in error, got %q", se.Body)
	}
}

func TestClassify_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"not":"labels"}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}).Classify(context.Background(), "x")
	var se *ServiceError
	if !errors.As(err, &se) || se.StatusCode != http.StatusOK || se.Err == nil {
		t.Fatalf("expected decode ServiceError with status 200, got %v", err)
	}
}

func TestClassify_EmptyText(t *testing.T) {
	if _, err := NewClient(Config{URL: "http://127.0.0.1:0"}).Classify(context.Background(), " "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestDecodeLabels(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: `[{"label":"POSITIVE","score":0.7},{"label":"NEGATIVE","score":0.3}]`, want: Positive},
		{raw: `[[{"label":"NEGATIVE","score":0.6}]]`, want: Negative},
		{raw: `[]`, wantErr: true},
		{raw: `[[],[]]`, wantErr: true},
		{raw: `[{"score":0.5}]`, wantErr: true},
		{raw: `nope`, wantErr: true},
	}
	for _, tc := range cases {
		l, err := decodeLabels([]byte(tc.raw))
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error, got %+v", tc.raw, l)
			}
			continue
		}
		if err != nil || l.Label != tc.want {
			t.Errorf("%s: got %+v, %v", tc.raw, l, err)
		}
	}
}

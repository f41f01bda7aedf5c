package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMatch_JSONOmitsEmbedding(t *testing.T) {
	m := Match{
		SubredditRecord: SubredditRecord{Name: "golang", Subscribers: 5, Embedding: []float32{0.1, 0.2, 0.3}},
		Score:           0.9,
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != `{"subreddit":"golang","subscribers":5,"score":0.9}` {
		t.Fatalf("unexpected JSON %s", got)
	}
	if strings.Contains(string(b), "embedding") {
		t.Fatalf("embedding leaked: %s", b)
	}
}

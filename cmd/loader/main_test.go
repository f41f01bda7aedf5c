package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/config"
	"github.com/WessleyAI/reddit-etl/pkg/natsutil"
)

type mockWriter struct {
	got []domain.Post
	err error
}

func (m *mockWriter) Upsert(_ context.Context, p domain.Post) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.got = append(m.got, p)
	return true, nil
}

func TestLoadPost_FromMessage(t *testing.T) {
	w := &mockWriter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := natsutil.Handle(logger, loadPost(w, logger))

	msg, err := natsutil.Encode(context.Background(), "reddit.posts", domain.Post{ID: "abc", Subreddit: "golang"})
	if err != nil {
		t.Fatal(err)
	}
	h(msg)
	h(&nats.Msg{Subject: "reddit.posts", Data: []byte("not json")})

	if len(w.got) != 1 || w.got[0].ID != "abc" {
		t.Fatalf("expected one upserted post, got %+v", w.got)
	}
}

func TestLoadPost_Error(t *testing.T) {
	w := &mockWriter{err: errors.New("mongo down")}
	err := loadPost(w, slog.Default())(context.Background(), domain.Post{ID: "abc"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_RequiresNATS(t *testing.T) {
	if err := run(config.Config{}, "q", slog.Default()); err == nil {
		t.Fatal("expected error without NATS_URL")
	}
}

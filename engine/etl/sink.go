package etl

import (
	"context"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/natsutil"
)

// Sink receives every post a run extracts. stored is false when the post
// was accepted but nothing new was written.
type Sink interface {
	Put(ctx context.Context, p domain.Post) (stored bool, err error)
}

// PostWriter is satisfied by *posts.Store.
type PostWriter interface {
	Upsert(ctx context.Context, p domain.Post) (bool, error)
}

type storeSink struct{ w PostWriter }

// StoreSink writes posts straight to the document store.
func StoreSink(w PostWriter) Sink { return storeSink{w: w} }

func (s storeSink) Put(ctx context.Context, p domain.Post) (bool, error) {
	return s.w.Upsert(ctx, p)
}

type natsSink struct {
	pub     natsutil.MsgPublisher
	subject string
}

// NATSSink publishes posts for a loader process to store.
func NATSSink(pub natsutil.MsgPublisher, subject string) Sink {
	return natsSink{pub: pub, subject: subject}
}

func (s natsSink) Put(ctx context.Context, p domain.Post) (bool, error) {
	if err := natsutil.Publish(ctx, s.pub, s.subject, p); err != nil {
		return false, err
	}
	return true, nil
}

// Package catalog stores the subreddit catalog (name, subscriber count,
// embedding) and bootstraps it from a tab-separated source on first use.
package catalog

import (
	"context"

	"github.com/WessleyAI/reddit-etl/engine/domain"
)

// Store is a persistent subreddit catalog. ScanAll returns every record in a
// stable order; ranking ties are broken by that order. Delete removes the
// named records and ignores names that are not stored.
type Store interface {
	Count(ctx context.Context) (int64, error)
	BulkInsert(ctx context.Context, records []domain.SubredditRecord) error
	ScanAll(ctx context.Context) ([]domain.SubredditRecord, error)
	Delete(ctx context.Context, names []string) error
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

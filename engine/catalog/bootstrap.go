package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/reddit-etl/engine/domain"
	"github.com/WessleyAI/reddit-etl/pkg/embed"
	"github.com/WessleyAI/reddit-etl/pkg/fn"
	"github.com/WessleyAI/reddit-etl/pkg/metrics"
)

// BatchSize is the number of records per BulkInsert call.
const BatchSize = 100

const rollbackTimeout = 30 * time.Second

// Bootstrapper fills an empty catalog from a source file, embedding each
// subreddit name.
type Bootstrapper struct {
	store    Store
	embedder embed.Embedder
	open     func() (io.ReadCloser, error)
	workers  int
	logger   *slog.Logger

	inserted *metrics.Counter
	size     *metrics.Gauge
}

// BootstrapConfig holds the optional Bootstrapper settings.
type BootstrapConfig struct {
	// Workers bounds concurrent embedding calls. Values below 1 mean 1.
	Workers int
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// NewBootstrapper creates a Bootstrapper. open is only called when the
// catalog turns out to be empty.
func NewBootstrapper(store Store, e embed.Embedder, open func() (io.ReadCloser, error), cfg BootstrapConfig) *Bootstrapper {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Bootstrapper{
		store:    store,
		embedder: e,
		open:     open,
		workers:  cfg.Workers,
		logger:   cfg.Logger,
		inserted: cfg.Metrics.Counter("reddit_etl_catalog_inserted_total", "Catalog records inserted by bootstrap"),
		size:     cfg.Metrics.Gauge("reddit_etl_catalog_size", "Catalog records at last check"),
	}
}

// EnsureReady bootstraps the catalog if it holds no records and reports how
// many records were inserted. A populated catalog is left untouched, whatever
// its contents. Any parse, embedding or insert failure aborts the pass with a
// *domain.CatalogBootstrapError. Batches inserted before an insert failure
// are deleted again, so the next call starts from an empty catalog.
func (b *Bootstrapper) EnsureReady(ctx context.Context) (int, error) {
	n, err := b.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: bootstrap: %w", err)
	}
	b.size.Set(n)
	if n > 0 {
		b.logger.Info("catalog: already populated", "records", n)
		return 0, nil
	}

	entries, err := b.readSource()
	if err != nil {
		return 0, err
	}
	b.logger.Info("catalog: bootstrapping", "entries", len(entries), "workers", b.workers)

	records, err := b.embedAll(ctx, entries)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, batch := range fn.Chunk(records, BatchSize) {
		if err := b.store.BulkInsert(ctx, batch); err != nil {
			be := &domain.CatalogBootstrapError{
				Reason: fmt.Sprintf("insert batch at record %d", inserted),
				Err:    err,
			}
			if rerr := b.rollback(records[:inserted+len(batch)]); rerr != nil {
				be.Err = errors.Join(err, rerr)
			}
			return 0, be
		}
		inserted += len(batch)
		b.inserted.Add(int64(len(batch)))
		b.size.Set(int64(inserted))
		b.logger.Debug("catalog: batch inserted", "batch", len(batch), "total", inserted)
	}
	b.logger.Info("catalog: bootstrap complete", "inserted", inserted)
	return inserted, nil
}

// rollback deletes records written by a failed bootstrap, including the
// failing batch, which may have been applied in part. It runs on a fresh
// context so a cancelled bootstrap still cleans up.
func (b *Bootstrapper) rollback(records []domain.SubredditRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	names := fn.Map(records, func(r domain.SubredditRecord) string { return r.Name })
	if err := b.store.Delete(ctx, names); err != nil {
		b.logger.Error("catalog: rollback failed", "records", len(names), "error", err)
		return fmt.Errorf("catalog: rollback: %w", err)
	}
	b.size.Set(0)
	b.logger.Warn("catalog: bootstrap rolled back", "records", len(names))
	return nil
}

func (b *Bootstrapper) readSource() ([]Entry, error) {
	rc, err := b.open()
	if err != nil {
		return nil, &domain.CatalogBootstrapError{Reason: "open source", Err: err}
	}
	defer rc.Close()
	return ParseSource(rc)
}

// embedAll embeds every entry, keeping source order. The first embedding
// failure cancels the remaining calls. All embeddings must share the first
// one's dimensionality.
func (b *Bootstrapper) embedAll(ctx context.Context, entries []Entry) ([]domain.SubredditRecord, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		failed   *Entry
		firstErr error
	)
	results := fn.ParMapResult(entries, b.workers, func(e Entry) fn.Result[domain.SubredditRecord] {
		if err := ctx.Err(); err != nil {
			return fn.Err[domain.SubredditRecord](err)
		}
		vec, err := b.embedder.Embed(ctx, e.Name)
		if err != nil {
			mu.Lock()
			if failed == nil {
				failed, firstErr = &e, err
				cancel()
			}
			mu.Unlock()
			return fn.Err[domain.SubredditRecord](err)
		}
		return fn.Ok(domain.SubredditRecord{Name: e.Name, Subscribers: e.Subscribers, Embedding: vec})
	})

	records, idx, err := fn.CollectIndexed(results)
	if failed != nil {
		return nil, &domain.CatalogBootstrapError{
			Line:   failed.Line,
			Reason: fmt.Sprintf("embed %q", failed.Name),
			Err:    firstErr,
		}
	}
	if err != nil {
		return nil, &domain.CatalogBootstrapError{Line: entries[idx].Line, Reason: "embed", Err: err}
	}

	for i, r := range records {
		if want := len(records[0].Embedding); len(r.Embedding) != want {
			reason := fmt.Sprintf("embedding for %q has %d dimensions, expected %d", r.Name, len(r.Embedding), want)
			return nil, &domain.CatalogBootstrapError{Line: entries[i].Line, Reason: reason}
		}
	}
	b.logger.Info("catalog: embedded source", "records", len(records), "elapsed", time.Since(start))
	return records, nil
}

package crawler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

// DefaultBatchConcurrency is the number of requests a Batch runs at once.
const DefaultBatchConcurrency = 4

// BatchItem is the outcome of one request of a batch. Err carries profile
// session failures from Engine.Crawl.
type BatchItem struct {
	Index  int
	Result model.CrawlResult
	Err    error
}

// Batch runs many crawl requests through one engine, sharing its proxy
// health state between them.
type Batch struct {
	engine      *Engine
	concurrency int
	logger      *slog.Logger
	opts        []CrawlOption
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithConcurrency sets how many requests run at once.
func WithConcurrency(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBatchLogger sets the logger for batch progress lines.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *Batch) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithCrawlOptions applies opts to every request of the batch.
func WithCrawlOptions(opts ...CrawlOption) BatchOption {
	return func(b *Batch) { b.opts = append(b.opts, opts...) }
}

// NewBatch returns a batch runner over engine.
func NewBatch(engine *Engine, opts ...BatchOption) *Batch {
	b := &Batch{
		engine:      engine,
		concurrency: DefaultBatchConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run crawls every request and calls fn as each one finishes, from the
// goroutine that ran it. Items are reported in completion order; Index
// refers to reqs. Run returns ctx's error if it stopped early.
func (b *Batch) Run(ctx context.Context, reqs []model.CrawlRequest, fn func(BatchItem)) error {
	b.logger.Info("starting batch", "total", len(reqs), "concurrency", b.concurrency)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, req := range reqs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := b.engine.Crawl(gctx, req, b.opts...)
			if err != nil {
				b.logger.Warn("crawl request failed", "url", req.URL, "error", err)
			}
			fn(BatchItem{Index: i, Result: res, Err: err})
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	b.logger.Info("batch complete", "total", len(reqs), "elapsed", time.Since(start))
	return err
}

// CrawlAll runs reqs and returns the items in request order.
func (b *Batch) CrawlAll(ctx context.Context, reqs []model.CrawlRequest) ([]BatchItem, error) {
	items := make([]BatchItem, len(reqs))
	for i := range items {
		items[i] = BatchItem{Index: i, Result: model.NewFailure(reqs[i].URL, "not started")}
	}
	err := b.Run(ctx, reqs, func(it BatchItem) {
		items[it.Index] = it
	})
	return items, err
}

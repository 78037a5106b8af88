// Package dispatcher fans queued ingest items out to a fixed pool of workers
// that route each item to the writer for its kind.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
	"github.com/JakeFAU/crawl-ingest/internal/queue/memory"
	"github.com/JakeFAU/crawl-ingest/internal/writer"
)

// DefaultWorkers is used when Config.Workers is not positive.
const DefaultWorkers = 4

// Skip reasons reported to the Observer.
const (
	ReasonInvalid   = "invalid"
	ReasonMalformed = "malformed"
	ReasonEmpty     = "empty"
)

// Source yields queued items. Dequeue returns memory.ErrClosed once the
// source is closed and drained.
type Source interface {
	Dequeue(ctx context.Context) (ingest.Item, error)
}

// Observer is notified of every routed or skipped item.
type Observer interface {
	ObserveItem(kind ingest.Kind)
	ObserveSkip(kind ingest.Kind, reason string)
}

type nopObserver struct{}

func (nopObserver) ObserveItem(ingest.Kind)         {}
func (nopObserver) ObserveSkip(ingest.Kind, string) {}

// Config controls the pool.
type Config struct {
	Workers int
}

// Stats counts items handled by the pool.
type Stats struct {
	Processed int64
	Skipped   int64
}

// Pool runs the workers.
type Pool struct {
	source   Source
	writers  *writer.Set
	workers  int
	observer Observer
	logger   *zap.Logger

	wg        sync.WaitGroup
	processed atomic.Int64
	skipped   atomic.Int64
}

// New creates a Pool. It does not start any goroutines.
func New(source Source, writers *writer.Set, cfg Config, observer Observer, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		source:   source,
		writers:  writers,
		workers:  cfg.Workers,
		observer: observer,
		logger:   logger,
	}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Start launches the workers. They return once the source reports closed and
// drained, or ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Run starts the workers and blocks until they finish.
func (p *Pool) Run(ctx context.Context) {
	p.Start(ctx)
	p.Wait()
}

// Stats returns the item counters.
func (p *Pool) Stats() Stats {
	return Stats{Processed: p.processed.Load(), Skipped: p.skipped.Load()}
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	for {
		item, err := p.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) || ctx.Err() != nil {
				logger.Debug("worker exiting", zap.Error(err))
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		p.dispatch(ctx, item, logger)
	}
}

func (p *Pool) dispatch(ctx context.Context, item ingest.Item, logger *zap.Logger) {
	if err := item.Validate(); err != nil {
		p.skip(item.Kind, ReasonInvalid, 1)
		logger.Debug("skipping invalid item", zap.Stringer("kind", item.Kind), zap.Error(err))
		return
	}
	if removed := item.Sanitize(); removed > 0 {
		p.skip(item.Kind, ReasonMalformed, removed)
		logger.Debug("dropped malformed elements", zap.Stringer("kind", item.Kind), zap.Int("count", removed))
	}

	switch item.Kind {
	case ingest.KindPage:
		p.writers.Pages.Insert(ctx, *item.Page)
	case ingest.KindImages:
		if len(item.Images) == 0 {
			p.skip(item.Kind, ReasonEmpty, 1)
			return
		}
		p.writers.Images.InsertMany(ctx, item.Images)
	case ingest.KindBacklink:
		p.writers.Backlinks.Insert(ctx, *item.Backlink)
	case ingest.KindPageTokens:
		if len(item.Tokens) == 0 {
			p.skip(item.Kind, ReasonEmpty, 1)
			return
		}
		p.writers.PageTokens.InsertMany(ctx, item.Tokens)
	case ingest.KindImageTokens:
		if len(item.Tokens) == 0 {
			p.skip(item.Kind, ReasonEmpty, 1)
			return
		}
		p.writers.ImageTokens.InsertMany(ctx, item.Tokens)
	default:
		p.skip(item.Kind, ReasonInvalid, 1)
		return
	}
	p.processed.Add(1)
	p.observer.ObserveItem(item.Kind)
}

func (p *Pool) skip(kind ingest.Kind, reason string, n int) {
	p.skipped.Add(int64(n))
	for i := 0; i < n; i++ {
		p.observer.ObserveSkip(kind, reason)
	}
}

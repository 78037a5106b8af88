package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultThreshold    = 100
	DefaultFlushTimeout = 30 * time.Second
)

// Strategy moves one batch of buffered items into the store.
type Strategy[T any] interface {
	Flush(ctx context.Context, batch []T) Report
}

// Config controls a Writer.
type Config struct {
	// Name labels logs and metrics, typically the collection name.
	Name string
	// Threshold is the buffer length that triggers a flush.
	Threshold int
	// FlushTimeout bounds each flush, merge retries included.
	FlushTimeout time.Duration
}

// Writer buffers items of type T and flushes them through a Strategy into a
// collection of documents D.
type Writer[T any, D docstore.Document] struct {
	name         string
	threshold    int
	flushTimeout time.Duration
	coll         docstore.Collection[D]
	strategy     Strategy[T]
	observer     Observer
	logger       *zap.Logger
	warn         rate.Sometimes

	// mu is held across flushes so inserts queue behind an in-flight batch.
	mu    sync.Mutex
	buf   []T
	stats Stats
}

// New creates a Writer. observer and logger may be nil.
func New[T any, D docstore.Document](
	cfg Config,
	coll docstore.Collection[D],
	strategy Strategy[T],
	observer Observer,
	logger *zap.Logger,
) *Writer[T, D] {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer[T, D]{
		name:         cfg.Name,
		threshold:    cfg.Threshold,
		flushTimeout: cfg.FlushTimeout,
		coll:         coll,
		strategy:     strategy,
		observer:     observer,
		logger:       logger.With(zap.String("writer", cfg.Name)),
		warn:         rate.Sometimes{First: 1, Interval: 10 * time.Second},
		buf:          make([]T, 0, cfg.Threshold),
	}
}

// Name returns the writer label.
func (w *Writer[T, D]) Name() string { return w.name }

// Threshold returns the batch size.
func (w *Writer[T, D]) Threshold() int { return w.threshold }

// Insert buffers one item, flushing when the buffer is full.
func (w *Writer[T, D]) Insert(ctx context.Context, item T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, item)
	if len(w.buf) >= w.threshold {
		w.flushLocked(ctx)
	}
}

// InsertMany buffers items in order, flushing each time the buffer fills.
// Leftover items stay buffered.
func (w *Writer[T, D]) InsertMany(ctx context.Context, items []T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range items {
		w.buf = append(w.buf, item)
		if len(w.buf) >= w.threshold {
			w.flushLocked(ctx)
		}
	}
}

// Flush writes whatever is buffered. It returns an empty report without
// touching the store when the buffer is empty.
func (w *Writer[T, D]) Flush(ctx context.Context) Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *Writer[T, D]) flushLocked(ctx context.Context) Report {
	if len(w.buf) == 0 {
		return Report{Writer: w.name}
	}
	batch := w.buf
	w.buf = make([]T, 0, w.threshold)

	flushCtx, cancel := context.WithTimeout(ctx, w.flushTimeout)
	defer cancel()

	start := time.Now()
	rep := w.strategy.Flush(flushCtx, batch)
	rep.Writer = w.name
	rep.Batch = len(batch)
	rep.Duration = time.Since(start)

	w.stats.add(rep)
	w.log(rep)
	w.observer.ObserveFlush(rep)
	return rep
}

func (w *Writer[T, D]) log(rep Report) {
	fields := []zap.Field{
		zap.Int("batch", rep.Batch),
		zap.Int("written", rep.Written),
		zap.Int("merged", rep.Merged),
		zap.Int("dropped", rep.Dropped),
		zap.Int("retries", rep.Retries),
		zap.Stringer("outcome", rep.Outcome),
		zap.Duration("duration", rep.Duration),
	}
	if rep.Err != nil {
		fields = append(fields, zap.Error(rep.Err))
	}
	w.logger.Debug("flush", fields...)

	if rep.Dropped == 0 && rep.DroppedConflicts == 0 {
		return
	}
	dropped, conflicts := w.stats.Dropped, w.stats.DroppedConflicts
	w.warn.Do(func() {
		w.logger.Warn("documents dropped during flush",
			zap.Int64("dropped_total", dropped),
			zap.Int64("dropped_conflicts_total", conflicts),
			zap.Stringer("outcome", rep.Outcome),
			zap.Error(rep.Err),
		)
	})
}

// Len returns the number of buffered items.
func (w *Writer[T, D]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Stats returns the totals accumulated so far.
func (w *Writer[T, D]) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Count passes through to the collection.
func (w *Writer[T, D]) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	n, err := w.coll.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%s count: %w", w.name, err)
	}
	return n, nil
}

// Query passes through to the collection.
func (w *Writer[T, D]) Query(ctx context.Context, filter docstore.Filter) ([]D, error) {
	docs, err := w.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", w.name, err)
	}
	return docs, nil
}

// Exists reports whether a document with key has been stored.
func (w *Writer[T, D]) Exists(ctx context.Context, key string) (bool, error) {
	n, err := w.Count(ctx, docstore.ByKeys(key))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

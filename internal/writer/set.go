package writer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

// Collections are the four stores a Set writes to.
type Collections struct {
	Pages       docstore.Collection[ingest.Page]
	Images      docstore.Collection[ingest.Image]
	PageTokens  docstore.Collection[ingest.TokenEntry]
	ImageTokens docstore.Collection[ingest.TokenEntry]
}

// SetConfig sizes the writers of a Set.
type SetConfig struct {
	// Threshold applies to the page, image and backlink writers.
	Threshold int
	// TokenThreshold applies to both token writers; token items are far
	// more numerous than pages.
	TokenThreshold int
	FlushTimeout   time.Duration
	MaxRetries     int
}

// Set holds one writer per item kind. The backlink writer shares the page
// collection with the page writer.
type Set struct {
	Pages       *Writer[ingest.Page, ingest.Page]
	Images      *Writer[ingest.Image, ingest.Image]
	Backlinks   *Writer[ingest.Backlink, ingest.Page]
	PageTokens  *Writer[ingest.TokenOccurrence, ingest.TokenEntry]
	ImageTokens *Writer[ingest.TokenOccurrence, ingest.TokenEntry]
}

// NewSet wires one writer per kind with its flush strategy.
func NewSet(colls Collections, cfg SetConfig, observer Observer, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenThreshold <= 0 {
		cfg.TokenThreshold = cfg.Threshold
	}
	base := Config{Threshold: cfg.Threshold, FlushTimeout: cfg.FlushTimeout}
	named := func(c Config, name string) Config {
		c.Name = name
		return c
	}
	tokens := base
	tokens.Threshold = cfg.TokenThreshold

	return &Set{
		Pages: New[ingest.Page, ingest.Page](
			named(base, ingest.KindPage.String()), colls.Pages, NewPageMerge(colls.Pages), observer, logger),
		Images: New[ingest.Image, ingest.Image](
			named(base, ingest.KindImages.String()), colls.Images, NewInsertOnly(colls.Images), observer, logger),
		Backlinks: New[ingest.Backlink, ingest.Page](
			named(base, ingest.KindBacklink.String()), colls.Pages, NewBacklinkBulk(colls.Pages), observer, logger),
		PageTokens: New[ingest.TokenOccurrence, ingest.TokenEntry](
			named(tokens, ingest.KindPageTokens.String()), colls.PageTokens,
			NewTokenMerge(colls.PageTokens, cfg.MaxRetries), observer, logger),
		ImageTokens: New[ingest.TokenOccurrence, ingest.TokenEntry](
			named(tokens, ingest.KindImageTokens.String()), colls.ImageTokens,
			NewTokenMerge(colls.ImageTokens, cfg.MaxRetries), observer, logger),
	}
}

type flusher interface {
	Flush(ctx context.Context) Report
	Stats() Stats
	Len() int
	Name() string
}

// ordered lists the writers in final-flush order. Pages go before backlinks
// so the page merge sees every page the run produced.
func (s *Set) ordered() []flusher {
	return []flusher{s.Pages, s.Images, s.Backlinks, s.PageTokens, s.ImageTokens}
}

// FlushAll flushes every writer once in kind order.
func (s *Set) FlushAll(ctx context.Context) []Report {
	out := make([]Report, 0, len(ingest.Kinds))
	for _, w := range s.ordered() {
		out = append(out, w.Flush(ctx))
	}
	return out
}

// Stats returns per-writer totals keyed by writer name.
func (s *Set) Stats() map[string]Stats {
	out := make(map[string]Stats, len(ingest.Kinds))
	for _, w := range s.ordered() {
		out[w.Name()] = w.Stats()
	}
	return out
}

// Buffered returns the number of items waiting in each writer.
func (s *Set) Buffered() map[string]int {
	out := make(map[string]int, len(ingest.Kinds))
	for _, w := range s.ordered() {
		out[w.Name()] = w.Len()
	}
	return out
}

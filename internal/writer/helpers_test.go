package writer

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/docstore/memory"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

// hooked wraps a collection to count calls and inject failures or races.
type hooked[D docstore.Document] struct {
	docstore.Collection[D]

	mu         sync.Mutex
	inserts    [][]D
	bulks      int
	finds      int
	insertErr  error
	bulkErr    error
	findErr    error
	beforeBulk func(call int)
}

func (h *hooked[D]) InsertMany(ctx context.Context, docs []D) error {
	h.mu.Lock()
	h.inserts = append(h.inserts, append([]D(nil), docs...))
	err := h.insertErr
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.Collection.InsertMany(ctx, docs)
}

func (h *hooked[D]) BulkWrite(ctx context.Context, writes []docstore.Write[D]) error {
	h.mu.Lock()
	h.bulks++
	call, err, hook := h.bulks, h.bulkErr, h.beforeBulk
	h.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if err != nil {
		return err
	}
	return h.Collection.BulkWrite(ctx, writes)
}

func (h *hooked[D]) Find(ctx context.Context, filter docstore.Filter) ([]D, error) {
	h.mu.Lock()
	h.finds++
	err := h.findErr
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return h.Collection.Find(ctx, filter)
}

func (h *hooked[D]) insertCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inserts)
}

func newPages() *memory.Collection[ingest.Page] {
	return memory.New("pages", ingest.StubPage)
}

func newTokens() *memory.Collection[ingest.TokenEntry] {
	return memory.New("page_tokens", func(token string) ingest.TokenEntry {
		return ingest.TokenEntry{Token: token, Postings: []ingest.Posting{}}
	})
}

type recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recorder) ObserveFlush(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recorder) all() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}

func occurrences(token, url string, n int) []ingest.TokenOccurrence {
	out := make([]ingest.TokenOccurrence, n)
	for i := range out {
		out[i] = ingest.TokenOccurrence{Token: token, URL: url}
	}
	return out
}

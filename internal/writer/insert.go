package writer

import (
	"context"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
)

// InsertOnly inserts each batch unordered and drops documents whose key is
// already stored. Stored documents are never merged or replaced.
type InsertOnly[D docstore.Document] struct {
	coll docstore.Collection[D]
}

// NewInsertOnly creates the strategy.
func NewInsertOnly[D docstore.Document](coll docstore.Collection[D]) *InsertOnly[D] {
	return &InsertOnly[D]{coll: coll}
}

// Flush implements Strategy.
func (s *InsertOnly[D]) Flush(ctx context.Context, batch []D) Report {
	var rep Report
	err := s.coll.InsertMany(ctx, batch)
	if err == nil {
		rep.Written = len(batch)
		return rep
	}
	we, ok := docstore.AsWriteError(err)
	if !ok {
		rep.Dropped = len(batch)
		rep.Outcome = OutcomeFailed
		rep.Err = err
		return rep
	}
	for _, r := range we.Rejected {
		if r.Duplicate() {
			rep.Duplicates++
			continue
		}
		rep.Dropped++
	}
	rep.Written = len(batch) - len(we.Rejected)
	rep.Outcome = outcomeFor(rep.Written+rep.Duplicates, rep.Dropped)
	if rep.Dropped > 0 {
		rep.Err = err
	}
	return rep
}

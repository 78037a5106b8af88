package writer

import (
	"context"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

// BacklinkBulk turns each edge into a set-add upsert on the target page. A
// missing target is created as a stub. Identical edges in one batch collapse
// into a single write; re-applying an edge is a no-op in the store.
type BacklinkBulk struct {
	pages docstore.Collection[ingest.Page]
}

// NewBacklinkBulk creates the strategy.
func NewBacklinkBulk(pages docstore.Collection[ingest.Page]) *BacklinkBulk {
	return &BacklinkBulk{pages: pages}
}

// Flush implements Strategy. Failed writes are not retried.
func (s *BacklinkBulk) Flush(ctx context.Context, batch []ingest.Backlink) Report {
	var rep Report
	seen := make(map[ingest.Backlink]struct{}, len(batch))
	writes := make([]docstore.Write[ingest.Page], 0, len(batch))
	for _, edge := range batch {
		if _, dup := seen[edge]; dup {
			continue
		}
		seen[edge] = struct{}{}
		writes = append(writes, docstore.AddToSet[ingest.Page](edge.Target, edge.Source))
	}

	err := s.pages.BulkWrite(ctx, writes)
	switch we, ok := docstore.AsWriteError(err); {
	case err == nil:
		rep.Written = len(writes)
	case ok:
		rep.Dropped = len(we.Rejected)
		rep.Written = len(writes) - rep.Dropped
		rep.Err = err
	default:
		rep.Dropped = len(writes)
		rep.Err = err
	}
	rep.Outcome = outcomeFor(rep.Written, rep.Dropped)
	return rep
}

package writer

import (
	"context"
	"errors"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

// pageMergeFields is the projection used to read back rejected pages.
var pageMergeFields = []string{"url", "title", "description", "keywords", "urls", "backlinks", "fetched_at"}

// PageMerge inserts pages and reconciles the ones rejected as duplicates.
//
// Every rejected page is reconciled against the stored version. A stored stub
// is promoted in place: the incoming page replaces it and the backlink sets
// are unioned by the store, so set additions racing with the flush survive.
// Against a stored full page the later full arrival wins outright, backlinks
// included. An incoming stub carries no content and never replaces a stored
// full page; only its backlinks are added to the stored set.
type PageMerge struct {
	pages docstore.Collection[ingest.Page]
}

// NewPageMerge creates the strategy.
func NewPageMerge(pages docstore.Collection[ingest.Page]) *PageMerge {
	return &PageMerge{pages: pages}
}

// pending collects the rejected versions of one url in arrival order.
type pending struct {
	url      string
	versions []ingest.Page
	full     bool
}

// Flush implements Strategy.
func (s *PageMerge) Flush(ctx context.Context, batch []ingest.Page) Report {
	var rep Report
	err := s.pages.InsertMany(ctx, batch)
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

	var (
		conflicts []*pending
		byURL     = make(map[string]*pending)
		errs      []error
	)
	for _, r := range we.Rejected {
		if !r.Duplicate() || r.Index < 0 || r.Index >= len(batch) {
			rep.Dropped++
			continue
		}
		rep.Duplicates++
		doc := batch[r.Index]
		p, ok := byURL[doc.URL]
		if !ok {
			p = &pending{url: doc.URL}
			byURL[doc.URL] = p
			conflicts = append(conflicts, p)
		}
		p.versions = append(p.versions, doc)
		p.full = p.full || !doc.IsStub()
	}
	rep.Written = len(batch) - len(we.Rejected)
	if rep.Dropped > 0 {
		errs = append(errs, err)
	}

	var writes []docstore.Write[ingest.Page]
	stored, err := s.lookup(ctx, conflicts)
	if err != nil {
		for _, p := range conflicts {
			if p.full {
				rep.Dropped += len(p.versions)
			}
		}
		errs = append(errs, err)
		// Stubs carry only backlinks, which are safe to add without a read.
		for _, p := range stubOnly(conflicts) {
			writes = append(writes, backlinkAdds(p)...)
		}
	} else {
		for _, p := range conflicts {
			writes = append(writes, reconcile(stored[p.url], p)...)
		}
	}
	if len(writes) > 0 {
		err = s.pages.BulkWrite(ctx, writes)
		switch bwe, ok := docstore.AsWriteError(err); {
		case err == nil:
			rep.Merged = len(writes)
		case ok:
			rep.Dropped += len(bwe.Rejected)
			rep.Merged = len(writes) - len(bwe.Rejected)
			errs = append(errs, err)
		default:
			rep.Dropped += len(writes)
			errs = append(errs, err)
		}
	}
	rep.Outcome = outcomeFor(rep.Written+rep.Merged, rep.Dropped)
	rep.Err = errors.Join(errs...)
	return rep
}

// lookup reads back the stored versions of the conflicting urls.
func (s *PageMerge) lookup(ctx context.Context, conflicts []*pending) (map[string]ingest.Page, error) {
	keys := make([]string, 0, len(conflicts))
	for _, p := range conflicts {
		keys = append(keys, p.url)
	}
	stored := make(map[string]ingest.Page, len(keys))
	if len(keys) == 0 {
		return stored, nil
	}
	docs, err := s.pages.Find(ctx, docstore.Filter{Keys: keys, Fields: pageMergeFields})
	if err != nil {
		return stored, err
	}
	for _, doc := range docs {
		stored[doc.URL] = doc
	}
	return stored, nil
}

func stubOnly(conflicts []*pending) []*pending {
	out := conflicts[:0]
	for _, p := range conflicts {
		if !p.full {
			out = append(out, p)
		}
	}
	return out
}

// reconcile picks the writes that bring the stored page up to date with the
// rejected versions of one url.
func reconcile(stored ingest.Page, p *pending) []docstore.Write[ingest.Page] {
	want := p.versions[0]
	for _, v := range p.versions[1:] {
		want = MergePage(want, v)
	}
	switch {
	case stored.URL == "" || stored.IsStub():
		return []docstore.Write[ingest.Page]{docstore.Promote(want)}
	case !p.full:
		return backlinkAdds(p)
	default:
		return []docstore.Write[ingest.Page]{docstore.ReplaceDoc(want)}
	}
}

func backlinkAdds(p *pending) []docstore.Write[ingest.Page] {
	var backlinks []string
	for _, v := range p.versions {
		backlinks = unionStrings(backlinks, v.Backlinks)
	}
	writes := make([]docstore.Write[ingest.Page], 0, len(backlinks))
	for _, b := range backlinks {
		writes = append(writes, docstore.AddToSet[ingest.Page](p.url, b))
	}
	return writes
}

// MergePage folds a later version of a page into an earlier one.
func MergePage(earlier, later ingest.Page) ingest.Page {
	switch {
	case earlier.IsStub():
		out := later.Clone()
		out.Backlinks = unionStrings(out.Backlinks, earlier.Backlinks)
		return out
	case later.IsStub():
		out := earlier.Clone()
		out.Backlinks = unionStrings(out.Backlinks, later.Backlinks)
		return out
	default:
		return later.Clone()
	}
}

func unionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

package writer

import (
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

// Aggregation maps token to url to occurrence count.
type Aggregation map[string]map[string]int64

// Aggregate folds occurrences into per-(token, url) counts. Occurrences with
// an empty token or url are skipped and counted.
func Aggregate(batch []ingest.TokenOccurrence) (Aggregation, int) {
	agg := make(Aggregation)
	skipped := 0
	for _, occ := range batch {
		if occ.Token == "" || occ.URL == "" {
			skipped++
			continue
		}
		agg.add(occ.Token, occ.URL, 1)
	}
	return agg, skipped
}

func (a Aggregation) add(token, url string, n int64) {
	urls, ok := a[token]
	if !ok {
		urls = make(map[string]int64)
		a[token] = urls
	}
	urls[url] += n
}

// Len returns the number of (token, url) pairs.
func (a Aggregation) Len() int {
	n := 0
	for _, urls := range a {
		n += len(urls)
	}
	return n
}

// Tokens returns the tokens in sorted order.
func (a Aggregation) Tokens() []string {
	out := make([]string, 0, len(a))
	for tok := range a {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// URLs returns the distinct urls across all tokens in sorted order.
func (a Aggregation) URLs() []string {
	set := make(map[string]struct{})
	for _, urls := range a {
		for u := range urls {
			set[u] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func sortedURLs(urls map[string]int64) []string {
	out := make([]string, 0, len(urls))
	for u := range urls {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// TokenMerge merges aggregated token counts into an inverted index.
//
// Each attempt reads the stored postings for the batch tokens restricted to
// the batch urls, then issues one unordered bulk write: an insert for every
// unseen token, and per url either an increment of the stored posting or a
// push of a new one. Concurrent writers racing on the same token or posting
// surface as duplicate-key rejections; exactly those pairs are re-planned
// against fresh state and retried.
type TokenMerge struct {
	index      docstore.Collection[ingest.TokenEntry]
	maxRetries int
}

// NewTokenMerge creates the strategy. maxRetries <= 0 uses DefaultMaxRetries.
func NewTokenMerge(index docstore.Collection[ingest.TokenEntry], maxRetries int) *TokenMerge {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &TokenMerge{index: index, maxRetries: maxRetries}
}

// Flush implements Strategy.
func (s *TokenMerge) Flush(ctx context.Context, batch []ingest.TokenOccurrence) Report {
	agg, skipped := Aggregate(batch)
	rep := Report{Skipped: skipped}
	if agg.Len() == 0 {
		return rep
	}

	res := RetryConflicts(ctx, s.maxRetries, agg, func(ctx context.Context, pending Aggregation) (Aggregation, error) {
		out, err := s.merge(ctx, pending)
		rep.Written += out.written
		rep.Dropped += out.dropped
		rep.Duplicates += out.conflicts.Len()
		return out.conflicts, err
	})
	rep.Retries = res.Attempts - 1
	rep.Outcome = res.Outcome
	rep.Err = res.Err
	switch res.Outcome {
	case OutcomeExhausted:
		rep.DroppedConflicts = res.Remaining.Len()
		rep.Err = fmt.Errorf("%d postings still conflicting after %d attempts", rep.DroppedConflicts, res.Attempts)
	case OutcomeFailed, OutcomePartial:
		rep.Dropped += res.Remaining.Len()
	case OutcomeConverged:
		if rep.Dropped > 0 {
			rep.Outcome = OutcomePartial
		}
	}
	return rep
}

type mergeResult struct {
	written   int
	dropped   int
	conflicts Aggregation
}

// merge runs one read-plan-write pass. A returned error means nothing in
// pending was applied.
func (s *TokenMerge) merge(ctx context.Context, pending Aggregation) (mergeResult, error) {
	res := mergeResult{conflicts: Aggregation{}}
	tokens := pending.Tokens()
	stored, err := s.index.Find(ctx, docstore.Filter{Keys: tokens, Members: pending.URLs()})
	if err != nil {
		return res, fmt.Errorf("lookup postings: %w", err)
	}
	present := make(map[string]ingest.TokenEntry, len(stored))
	for _, entry := range stored {
		present[entry.Token] = entry
	}

	writes, pairs := plan(tokens, pending, present)
	err = s.index.BulkWrite(ctx, writes)
	if err == nil {
		res.written = len(writes)
		return res, nil
	}
	we, ok := docstore.AsWriteError(err)
	if !ok {
		return res, fmt.Errorf("write postings: %w", err)
	}
	res.written = len(writes) - len(we.Rejected)
	for _, r := range we.Rejected {
		if r.Index < 0 || r.Index >= len(pairs) {
			continue
		}
		for _, p := range pairs[r.Index] {
			if r.Duplicate() {
				res.conflicts.add(p.Token, p.URL, pending[p.Token][p.URL])
				continue
			}
			res.dropped++
		}
	}
	return res, nil
}

// plan builds the writes for one attempt. pairs[i] lists the (token, url)
// pairs write i carries so rejections can be mapped back.
func plan(
	tokens []string,
	pending Aggregation,
	present map[string]ingest.TokenEntry,
) ([]docstore.Write[ingest.TokenEntry], [][]ingest.TokenOccurrence) {
	var (
		writes []docstore.Write[ingest.TokenEntry]
		pairs  [][]ingest.TokenOccurrence
	)
	for _, tok := range tokens {
		urls := pending[tok]
		entry, ok := present[tok]
		if !ok {
			writes = append(writes, docstore.InsertDoc(ingest.NewTokenEntry(tok, urls)))
			carried := make([]ingest.TokenOccurrence, 0, len(urls))
			for _, u := range sortedURLs(urls) {
				carried = append(carried, ingest.TokenOccurrence{Token: tok, URL: u})
			}
			pairs = append(pairs, carried)
			continue
		}
		for _, u := range sortedURLs(urls) {
			if _, has := entry.Posting(u); has {
				writes = append(writes, docstore.Increment[ingest.TokenEntry](tok, u, urls[u]))
			} else {
				writes = append(writes, docstore.Push[ingest.TokenEntry](tok, u, urls[u]))
			}
			pairs = append(pairs, []ingest.TokenOccurrence{{Token: tok, URL: u}})
		}
	}
	return writes, pairs
}

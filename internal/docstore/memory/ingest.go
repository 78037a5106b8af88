package memory

import "github.com/JakeFAU/crawl-ingest/internal/ingest"

// NewPages creates a page collection whose upserts start from a stub page.
func NewPages(name string) *Collection[ingest.Page] {
	return New(name, ingest.StubPage)
}

// NewImages creates an insert-only image collection.
func NewImages(name string) *Collection[ingest.Image] {
	return New[ingest.Image](name, nil)
}

// NewTokens creates an inverted-index collection.
func NewTokens(name string) *Collection[ingest.TokenEntry] {
	return New(name, func(token string) ingest.TokenEntry {
		return ingest.TokenEntry{Token: token, Postings: []ingest.Posting{}}
	})
}

package ingest

import (
	"sort"
	"time"
)

// Page is the link-graph document stored in the pages collection.
type Page struct {
	URL         string    `json:"url" bson:"url"`
	Title       string    `json:"title,omitempty" bson:"title,omitempty"`
	Description string    `json:"description,omitempty" bson:"description,omitempty"`
	Keywords    []string  `json:"keywords,omitempty" bson:"keywords,omitempty"`
	URLs        []string  `json:"urls,omitempty" bson:"urls,omitempty"`
	Backlinks   []string  `json:"backlinks" bson:"backlinks"`
	FetchedAt   time.Time `json:"fetched_at" bson:"fetched_at,omitempty"`
}

// DocKey returns the page identity.
func (p Page) DocKey() string { return p.URL }

// IsStub reports whether the page was only ever discovered as a link target:
// it carries backlinks and nothing else.
func (p Page) IsStub() bool {
	return p.Title == "" && p.Description == "" && len(p.Keywords) == 0 &&
		len(p.URLs) == 0 && p.FetchedAt.IsZero()
}

// Clone returns a deep copy so stored documents never alias caller slices.
func (p Page) Clone() Page {
	p.Keywords = cloneStrings(p.Keywords)
	p.URLs = cloneStrings(p.URLs)
	p.Backlinks = cloneStrings(p.Backlinks)
	if p.Backlinks == nil {
		p.Backlinks = []string{}
	}
	return p
}

// AddToSet adds source to the backlink set. It reports false when the
// backlink was already present.
func (p *Page) AddToSet(source string) bool {
	for _, b := range p.Backlinks {
		if b == source {
			return false
		}
	}
	p.Backlinks = append(p.Backlinks, source)
	return true
}

// Promote overwrites the page content with full while keeping the union of
// both backlink sets.
func (p *Page) Promote(full Page) {
	backlinks := p.Backlinks
	*p = full
	p.Backlinks = cloneStrings(backlinks)
	if p.Backlinks == nil {
		p.Backlinks = []string{}
	}
	for _, b := range full.Backlinks {
		p.AddToSet(b)
	}
}

// Normalize applies URL normalization to the identity, outbound links and
// backlinks, collapsing duplicates. Backlinks is never nil afterwards so the
// stored document always holds an array.
func (p *Page) Normalize() {
	p.URL = NormalizeURL(p.URL)
	p.URLs = normalizeSet(p.URLs)
	p.Backlinks = normalizeSet(p.Backlinks)
	if p.Backlinks == nil {
		p.Backlinks = []string{}
	}
}

// StubPage returns the document a backlink upsert creates for an unseen URL.
func StubPage(url string) Page {
	return Page{URL: url, Backlinks: []string{}}
}

// Image is stored once per normalized image URL and never merged.
type Image struct {
	URL       string    `json:"url" bson:"url"`
	Alt       string    `json:"alt,omitempty" bson:"alt,omitempty"`
	PageURL   string    `json:"page_url" bson:"page_url"`
	Tokens    []string  `json:"tokens,omitempty" bson:"tokens,omitempty"`
	FetchedAt time.Time `json:"fetched_at" bson:"fetched_at,omitempty"`
}

// DocKey returns the image identity.
func (i Image) DocKey() string { return i.URL }

// Clone returns a deep copy.
func (i Image) Clone() Image {
	i.Tokens = cloneStrings(i.Tokens)
	return i
}

// Backlink says Source links to Target.
type Backlink struct {
	Target string `json:"target"`
	Source string `json:"source"`
}

// TokenOccurrence is one sighting of a token on (or near) a URL.
type TokenOccurrence struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Posting is the per-URL counter embedded in a token entry.
type Posting struct {
	URL   string `json:"url" bson:"url"`
	Count int64  `json:"count" bson:"count"`
}

// TokenEntry is one inverted-index document.
type TokenEntry struct {
	Token    string    `json:"token" bson:"token"`
	Postings []Posting `json:"urls" bson:"urls"`
}

// DocKey returns the token.
func (t TokenEntry) DocKey() string { return t.Token }

// Clone returns a deep copy.
func (t TokenEntry) Clone() TokenEntry {
	t.Postings = append([]Posting(nil), t.Postings...)
	if t.Postings == nil {
		t.Postings = []Posting{}
	}
	return t
}

// Posting returns the posting for url, if present.
func (t TokenEntry) Posting(url string) (Posting, bool) {
	for _, p := range t.Postings {
		if p.URL == url {
			return p, true
		}
	}
	return Posting{}, false
}

// Increment adds delta to the posting for url. It reports false when no such
// posting exists.
func (t *TokenEntry) Increment(url string, delta int64) bool {
	for i := range t.Postings {
		if t.Postings[i].URL == url {
			t.Postings[i].Count += delta
			return true
		}
	}
	return false
}

// Push appends a new posting. It reports false when url already has one.
func (t *TokenEntry) Push(url string, count int64) bool {
	if _, ok := t.Posting(url); ok {
		return false
	}
	t.Postings = append(t.Postings, Posting{URL: url, Count: count})
	return true
}

// Restrict returns a copy holding only postings whose URL is in urls.
func (t TokenEntry) Restrict(urls map[string]struct{}) TokenEntry {
	out := TokenEntry{Token: t.Token, Postings: []Posting{}}
	for _, p := range t.Postings {
		if _, ok := urls[p.URL]; ok {
			out.Postings = append(out.Postings, p)
		}
	}
	return out
}

// NewTokenEntry builds an entry from a url→count map with postings sorted by URL.
func NewTokenEntry(token string, counts map[string]int64) TokenEntry {
	entry := TokenEntry{Token: token, Postings: make([]Posting, 0, len(counts))}
	for url, count := range counts {
		entry.Postings = append(entry.Postings, Posting{URL: url, Count: count})
	}
	sort.Slice(entry.Postings, func(i, j int) bool {
		return entry.Postings[i].URL < entry.Postings[j].URL
	})
	return entry
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		u := NormalizeURL(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

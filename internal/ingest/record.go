package ingest

import "time"

// Record is a crawled page as emitted by the crawl pipeline: extracted content,
// outbound links, finished token list and the images found on it.
type Record struct {
	URL         string        `json:"url"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Keywords    []string      `json:"keywords"`
	URLs        []string      `json:"urls"`
	Backlinks   []string      `json:"backlinks"`
	Tokens      []string      `json:"tokens"`
	Images      []ImageRecord `json:"images"`
	FetchedAt   time.Time     `json:"fetched_at"`
}

// ImageRecord is an image extracted from a crawled page.
type ImageRecord struct {
	URL    string   `json:"url"`
	Alt    string   `json:"alt"`
	Tokens []string `json:"tokens"`
}

// Items explodes the record into queue items: the page itself, a backlink edge
// per outbound link, its images, one token occurrence per page token, and the
// image token occurrences keyed by image URL. now stamps records that arrive
// without a fetch time.
func (r Record) Items(now time.Time) []Item {
	url := NormalizeURL(r.URL)
	if url == "" {
		return nil
	}
	fetched := r.FetchedAt
	if fetched.IsZero() {
		fetched = now
	}

	page := Page{
		URL:         url,
		Title:       r.Title,
		Description: r.Description,
		Keywords:    r.Keywords,
		URLs:        r.URLs,
		Backlinks:   r.Backlinks,
		FetchedAt:   fetched,
	}
	page.Normalize()

	items := make([]Item, 0, 4+len(page.URLs))
	items = append(items, PageItem(page))
	for _, target := range page.URLs {
		if target == url {
			continue
		}
		items = append(items, BacklinkItem(target, url))
	}

	if len(r.Images) > 0 {
		images := make([]Image, 0, len(r.Images))
		var imageTokens []TokenOccurrence
		for _, rec := range r.Images {
			imgURL := NormalizeURL(rec.URL)
			if imgURL == "" {
				continue
			}
			images = append(images, Image{
				URL:       imgURL,
				Alt:       rec.Alt,
				PageURL:   url,
				Tokens:    rec.Tokens,
				FetchedAt: fetched,
			})
			for _, tok := range rec.Tokens {
				imageTokens = append(imageTokens, TokenOccurrence{Token: tok, URL: imgURL})
			}
		}
		if len(images) > 0 {
			items = append(items, ImagesItem(images...))
		}
		if len(imageTokens) > 0 {
			items = append(items, ImageTokensItem(imageTokens...))
		}
	}

	if len(r.Tokens) > 0 {
		occurrences := make([]TokenOccurrence, 0, len(r.Tokens))
		for _, tok := range r.Tokens {
			occurrences = append(occurrences, TokenOccurrence{Token: tok, URL: url})
		}
		items = append(items, PageTokensItem(occurrences...))
	}
	return items
}

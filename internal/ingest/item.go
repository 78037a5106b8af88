package ingest

import (
	"errors"
	"fmt"
)

// Kind discriminates the payload carried by an Item.
type Kind uint8

// Item kinds, in final-flush order.
const (
	KindPage Kind = iota + 1
	KindImages
	KindBacklink
	KindPageTokens
	KindImageTokens
)

// Kinds lists every kind in the order writers are flushed at shutdown.
var Kinds = []Kind{KindPage, KindImages, KindBacklink, KindPageTokens, KindImageTokens}

// String returns the label used in logs, metrics and collection names.
func (k Kind) String() string {
	switch k {
	case KindPage:
		return "pages"
	case KindImages:
		return "images"
	case KindBacklink:
		return "backlinks"
	case KindPageTokens:
		return "page_tokens"
	case KindImageTokens:
		return "image_tokens"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind resolves a label produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// Item is the tagged unit travelling through the ingestion queue. Exactly the
// field matching Kind is populated.
type Item struct {
	Kind     Kind
	Page     *Page
	Images   []Image
	Backlink *Backlink
	Tokens   []TokenOccurrence
}

// Validation failures.
var (
	ErrMissingPayload = errors.New("item payload missing")
	ErrMissingURL     = errors.New("url is required")
	ErrUnknownKind    = errors.New("unknown item kind")
)

// PageItem wraps a page.
func PageItem(p Page) Item {
	return Item{Kind: KindPage, Page: &p}
}

// ImagesItem wraps the images found on a page.
func ImagesItem(images ...Image) Item {
	return Item{Kind: KindImages, Images: images}
}

// BacklinkItem records that source links to target.
func BacklinkItem(target, source string) Item {
	return Item{Kind: KindBacklink, Backlink: &Backlink{Target: target, Source: source}}
}

// PageTokensItem wraps page token occurrences.
func PageTokensItem(tokens ...TokenOccurrence) Item {
	return Item{Kind: KindPageTokens, Tokens: tokens}
}

// ImageTokensItem wraps image token occurrences.
func ImageTokensItem(tokens ...TokenOccurrence) Item {
	return Item{Kind: KindImageTokens, Tokens: tokens}
}

// Validate checks the single-document payloads. Multi-document payloads are
// filtered element by element with Sanitize so one bad element does not drop
// its siblings.
func (it Item) Validate() error {
	switch it.Kind {
	case KindPage:
		if it.Page == nil {
			return ErrMissingPayload
		}
		if NormalizeURL(it.Page.URL) == "" {
			return fmt.Errorf("page: %w", ErrMissingURL)
		}
	case KindBacklink:
		if it.Backlink == nil {
			return ErrMissingPayload
		}
		if NormalizeURL(it.Backlink.Target) == "" || NormalizeURL(it.Backlink.Source) == "" {
			return fmt.Errorf("backlink: %w", ErrMissingURL)
		}
	case KindImages, KindPageTokens, KindImageTokens:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, it.Kind)
	}
	return nil
}

// Sanitize normalizes URLs in place and removes malformed elements from
// multi-document payloads. It returns the number of elements removed.
func (it *Item) Sanitize() int {
	switch it.Kind {
	case KindPage:
		if it.Page != nil {
			it.Page.Normalize()
		}
	case KindBacklink:
		if it.Backlink != nil {
			it.Backlink.Target = NormalizeURL(it.Backlink.Target)
			it.Backlink.Source = NormalizeURL(it.Backlink.Source)
		}
	case KindImages:
		kept := it.Images[:0]
		for _, img := range it.Images {
			img.URL = NormalizeURL(img.URL)
			img.PageURL = NormalizeURL(img.PageURL)
			if img.URL == "" {
				continue
			}
			kept = append(kept, img)
		}
		dropped := len(it.Images) - len(kept)
		it.Images = kept
		return dropped
	case KindPageTokens, KindImageTokens:
		kept := it.Tokens[:0]
		for _, tok := range it.Tokens {
			tok.URL = NormalizeURL(tok.URL)
			if tok.Token == "" || tok.URL == "" {
				continue
			}
			kept = append(kept, tok)
		}
		dropped := len(it.Tokens) - len(kept)
		it.Tokens = kept
		return dropped
	}
	return 0
}

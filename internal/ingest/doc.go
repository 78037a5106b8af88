// Package ingest defines the records the crawl pipeline hands to the ingestion
// core: pages, images, backlink edges and token occurrences, plus the tagged
// queue item that carries them to the writer pool.
//
// Identity rules:
//   - Pages and images are keyed by their normalized URL (see NormalizeURL).
//   - Token index entries are keyed by the token string and hold one posting per URL.
//
// A Page exists in two states. A stub is created when another page links to a URL
// that has not been fetched yet; it carries backlinks only. A full page carries a
// fetch timestamp and the extracted title/description. Stubs are promoted in place
// and keep their accumulated backlinks.
package ingest

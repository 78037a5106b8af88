package ingest

import "strings"

// NormalizeURL produces the identity form of a URL: surrounding whitespace and
// trailing slashes are removed. Nothing else is rewritten, so two spellings that
// differ in case or query order remain distinct documents.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

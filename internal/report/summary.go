// Package report builds the end-of-run summary and hands it to reporters.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-ingest/internal/writer"
)

// Counts are collection sizes read after the final flush.
type Counts struct {
	Pages       int64 `json:"pages"`
	Images      int64 `json:"images"`
	PageTokens  int64 `json:"page_tokens"`
	ImageTokens int64 `json:"image_tokens"`
}

// Summary describes one completed run.
type Summary struct {
	RunID      string                  `json:"run_id"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Elapsed    time.Duration           `json:"elapsed_ns"`
	Items      int64                   `json:"items"`
	Skipped    int64                   `json:"skipped"`
	Counts     Counts                  `json:"counts"`
	Writers    map[string]writer.Stats `json:"writers"`
	// CountErr is set when the collection counts could not be read.
	CountErr string `json:"count_error,omitempty"`
}

// Attributes labels published summaries.
func (s Summary) Attributes() map[string]string {
	return map[string]string{"run_id": s.RunID}
}

// Dropped totals documents and postings lost across writers.
func (s Summary) Dropped() int64 {
	var n int64
	for _, st := range s.Writers {
		n += st.Dropped + st.DroppedConflicts
	}
	return n
}

// FormatText renders the summary as the human-readable block printed at the
// end of a run and appended to the stats file.
func FormatText(s Summary) string {
	var b strings.Builder
	rule := strings.Repeat("=", 30)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Run %s finished in %s\n", s.RunID, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "Items processed: %d (skipped %d)\n", s.Items, s.Skipped)
	fmt.Fprintf(&b, "Pages collection size: %d docs\n", s.Counts.Pages)
	fmt.Fprintf(&b, "Images collection size: %d docs\n", s.Counts.Images)
	fmt.Fprintf(&b, "Page tokens collection size: %d docs\n", s.Counts.PageTokens)
	fmt.Fprintf(&b, "Image tokens collection size: %d tokens\n", s.Counts.ImageTokens)
	if s.CountErr != "" {
		fmt.Fprintf(&b, "Counts incomplete: %s\n", s.CountErr)
	}

	names := make([]string, 0, len(s.Writers))
	for name := range s.Writers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := s.Writers[name]
		fmt.Fprintf(&b, "  %-12s flushes=%d written=%d merged=%d dropped=%d conflicts=%d\n",
			name, st.Flushes, st.Written, st.Merged, st.Dropped, st.DroppedConflicts)
	}
	fmt.Fprintln(&b, rule)
	return b.String()
}

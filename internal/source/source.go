// Package source holds the producers that feed crawl records into a run.
package source

import (
	"context"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

// Submitter accepts crawl records.
type Submitter interface {
	SubmitRecord(ctx context.Context, rec ingest.Record) error
}

// Stats counts what a source read.
type Stats struct {
	Records  int64 `json:"records"`
	Rejected int64 `json:"rejected"`
}

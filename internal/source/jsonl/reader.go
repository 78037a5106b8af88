// Package jsonl reads newline-delimited JSON crawl records.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
	"github.com/JakeFAU/crawl-ingest/internal/source"
)

// MaxLineSize bounds a single record.
const MaxLineSize = 16 << 20

// Read submits every record in r until EOF. Lines that fail to decode are
// logged and counted as rejected. A submit failure stops the read.
func Read(ctx context.Context, name string, r io.Reader, submit source.Submitter, logger *zap.Logger) (source.Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats source.Stats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("read %s: %w", name, err)
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec ingest.Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			stats.Rejected++
			logger.Warn("skipping undecodable record",
				zap.String("source", name), zap.Int("line", line), zap.Error(err))
			continue
		}
		if ingest.NormalizeURL(rec.URL) == "" {
			stats.Rejected++
			logger.Debug("skipping record without url", zap.String("source", name), zap.Int("line", line))
			continue
		}
		if err := submit.SubmitRecord(ctx, rec); err != nil {
			return stats, fmt.Errorf("read %s line %d: %w", name, line, err)
		}
		stats.Records++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan %s: %w", name, err)
	}
	return stats, nil
}

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/storage"
)

// Reporter delivers a finished run's summary somewhere.
type Reporter interface {
	Report(ctx context.Context, s Summary) error
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Deliver runs every reporter and joins their errors.
func Deliver(ctx context.Context, s Summary, reporters ...Reporter) error {
	var errs []error
	for _, r := range reporters {
		if r == nil {
			continue
		}
		if err := r.Report(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogReporter writes the summary as one structured log line.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Report implements Reporter.
func (r *LogReporter) Report(_ context.Context, s Summary) error {
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.Duration("elapsed", s.Elapsed),
		zap.Int64("items", s.Items),
		zap.Int64("skipped", s.Skipped),
		zap.Int64("pages", s.Counts.Pages),
		zap.Int64("images", s.Counts.Images),
		zap.Int64("page_tokens", s.Counts.PageTokens),
		zap.Int64("image_tokens", s.Counts.ImageTokens),
		zap.Int64("dropped", s.Dropped()),
	}
	if s.CountErr != "" {
		fields = append(fields, zap.String("count_error", s.CountErr))
	}
	r.logger.Info("ingestion run finished", fields...)
	return nil
}

// BlobReporter stores each summary as <prefix>/<run_id>.json.
type BlobReporter struct {
	store  storage.BlobStore
	prefix string
}

// NewBlobReporter creates a BlobReporter.
func NewBlobReporter(store storage.BlobStore, prefix string) *BlobReporter {
	return &BlobReporter{store: store, prefix: strings.Trim(prefix, "/")}
}

// Report implements Reporter.
func (r *BlobReporter) Report(ctx context.Context, s Summary) error {
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	name := s.RunID + ".json"
	if r.prefix != "" {
		name = path.Join(r.prefix, name)
	}
	if _, err := r.store.PutObject(ctx, name, "application/json", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

// AppendReporter appends the text summary to one running stats object.
type AppendReporter struct {
	store storage.Appender
	path  string
}

// NewAppendReporter creates an AppendReporter.
func NewAppendReporter(store storage.Appender, path string) *AppendReporter {
	return &AppendReporter{store: store, path: path}
}

// Report implements Reporter.
func (r *AppendReporter) Report(ctx context.Context, s Summary) error {
	if _, err := r.store.AppendObject(ctx, r.path, strings.NewReader(FormatText(s))); err != nil {
		return fmt.Errorf("append summary: %w", err)
	}
	return nil
}

// PublishReporter publishes the JSON summary to a topic.
type PublishReporter struct {
	pub   Publisher
	topic string
}

// NewPublishReporter creates a PublishReporter.
func NewPublishReporter(pub Publisher, topic string) *PublishReporter {
	return &PublishReporter{pub: pub, topic: topic}
}

// Report implements Reporter.
func (r *PublishReporter) Report(ctx context.Context, s Summary) error {
	if _, err := r.pub.Publish(ctx, r.topic, s); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

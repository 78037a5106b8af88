// Package pubsub receives crawl records from a Google Cloud Pub/Sub
// subscription.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/coordinator"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
	"github.com/JakeFAU/crawl-ingest/internal/source"
)

// Config selects the subscription.
type Config struct {
	Subscription   string
	MaxOutstanding int
}

// Subscriber turns Pub/Sub messages into submitted records.
type Subscriber struct {
	sub    *pubsub.Subscription
	submit source.Submitter
	logger *zap.Logger

	records  atomic.Int64
	rejected atomic.Int64
}

// New binds a subscriber to an existing subscription on client.
func New(client *pubsub.Client, cfg Config, submit source.Submitter, logger *zap.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if cfg.Subscription == "" {
		return nil, errors.New("subscription is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.Subscription(cfg.Subscription)
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	return &Subscriber{sub: sub, submit: submit, logger: logger.With(zap.String("subscription", cfg.Subscription))}, nil
}

// Run receives until ctx is canceled. Undecodable messages are acked and
// dropped. Messages that cannot be submitted are nacked for redelivery.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("receiving crawl records")
	err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var rec ingest.Record
		if err := json.Unmarshal(msg.Data, &rec); err != nil || ingest.NormalizeURL(rec.URL) == "" {
			s.rejected.Add(1)
			s.logger.Warn("dropping malformed record message", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		if err := s.submit.SubmitRecord(ctx, rec); err != nil {
			if !errors.Is(err, coordinator.ErrNotRunning) && ctx.Err() == nil {
				s.logger.Warn("submit failed, message will be redelivered",
					zap.String("message_id", msg.ID), zap.Error(err))
			}
			msg.Nack()
			return
		}
		s.records.Add(1)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("receive records: %w", err)
	}
	return nil
}

// Stats returns message counters.
func (s *Subscriber) Stats() source.Stats {
	return source.Stats{Records: s.records.Load(), Rejected: s.rejected.Load()}
}

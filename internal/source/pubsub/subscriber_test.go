package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

type sink struct {
	mu   sync.Mutex
	urls []string
}

func (s *sink) SubmitRecord(_ context.Context, rec ingest.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, rec.URL)
	return nil
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

func TestSubscriberSubmitsRecords(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "records")
	require.NoError(t, err)
	defer topic.Stop()
	_, err = client.CreateSubscription(ctx, "records-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	for _, data := range []string{
		`{"url":"a.com","title":"A","tokens":["cat"]}`,
		`not json`,
		`{"url":"b.com"}`,
	} {
		_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(data)}).Get(ctx)
		require.NoError(t, err)
	}

	recv := &sink{}
	sub, err := New(client, Config{Subscription: "records-sub", MaxOutstanding: 10}, recv, nil)
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sub.Run(runCtx) }()

	require.Eventually(t, func() bool {
		st := sub.Stats()
		return st.Records == 2 && st.Rejected == 1
	}, 5*time.Second, 10*time.Millisecond)
	stop()
	require.NoError(t, <-done)
	require.ElementsMatch(t, []string{"a.com", "b.com"}, recv.urls)
	require.Equal(t, 2, recv.len())
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Subscription: "s"}, &sink{}, nil)
	require.Error(t, err)
}

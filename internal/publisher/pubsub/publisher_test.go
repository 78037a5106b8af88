package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	publisher "github.com/JakeFAU/crawl-ingest/internal/publisher/pubsub"
)

type event struct {
	RunID string `json:"run_id"`
}

func (e event) Attributes() map[string]string {
	return map[string]string{"run_id": e.RunID}
}

func newClient(t *testing.T) *pubsub.Client {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishDeliversJSONWithAttributes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := newClient(t)
	topic, err := client.CreateTopic(ctx, "summaries")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "summaries-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := publisher.New(client)
	defer pub.Stop()

	id, err := pub.Publish(ctx, "summaries", event{RunID: "run-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	received := make(chan *pubsub.Message, 1)
	rctx, rcancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(rctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
			rcancel()
		})
	}()

	select {
	case msg := <-received:
		var got event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, "run-1", got.RunID)
		require.Equal(t, "run-1", msg.Attributes["run_id"])
	case <-ctx.Done():
		t.Fatal("message not received")
	}
}

func TestPublishValidation(t *testing.T) {
	ctx := context.Background()

	_, err := publisher.New(nil).Publish(ctx, "t", event{})
	require.Error(t, err)

	pub := publisher.New(newClient(t))
	_, err = pub.Publish(ctx, "", event{})
	require.Error(t, err)

	_, err = pub.Publish(ctx, "t", func() {})
	require.Error(t, err)
}

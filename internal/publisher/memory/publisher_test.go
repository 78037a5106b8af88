package memory

import (
	"context"
	"errors"
	"testing"
)

var errBoom = errors.New("publish failed")

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "summaries", map[string]string{"run_id": "a"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "summaries" || msgs[1].Topic != "audit" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
	if got := pub.Topic("summaries"); len(got) != 1 {
		t.Fatalf("expected one summaries message, got %d", len(got))
	}
}

func TestPublisherFailure(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.Fail(errBoom)
	if _, err := pub.Publish(context.Background(), "summaries", 1); err == nil {
		t.Fatal("expected injected failure")
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("failed publish must not be recorded")
	}
}

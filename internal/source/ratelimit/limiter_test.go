package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

type recorder struct {
	mu   sync.Mutex
	urls []string
}

func (r *recorder) SubmitRecord(_ context.Context, rec ingest.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, rec.URL)
	return nil
}

func TestHost(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"a.com":                    "a.com",
		"A.com/path/":              "a.com",
		"https://b.com/x?y=1":      "b.com",
		"http://user@c.com:8080/z": "c.com:8080",
		"  d.com/  ":               "d.com",
		"":                         "unknown",
		"e.com?q=1":                "e.com",
	}
	for in, want := range cases {
		if got := Host(in); got != want {
			t.Errorf("Host(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLimiterDelaysSameHost(t *testing.T) {
	t.Parallel()

	next := &recorder{}
	l := New(next, Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	if err := l.SubmitRecord(ctx, ingest.Record{URL: "a.com/1"}); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.SubmitRecord(ctx, ingest.Record{URL: "a.com/2"}); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", d)
	}
	if len(next.urls) != 2 {
		t.Fatalf("forwarded %d records, want 2", len(next.urls))
	}
}

func TestLimiterIsolatesHosts(t *testing.T) {
	t.Parallel()

	next := &recorder{}
	l := New(next, Config{RPS: 0.1, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	for _, u := range []string{"a.com", "b.com", "c.com/x"} {
		if err := l.SubmitRecord(ctx, ingest.Record{URL: u}); err != nil {
			t.Fatal(err)
		}
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Errorf("distinct hosts should not wait, took %v", d)
	}
	if l.Hosts() != 3 {
		t.Errorf("Hosts() = %d, want 3", l.Hosts())
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	next := &recorder{}
	l := New(next, Config{RPS: 0.01, Burst: 1})
	if err := l.SubmitRecord(context.Background(), ingest.Record{URL: "a.com"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.SubmitRecord(ctx, ingest.Record{URL: "a.com"}); err == nil {
		t.Fatal("expected error when the context expires before a token frees up")
	}
	if len(next.urls) != 1 {
		t.Fatalf("forwarded %d records, want 1", len(next.urls))
	}
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	next := &recorder{}
	l := New(next, Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.SubmitRecord(ctx, ingest.Record{URL: "a.com"}); err != nil {
			t.Fatal(err)
		}
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Errorf("unlimited intake took %v", d)
	}
}

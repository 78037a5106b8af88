// Package ratelimit throttles record intake with one token bucket per host, so
// a single busy site cannot monopolize the writers.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
	"github.com/JakeFAU/crawl-ingest/internal/source"
)

// Config holds limiter settings. RPS <= 0 disables limiting.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter wraps a Submitter and waits for a per-host token before each record.
type Limiter struct {
	next  source.Submitter
	limit rate.Limit
	burst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// New wraps next.
func New(next source.Submitter, cfg Config) *Limiter {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		next:  next,
		limit: limit,
		burst: burst,
		hosts: make(map[string]*rate.Limiter),
	}
}

// SubmitRecord implements source.Submitter.
func (l *Limiter) SubmitRecord(ctx context.Context, rec ingest.Record) error {
	if err := l.bucket(Host(rec.URL)).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return l.next.SubmitRecord(ctx, rec)
}

// Hosts reports how many buckets exist.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.hosts[host] = b
	}
	return b
}

// Host returns the lower-cased host part of a crawled URL, which may or may not
// carry a scheme.
func Host(raw string) string {
	u := ingest.NormalizeURL(raw)
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndex(u, "@"); i >= 0 {
		u = u[i+1:]
	}
	if u == "" {
		return "unknown"
	}
	return strings.ToLower(u)
}

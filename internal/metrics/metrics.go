// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
	"github.com/JakeFAU/crawl-ingest/internal/writer"
)

// Collectors holds the pipeline metrics registered against one registry.
type Collectors struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	items            *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	flushes          *prometheus.CounterVec
	flushDuration    *prometheus.HistogramVec
	written          *prometheus.CounterVec
	merged           *prometheus.CounterVec
	duplicates       *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	droppedConflicts *prometheus.CounterVec
	retries          *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the pipeline collectors with reg. A nil reg gets a fresh
// registry.
func New(reg *prometheus.Registry) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collectors{
		reg:      reg,
		gatherer: reg,
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_items_total",
			Help: "Items routed to a writer, labeled by kind.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_items_skipped_total",
			Help: "Items rejected before routing, labeled by kind and reason.",
		}, []string{"kind", "reason"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_flushes_total",
			Help: "Buffer flushes, labeled by writer and outcome.",
		}, []string{"writer", "outcome"}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_flush_duration_seconds",
			Help:    "Histogram of flush latencies, labeled by writer.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"writer"}),
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_writes_total",
			Help: "Store writes applied, labeled by writer.",
		}, []string{"writer"}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_merged_total",
			Help: "Duplicates reconciled by a merge, labeled by writer.",
		}, []string{"writer"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_duplicates_total",
			Help: "Duplicate-key rejections returned by the store, labeled by writer.",
		}, []string{"writer"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_dropped_total",
			Help: "Documents lost to store failures, labeled by writer.",
		}, []string{"writer"}),
		droppedConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_dropped_conflicts_total",
			Help: "Postings abandoned after the merge retry budget ran out, labeled by writer.",
		}, []string{"writer"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_merge_retries_total",
			Help: "Merge retry rounds, labeled by writer.",
		}, []string{"writer"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}

	collectors := []prometheus.Collector{
		c.items, c.skipped, c.flushes, c.flushDuration, c.written, c.merged,
		c.duplicates, c.dropped, c.droppedConflicts, c.retries,
		c.httpRequests, c.httpDuration,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return c, nil
}

// WatchQueue exports the queue depth as a gauge sampled on scrape.
func (c *Collectors) WatchQueue(depth func() int) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ingest_queue_depth",
		Help: "Items waiting in the ingestion queue.",
	}, func() float64 { return float64(depth()) })
	if err := c.reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("register queue gauge: %w", err)
	}
	return nil
}

// ObserveFlush implements writer.Observer.
func (c *Collectors) ObserveFlush(r writer.Report) {
	name := r.Writer
	c.flushes.WithLabelValues(name, r.Outcome.String()).Inc()
	c.flushDuration.WithLabelValues(name).Observe(r.Duration.Seconds())
	addCount(c.written, name, r.Written)
	addCount(c.merged, name, r.Merged)
	addCount(c.duplicates, name, r.Duplicates)
	addCount(c.dropped, name, r.Dropped)
	addCount(c.droppedConflicts, name, r.DroppedConflicts)
	addCount(c.retries, name, r.Retries)
}

// ObserveItem counts an item handed to its writer.
func (c *Collectors) ObserveItem(kind ingest.Kind) {
	c.items.WithLabelValues(kind.String()).Inc()
}

// ObserveSkip counts an item dropped before routing.
func (c *Collectors) ObserveSkip(kind ingest.Kind, reason string) {
	c.skipped.WithLabelValues(kind.String(), reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns an http.Handler serving this registry.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func addCount(vec *prometheus.CounterVec, name string, n int) {
	if n > 0 {
		vec.WithLabelValues(name).Add(float64(n))
	}
}

// Package coordinator owns the ingestion run lifecycle: it starts the worker
// pool, accepts items from producers and performs the drain-then-flush
// shutdown that yields the run summary.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/dispatcher"
	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
	"github.com/JakeFAU/crawl-ingest/internal/queue/memory"
	"github.com/JakeFAU/crawl-ingest/internal/report"
	"github.com/JakeFAU/crawl-ingest/internal/writer"
)

// Lifecycle errors.
var (
	ErrNotRunning     = errors.New("coordinator is not running")
	ErrNotRestartable = errors.New("coordinator cannot be restarted")
	ErrIncomplete     = errors.New("run stopped with data lost")
)

// State is the lifecycle phase.
type State int32

// Lifecycle phases, in the order a run moves through them.
const (
	StateStopped State = iota
	StateRunning
	StateDraining
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Deps are the components a Coordinator drives.
type Deps struct {
	Queue     *memory.Queue
	Writers   *writer.Set
	Pool      *dispatcher.Pool
	Reporters []report.Reporter
	Clock     ingest.Clock
	IDs       ingest.IDGenerator
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID      string                  `json:"run_id"`
	State      string                  `json:"state"`
	StartedAt  time.Time               `json:"started_at,omitempty"`
	QueueDepth int                     `json:"queue_depth"`
	Workers    int                     `json:"workers"`
	Items      int64                   `json:"items"`
	Skipped    int64                   `json:"skipped"`
	Buffered   map[string]int          `json:"buffered"`
	Writers    map[string]writer.Stats `json:"writers"`
}

// Coordinator runs a single ingestion run. It cannot be restarted once
// stopped.
type Coordinator struct {
	deps   Deps
	logger *zap.Logger

	state atomic.Int32

	mu        sync.Mutex
	used      bool
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc
}

// New creates a stopped Coordinator.
func New(deps Deps, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{deps: deps, logger: logger}
}

// State returns the current phase.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// RunID returns the identifier assigned by Start.
func (c *Coordinator) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Start launches the worker pool. Canceling ctx aborts the workers without
// draining; a graceful shutdown goes through Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used {
		return ErrNotRestartable
	}
	runID, err := c.deps.IDs.NewID()
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	c.used = true
	c.runID = runID
	c.startedAt = c.deps.Clock.Now()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.deps.Pool.Start(runCtx)
	c.state.Store(int32(StateRunning))

	c.logger.Info("ingestion run started",
		zap.String("run_id", runID),
		zap.Int("workers", c.deps.Pool.Workers()),
		zap.Int("queue_capacity", c.deps.Queue.Capacity()),
	)
	return nil
}

// Submit enqueues one item. It blocks while a bounded queue is full.
func (c *Coordinator) Submit(ctx context.Context, item ingest.Item) error {
	if c.State() != StateRunning {
		return ErrNotRunning
	}
	if err := c.deps.Queue.Enqueue(ctx, item); err != nil {
		if errors.Is(err, memory.ErrClosed) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

// SubmitRecord explodes a crawl record into items and enqueues them in
// order. A record without a url is ignored.
func (c *Coordinator) SubmitRecord(ctx context.Context, rec ingest.Record) error {
	for _, item := range rec.Items(c.deps.Clock.Now()) {
		if err := c.Submit(ctx, item); err != nil {
			return fmt.Errorf("submit %s: %w", item.Kind, err)
		}
	}
	return nil
}

// Stop closes the queue, waits for every worker to finish the queued items,
// flushes each writer in kind order and reports the run. The drain and the
// final flush always run to completion: ctx expiring only logs a warning, and
// the flush runs detached from ctx, bounded by each writer's flush timeout.
// Stop returns ErrIncomplete alongside the summary when queued items were
// abandoned or the final flush dropped documents.
func (c *Coordinator) Stop(ctx context.Context) (report.Summary, error) {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return report.Summary{}, ErrNotRunning
	}
	c.logger.Info("draining ingestion queue", zap.Int("queued", c.deps.Queue.Len()))
	c.deps.Queue.Close()
	drained := make(chan struct{})
	go func() {
		c.deps.Pool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		c.logger.Warn("shutdown deadline passed, still draining",
			zap.Int("queued", c.deps.Queue.Len()), zap.Error(ctx.Err()))
		<-drained
	}
	c.cancel()

	// Workers only exit early when the Start context was canceled.
	abandoned := c.deps.Queue.Len()
	if abandoned > 0 {
		c.logger.Error("workers aborted with items queued", zap.Int("abandoned", abandoned))
	}

	c.state.Store(int32(StateFlushing))
	flushCtx := context.WithoutCancel(ctx)
	var dropped int
	for _, rep := range c.deps.Writers.FlushAll(flushCtx) {
		dropped += rep.Dropped + rep.DroppedConflicts
		if rep.Err != nil {
			c.logger.Warn("final flush incomplete", zap.String("writer", rep.Writer),
				zap.Stringer("outcome", rep.Outcome), zap.Int("dropped", rep.Dropped+rep.DroppedConflicts), zap.Error(rep.Err))
		}
	}
	summary := c.summarize(flushCtx)
	if err := report.Deliver(flushCtx, summary, c.deps.Reporters...); err != nil {
		c.logger.Warn("summary delivery failed", zap.Error(err))
	}
	c.state.Store(int32(StateStopped))
	if abandoned > 0 || dropped > 0 {
		return summary, fmt.Errorf("%w: %d queued items abandoned, %d documents dropped in final flush, %d dropped in run",
			ErrIncomplete, abandoned, dropped, summary.Dropped())
	}
	return summary, nil
}

func (c *Coordinator) summarize(ctx context.Context) report.Summary {
	c.mu.Lock()
	runID, started := c.runID, c.startedAt
	c.mu.Unlock()

	finished := c.deps.Clock.Now()
	stats := c.deps.Pool.Stats()
	summary := report.Summary{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: finished,
		Elapsed:    finished.Sub(started),
		Items:      stats.Processed,
		Skipped:    stats.Skipped,
		Writers:    c.deps.Writers.Stats(),
	}
	counts, err := Counts(ctx, c.deps.Writers)
	summary.Counts = counts
	if err != nil {
		summary.CountErr = err.Error()
	}
	return summary
}

// Counts reads the size of each collection.
func Counts(ctx context.Context, w *writer.Set) (report.Counts, error) {
	var (
		counts report.Counts
		errs   []error
		err    error
	)
	all := docstore.Filter{}
	if counts.Pages, err = w.Pages.Count(ctx, all); err != nil {
		errs = append(errs, err)
	}
	if counts.Images, err = w.Images.Count(ctx, all); err != nil {
		errs = append(errs, err)
	}
	if counts.PageTokens, err = w.PageTokens.Count(ctx, all); err != nil {
		errs = append(errs, err)
	}
	if counts.ImageTokens, err = w.ImageTokens.Count(ctx, all); err != nil {
		errs = append(errs, err)
	}
	return counts, errors.Join(errs...)
}

// Status reports progress. Writer figures wait for any in-flight flush.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	runID, started := c.runID, c.startedAt
	c.mu.Unlock()

	stats := c.deps.Pool.Stats()
	return Status{
		RunID:      runID,
		State:      c.State().String(),
		StartedAt:  started,
		QueueDepth: c.deps.Queue.Len(),
		Workers:    c.deps.Pool.Workers(),
		Items:      stats.Processed,
		Skipped:    stats.Skipped,
		Buffered:   c.deps.Writers.Buffered(),
		Writers:    c.deps.Writers.Stats(),
	}
}

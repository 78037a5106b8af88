package writer

import (
	"time"
)

// Outcome classifies a flush.
type Outcome uint8

// Flush outcomes.
const (
	// OutcomeConverged means every write in the batch was applied.
	OutcomeConverged Outcome = iota
	// OutcomePartial means some writes were applied and the rest dropped.
	OutcomePartial
	// OutcomeExhausted means duplicate-key conflicts were still pending when
	// the retry budget ran out.
	OutcomeExhausted
	// OutcomeFailed means nothing could be applied.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConverged:
		return "converged"
	case OutcomePartial:
		return "partial"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report summarises one flush.
type Report struct {
	Writer string
	// Batch is the number of buffered items handed to the strategy.
	Batch int
	// Written counts store writes that were applied.
	Written int
	// Merged counts duplicates reconciled by a merge.
	Merged int
	// Duplicates counts duplicate-key rejections seen, including retried ones.
	Duplicates int
	// Dropped counts documents or postings lost to store failures.
	Dropped int
	// DroppedConflicts counts postings abandoned after retry exhaustion.
	DroppedConflicts int
	// Skipped counts malformed items filtered out before writing.
	Skipped  int
	Retries  int
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Observer receives every non-empty flush report.
type Observer interface {
	ObserveFlush(Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

// ObserveFlush implements Observer.
func (f ObserverFunc) ObserveFlush(r Report) { f(r) }

type nopObserver struct{}

func (nopObserver) ObserveFlush(Report) {}

// Stats accumulates reports over the life of a writer.
type Stats struct {
	Flushes          int64
	Items            int64
	Written          int64
	Merged           int64
	Duplicates       int64
	Dropped          int64
	DroppedConflicts int64
	Skipped          int64
	Retries          int64
	Failed           int64
}

func (s *Stats) add(r Report) {
	s.Flushes++
	s.Items += int64(r.Batch)
	s.Written += int64(r.Written)
	s.Merged += int64(r.Merged)
	s.Duplicates += int64(r.Duplicates)
	s.Dropped += int64(r.Dropped)
	s.DroppedConflicts += int64(r.DroppedConflicts)
	s.Skipped += int64(r.Skipped)
	s.Retries += int64(r.Retries)
	if r.Outcome == OutcomeFailed {
		s.Failed++
	}
}

// outcomeFor derives the outcome of a single-pass strategy.
func outcomeFor(applied, dropped int) Outcome {
	switch {
	case dropped == 0:
		return OutcomeConverged
	case applied == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

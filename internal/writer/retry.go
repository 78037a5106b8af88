package writer

import "context"

// DefaultMaxRetries bounds conflict retries after the first attempt.
const DefaultMaxRetries = 3

// Pending is work that may still hold unresolved conflicts.
type Pending interface {
	Len() int
}

// RetryResult is the typed result of RetryConflicts.
type RetryResult[P Pending] struct {
	Outcome Outcome
	// Attempts counts calls to the attempt function.
	Attempts int
	// Remaining holds the conflicts left unresolved, or the work that was
	// pending when an attempt failed outright.
	Remaining P
	Err       error
}

// RetryConflicts calls attempt with pending, then again with whatever
// conflicts it returns, until none remain or maxRetries retries have run.
// An attempt error stops the loop: the outcome is OutcomeFailed on the first
// attempt and OutcomePartial after earlier attempts applied some work.
func RetryConflicts[P Pending](
	ctx context.Context,
	maxRetries int,
	pending P,
	attempt func(context.Context, P) (P, error),
) RetryResult[P] {
	if maxRetries < 0 {
		maxRetries = 0
	}
	res := RetryResult[P]{Remaining: pending}
	for {
		if res.Attempts > 0 {
			if err := ctx.Err(); err != nil {
				res.Outcome = OutcomePartial
				res.Err = err
				return res
			}
		}
		res.Attempts++
		conflicts, err := attempt(ctx, res.Remaining)
		if err != nil {
			res.Outcome = OutcomeFailed
			if res.Attempts > 1 {
				res.Outcome = OutcomePartial
			}
			res.Err = err
			return res
		}
		res.Remaining = conflicts
		if conflicts.Len() == 0 {
			res.Outcome = OutcomeConverged
			return res
		}
		if res.Attempts > maxRetries {
			res.Outcome = OutcomeExhausted
			return res
		}
	}
}

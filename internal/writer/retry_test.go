package writer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type work int

func (w work) Len() int { return int(w) }

func TestRetryConflictsConverges(t *testing.T) {
	t.Parallel()

	calls := 0
	res := RetryConflicts(context.Background(), 3, work(4), func(_ context.Context, p work) (work, error) {
		calls++
		return p / 2, nil
	})
	// 4 -> 2 -> 1 -> 0
	require.Equal(t, OutcomeConverged, res.Outcome)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, calls)
	require.Zero(t, res.Remaining.Len())
	require.NoError(t, res.Err)
}

func TestRetryConflictsExhausts(t *testing.T) {
	t.Parallel()

	res := RetryConflicts(context.Background(), 2, work(5), func(_ context.Context, p work) (work, error) {
		return p, nil
	})
	require.Equal(t, OutcomeExhausted, res.Outcome)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, work(5), res.Remaining)
}

func TestRetryConflictsFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	res := RetryConflicts(context.Background(), 3, work(2), func(context.Context, work) (work, error) {
		return 0, boom
	})
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, work(2), res.Remaining)
	require.ErrorIs(t, res.Err, boom)

	attempt := 0
	res = RetryConflicts(context.Background(), 3, work(2), func(_ context.Context, p work) (work, error) {
		attempt++
		if attempt == 2 {
			return 0, boom
		}
		return 1, nil
	})
	require.Equal(t, OutcomePartial, res.Outcome)
	require.Equal(t, work(1), res.Remaining)
}

func TestRetryConflictsStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	res := RetryConflicts(ctx, 3, work(2), func(context.Context, work) (work, error) {
		cancel()
		return 1, nil
	})
	require.Equal(t, OutcomePartial, res.Outcome)
	require.Equal(t, 1, res.Attempts)
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "exhausted", OutcomeExhausted.String())
	require.Equal(t, "unknown", Outcome(9).String())
}

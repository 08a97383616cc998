// Package retry runs an operation under a bounded attempt budget with a
// fixed backoff schedule.
package retry

import (
	"context"
	"time"
)

// Policy bounds retries of a single operation.
type Policy struct {
	// MaxAttempts counts the first call; values below 1 mean 1.
	MaxAttempts int
	// Backoff[i] is the wait after failed attempt i+1. The last entry is
	// reused when the schedule is shorter than the attempt budget.
	Backoff []time.Duration
	// Retryable classifies errors; nil means nothing is retried.
	Retryable func(error) bool
	// MinWait, when set, returns a floor for the wait after err, such as a
	// server's Retry-After hint.
	MinWait func(error) time.Duration
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default returns three attempts with a 1s, 3s, 10s schedule.
func Default(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{time.Second, 3 * time.Second, 10 * time.Second},
		Retryable:   retryable,
	}
}

// Delay returns the wait after failed attempt n (1-based).
func (p Policy) Delay(n int) time.Duration {
	if len(p.Backoff) == 0 || n < 1 {
		return 0
	}
	if n > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[n-1]
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt == attempts {
			return err
		}
		wait := p.Delay(attempt)
		if p.MinWait != nil {
			wait = max(wait, p.MinWait(err))
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func recordingPolicy(waits *[]time.Duration) Policy {
	p := Default(isTransient)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestDoRetriesTransientErrors(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := recordingPolicy(&waits).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, waits)
}

func TestDoStopsAfterBudget(t *testing.T) {
	var waits []time.Duration
	calls := 0
	err := recordingPolicy(&waits).Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2)
}

func TestDoDoesNotRetryFatalErrors(t *testing.T) {
	var waits []time.Duration
	fatal := errors.New("bad request")
	calls := 0
	err := recordingPolicy(&waits).Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := Default(isTransient)
	p.Backoff = []time.Duration{time.Hour}
	calls := 0
	start := time.Now()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDelayReusesLastEntry(t *testing.T) {
	p := Policy{Backoff: []time.Duration{time.Second, 2 * time.Second}}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(5))
	assert.Equal(t, time.Duration(0), Policy{}.Delay(1))
}

func TestOnRetryCallback(t *testing.T) {
	var attempts []int
	p := Default(isTransient)
	p.Backoff = []time.Duration{0}
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { attempts = append(attempts, attempt) }
	_ = p.Do(context.Background(), func(context.Context) error { return errTransient })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoWaitsAtLeastMinWait(t *testing.T) {
	var waits []time.Duration
	p := recordingPolicy(&waits)
	p.MinWait = func(error) time.Duration { return 2 * time.Second }
	_ = p.Do(context.Background(), func(context.Context) error { return errTransient })
	// 1s is raised to the floor, 3s already exceeds it
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, waits)
}

package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances its own time whenever the limiter sleeps, so backoff and
// window waits resolve instantly and deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

func (c *fakeClock) recordedSleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

type httpError struct {
	code int
}

func (e *httpError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *httpError) StatusCode() int { return e.code }

func TestWindowBoundsDispatches(t *testing.T) {
	const (
		maxRequests = 2
		window      = time.Second
		submissions = 6
	)
	clock := newFakeClock()
	limiter := New(maxRequests, window, WithClock(clock.Now, clock.Sleep))

	var mu sync.Mutex
	var dispatches []time.Time

	var wg sync.WaitGroup
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Do(func() error {
				mu.Lock()
				dispatches = append(dispatches, clock.Now())
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, dispatches, submissions)
	sort.Slice(dispatches, func(i, j int) bool { return dispatches[i].Before(dispatches[j]) })

	// No trailing window may contain more than maxRequests dispatches
	for i := 0; i+maxRequests < len(dispatches); i++ {
		gap := dispatches[i+maxRequests].Sub(dispatches[i])
		assert.GreaterOrEqual(t, gap, window,
			"dispatch %d and %d are %v apart", i, i+maxRequests, gap)
	}
}

func TestRetriesRateLimitedCallsWithBackoff(t *testing.T) {
	clock := newFakeClock()
	limiter := New(10, time.Second,
		WithClock(clock.Now, clock.Sleep),
		WithBaseBackoff(100*time.Millisecond))

	var attempts int32
	err := limiter.Do(func() error {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return fmt.Errorf("%w: provider throttled", ErrRateLimited)
		}
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))

	sleeps := clock.recordedSleeps()
	assert.Contains(t, sleeps, 100*time.Millisecond)
	assert.Contains(t, sleeps, 200*time.Millisecond, "backoff doubles per retry")
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	clock := newFakeClock()
	limiter := New(10, time.Second,
		WithClock(clock.Now, clock.Sleep),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond))

	var attempts int32
	err := limiter.Do(func() error {
		atomic.AddInt32(&attempts, 1)
		return fmt.Errorf("%w: still throttled", ErrRateLimited)
	})
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts), "initial attempt plus two retries")
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestNonRateLimitErrorFailsImmediately(t *testing.T) {
	clock := newFakeClock()
	limiter := New(10, time.Second, WithClock(clock.Now, clock.Sleep))

	sentinel := errors.New("smtp handshake failed")
	var attempts int32
	err := limiter.Do(func() error {
		atomic.AddInt32(&attempts, 1)
		return sentinel
	})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
	assert.Contains(t, err.Error(), "after 0 retries")
	assert.True(t, errors.Is(err, sentinel))
}

func TestRetriedCallStaysAheadOfQueue(t *testing.T) {
	clock := newFakeClock()
	limiter := New(10, time.Second,
		WithClock(clock.Now, clock.Sleep),
		WithBaseBackoff(time.Millisecond))

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	wg.Add(1)
	var flakyAttempts int32
	go func() {
		defer wg.Done()
		_ = limiter.Do(func() error {
			mu.Lock()
			order = append(order, "flaky")
			mu.Unlock()
			if atomic.AddInt32(&flakyAttempts, 1) == 1 {
				// Queue the second call while the first is still in flight,
				// then fail so it gets retried.
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = limiter.Do(func() error {
						mu.Lock()
						order = append(order, "steady")
						mu.Unlock()
						return nil
					})
				}()
				time.Sleep(10 * time.Millisecond)
				return fmt.Errorf("%w: first attempt", ErrRateLimited)
			}
			return nil
		})
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"flaky", "flaky", "steady"}, order,
		"the retried call runs before calls submitted after it")
}

func TestExecuteReturnsTypedResult(t *testing.T) {
	limiter := New(10, time.Second)

	messageID, err := Execute(limiter, func() (string, error) {
		return "msg-42", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-42", messageID)

	_, err = Execute(limiter, func() (string, error) {
		return "", errors.New("boom")
	})
	require.Error(t, err)
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	limiter := New(3, time.Minute, WithClock(clock.Now, clock.Sleep))

	inWindow, remaining := limiter.Stats()
	assert.Zero(t, inWindow)
	assert.Equal(t, 3, remaining)

	require.NoError(t, limiter.Do(func() error { return nil }))

	inWindow, remaining = limiter.Stats()
	assert.Equal(t, 1, inWindow)
	assert.Equal(t, 2, remaining)
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped sentinel", fmt.Errorf("send: %w", ErrRateLimited), true},
		{"status coder 429", &httpError{code: 429}, true},
		{"status coder 500", &httpError{code: 500}, false},
		{"429 in message", errors.New("unexpected HTTP 429"), true},
		{"rate limit in message", errors.New("provider Rate Limit exceeded"), true},
		{"too many requests", errors.New("Too Many Requests"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRateLimitError(tc.err))
		})
	}
}

// Package ratelimit bounds calls to a rate-limited downstream API within a
// sliding time window. Excess calls queue FIFO; calls that fail with a
// 429-shaped error are retried with exponential backoff at the head of the
// queue, so a retried call stays ahead of calls submitted after it.
package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrRateLimited marks an error as a rate-limit rejection from the downstream
// API. Wrap it (or return an error whose StatusCode() is 429) to opt into the
// limiter's retry path.
var ErrRateLimited = errors.New("rate limited")

type call struct {
	fn      func() error
	done    chan error
	retries int
}

type Limiter struct {
	maxRequests int
	window      time.Duration
	maxRetries  int
	baseBackoff time.Duration

	now   func() time.Time
	sleep func(time.Duration)

	mu         sync.Mutex
	queue      []*call
	timestamps []time.Time
	draining   bool
}

type Option func(*Limiter)

// WithMaxRetries sets how many times a rate-limited call is retried before its
// error is returned to the caller.
func WithMaxRetries(n int) Option {
	return func(l *Limiter) { l.maxRetries = n }
}

// WithBaseBackoff sets the backoff for the first retry; each further retry
// doubles it.
func WithBaseBackoff(d time.Duration) Option {
	return func(l *Limiter) { l.baseBackoff = d }
}

// WithClock injects the time source and sleep function so tests can drive time
// deterministically.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// New creates a limiter allowing at most maxRequests dispatches within any
// trailing window.
func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		maxRequests: maxRequests,
		window:      window,
		maxRetries:  3,
		baseBackoff: time.Second,
		now:         time.Now,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Do enqueues fn and blocks until it has been executed (or given up on). Calls
// are serviced in submission order; a retried call re-enters at the front of
// the queue.
func (l *Limiter) Do(fn func() error) error {
	c := &call{fn: fn, done: make(chan error, 1)}

	l.mu.Lock()
	l.queue = append(l.queue, c)
	start := !l.draining
	if start {
		l.draining = true
	}
	l.mu.Unlock()

	if start {
		go l.drain()
	}
	return <-c.done
}

// Execute runs fn through the limiter and returns its typed result
func Execute[T any](l *Limiter, fn func() (T, error)) (T, error) {
	var out T
	err := l.Do(func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Stats reports how many dispatches sit in the current window and how many
// remain before the limiter starts queueing.
func (l *Limiter) Stats() (callsInWindow, callsRemaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	callsInWindow = len(l.timestamps)
	callsRemaining = l.maxRequests - callsInWindow
	if callsRemaining < 0 {
		callsRemaining = 0
	}
	return callsInWindow, callsRemaining
}

// drain is the single queue-processing loop. At most one drain runs at a time.
func (l *Limiter) drain() {
	for {
		l.mu.Lock()
		l.prune()

		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}

		if len(l.timestamps) >= l.maxRequests {
			// Window saturated: wait for the oldest dispatch to age out
			wait := l.timestamps[0].Add(l.window).Sub(l.now())
			l.mu.Unlock()
			if wait > 0 {
				l.sleep(wait)
			}
			continue
		}

		c := l.queue[0]
		l.queue = l.queue[1:]
		l.timestamps = append(l.timestamps, l.now())
		l.mu.Unlock()

		err := c.fn()
		if err == nil {
			c.done <- nil
			continue
		}

		if IsRateLimitError(err) && c.retries < l.maxRetries {
			backoff := l.baseBackoff * time.Duration(1<<c.retries)
			c.retries++

			l.mu.Lock()
			l.queue = append([]*call{c}, l.queue...)
			l.mu.Unlock()

			l.sleep(backoff)
			continue
		}

		c.done <- fmt.Errorf("request failed after %d retries: %w", c.retries, err)
	}
}

// prune drops timestamps older than the window. Callers must hold l.mu.
func (l *Limiter) prune() {
	cutoff := l.now().Add(-l.window)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	l.timestamps = l.timestamps[i:]
}

type statusCoder interface {
	StatusCode() int
}

// IsRateLimitError reports whether err looks like an HTTP 429 in any of the
// shapes downstream clients produce.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

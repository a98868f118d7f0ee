package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryBrokerDelaySemantics(t *testing.T) {
	clock := newTestClock()
	broker := NewMemoryBrokerWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, NewJob(1, 0), time.Hour))

	job, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "job must stay invisible until its delay elapses")
	assert.Equal(t, 1, broker.Pending())

	clock.Advance(time.Hour)

	job, err = broker.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.EqualValues(t, 1, job.EnrollmentID)

	// Dequeue claims the job; it is not delivered twice
	job, err = broker.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Zero(t, broker.Pending())
}

func TestMemoryBrokerOrdersByDueTime(t *testing.T) {
	clock := newTestClock()
	broker := NewMemoryBrokerWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, NewJob(2, 1), 2*time.Hour))
	require.NoError(t, broker.Enqueue(ctx, NewJob(1, 0), time.Hour))

	clock.Advance(3 * time.Hour)

	first, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.EqualValues(t, 1, first.EnrollmentID)

	second, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.EqualValues(t, 2, second.EnrollmentID)
}

func TestStepScheduler(t *testing.T) {
	clock := newTestClock()
	broker := NewMemoryBrokerWithClock(clock.Now)
	scheduler := NewStepScheduler(broker)

	require.NoError(t, scheduler.Schedule(context.Background(), 5, 2, time.Hour))

	clock.Advance(time.Hour)
	job, err := broker.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.EqualValues(t, 5, job.EnrollmentID)
	assert.Equal(t, 2, job.StepNumber)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempts)
}

func TestWorkerPoolProcessesJobs(t *testing.T) {
	broker := NewMemoryBroker()
	require.NoError(t, broker.Enqueue(context.Background(), NewJob(1, 0), 0))
	require.NoError(t, broker.Enqueue(context.Background(), NewJob(2, 0), 0))

	var processed int32
	pool := NewWorkerPool(broker, func(_ context.Context, _ *Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}, WorkerPoolConfig{
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		BaseBackoff:  time.Millisecond,
	}, testLogger())

	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&processed) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, broker.Pending())
}

func TestWorkerPoolRetriesFailedJobs(t *testing.T) {
	broker := NewMemoryBroker()
	require.NoError(t, broker.Enqueue(context.Background(), NewJob(1, 0), 0))

	var attempts int32
	pool := NewWorkerPool(broker, func(_ context.Context, _ *Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("store temporarily unavailable")
		}
		return nil
	}, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		BaseBackoff:  time.Millisecond,
	}, testLogger())

	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return broker.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerPoolDeadLettersAfterMaxAttempts(t *testing.T) {
	broker := NewMemoryBroker()
	require.NoError(t, broker.Enqueue(context.Background(), NewJob(1, 0), 0))

	var attempts int32
	pool := NewWorkerPool(broker, func(_ context.Context, _ *Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("permanent failure")
	}, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  2,
		BaseBackoff:  time.Millisecond,
	}, testLogger())

	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 2 && broker.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// Attempts are capped: the job is gone, not retried forever
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestWorkerPoolStopWaitsForWorkers(t *testing.T) {
	broker := NewMemoryBroker()
	require.NoError(t, broker.Enqueue(context.Background(), NewJob(1, 0), 0))

	started := make(chan struct{})
	release := make(chan struct{})
	pool := NewWorkerPool(broker, func(_ context.Context, _ *Job) error {
		close(started)
		<-release
		return nil
	}, WorkerPoolConfig{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  1,
		BaseBackoff:  time.Millisecond,
	}, testLogger())

	pool.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned while a job was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the job finished")
	}
}

func TestDefaultsAppliedToZeroConfig(t *testing.T) {
	pool := NewWorkerPool(NewMemoryBroker(), func(_ context.Context, _ *Job) error {
		return nil
	}, WorkerPoolConfig{}, testLogger())

	assert.Equal(t, DefaultWorkerPoolConfig(), pool.config)
}

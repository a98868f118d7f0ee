package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type delayedJob struct {
	job   *Job
	runAt time.Time
}

// MemoryBroker is an in-process Broker used by tests and single-node
// deployments without Redis. Same delay semantics as RedisBroker.
type MemoryBroker struct {
	mu   sync.Mutex
	jobs []delayedJob
	now  func() time.Time
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{now: time.Now}
}

// NewMemoryBrokerWithClock lets tests control when jobs become due
func NewMemoryBrokerWithClock(now func() time.Time) *MemoryBroker {
	return &MemoryBroker{now: now}
}

func (b *MemoryBroker) Enqueue(_ context.Context, job *Job, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jobs = append(b.jobs, delayedJob{job: job, runAt: b.now().Add(delay)})
	sort.SliceStable(b.jobs, func(i, j int) bool {
		return b.jobs[i].runAt.Before(b.jobs[j].runAt)
	})
	return nil
}

func (b *MemoryBroker) Dequeue(_ context.Context) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.jobs) == 0 || b.jobs[0].runAt.After(b.now()) {
		return nil, nil
	}
	job := b.jobs[0].job
	b.jobs = b.jobs[1:]
	return job, nil
}

// Pending reports how many jobs are scheduled, due or not
func (b *MemoryBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

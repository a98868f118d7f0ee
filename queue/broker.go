package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Broker schedules jobs for delayed, at-least-once delivery
type Broker interface {
	// Enqueue makes the job eligible for dequeue no earlier than now + delay
	Enqueue(ctx context.Context, job *Job, delay time.Duration) error
	// Dequeue returns the next due job, or nil when none is due
	Dequeue(ctx context.Context) (*Job, error)
}

const delayedJobsKey = "yardflow:outreach:delayed"

// RedisBroker stores delayed jobs in a sorted set scored by their due time in
// unix milliseconds.
type RedisBroker struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{
		client: client,
		key:    delayedJobsKey,
		now:    time.Now,
	}
}

func (b *RedisBroker) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	due := b.now().Add(delay)
	err = b.client.ZAdd(ctx, b.key, &redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue pops the earliest due job. The remove is the claim: if another
// worker removed the member first, ZRem reports zero and we return nothing.
func (b *RedisBroker) Dequeue(ctx context.Context) (*Job, error) {
	nowMilli := strconv.FormatInt(b.now().UnixMilli(), 10)

	members, err := b.client.ZRangeByScore(ctx, b.key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    nowMilli,
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read delayed jobs: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	removed, err := b.client.ZRem(ctx, b.key, members[0]).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if removed == 0 {
		return nil, nil // another worker claimed it first
	}

	var job Job
	if err := json.Unmarshal([]byte(members[0]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode claimed job: %w", err)
	}
	return &job, nil
}

package queue

import (
	"context"
	"time"
)

// StepScheduler adapts a Broker to the engine's scheduling contract: one job
// per (enrollment, step), scheduled only after the previous step concludes.
type StepScheduler struct {
	broker Broker
}

func NewStepScheduler(broker Broker) *StepScheduler {
	return &StepScheduler{broker: broker}
}

func (s *StepScheduler) Schedule(ctx context.Context, enrollmentID uint, stepNumber int, delay time.Duration) error {
	return s.broker.Enqueue(ctx, NewJob(enrollmentID, stepNumber), delay)
}

package queue

import (
	"time"

	"github.com/google/uuid"
)

// Job is one unit of delayed work: run a specific step of a specific
// enrollment no earlier than RunAt. Delivery is at-least-once; the engine's
// conditional advance makes duplicate delivery a no-op.
type Job struct {
	ID           string    `json:"id"`
	EnrollmentID uint      `json:"enrollment_id"`
	StepNumber   int       `json:"step_number"`
	Attempts     int       `json:"attempts"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

func NewJob(enrollmentID uint, stepNumber int) *Job {
	return &Job{
		ID:           uuid.New().String(),
		EnrollmentID: enrollmentID,
		StepNumber:   stepNumber,
		EnqueuedAt:   time.Now().UTC(),
	}
}

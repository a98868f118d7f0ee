package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"yardflow/engine"
	"yardflow/queue"
	"yardflow/synclock"
)

// stepLockType serializes step processing per enrollment across the pool.
// Contention is rare (one job per enrollment at a time by design) but a
// duplicate delivery from the broker can race with the original.
const stepLockType = "sequence-step"

// OutreachWorker runs the delayed-job worker pool that drives sequence steps.
// Each job invokes engine.ProcessStep under a per-enrollment sync lock;
// infrastructure errors bubble up for the pool's retry/backoff, while business
// outcomes (pauses) are already recorded on the enrollment and only logged here.
type OutreachWorker struct {
	pool   *queue.WorkerPool
	logger *logrus.Entry
}

func NewOutreachWorker(broker queue.Broker, eng *engine.Engine, locks *synclock.Manager, config queue.WorkerPoolConfig, logger *logrus.Entry) *OutreachWorker {
	handler := func(ctx context.Context, job *queue.Job) error {
		var result *engine.StepResult
		err := locks.WithLock(job.EnrollmentID, stepLockType, func() error {
			var stepErr error
			result, stepErr = eng.ProcessStep(ctx, job.EnrollmentID, job.StepNumber)
			return stepErr
		})
		if errors.Is(err, synclock.ErrSyncInProgress) {
			// Another worker holds this enrollment; let the queue's backoff
			// re-deliver the job once the holder is done.
			logger.WithFields(logrus.Fields{
				"enrollment_id": job.EnrollmentID,
				"step":          job.StepNumber,
			}).Info("enrollment busy, deferring job")
			return err
		}
		if err != nil {
			return err
		}
		if !result.Success {
			logger.WithFields(logrus.Fields{
				"enrollment_id": job.EnrollmentID,
				"step":          job.StepNumber,
				"outcome":       result.Error,
			}).Info("step did not send")
		}
		return nil
	}

	return &OutreachWorker{
		pool:   queue.NewWorkerPool(broker, handler, config, logger),
		logger: logger,
	}
}

func (ow *OutreachWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(5 * time.Second)

	ow.logger.Info("Outreach worker started")
	ow.pool.Start(ctx)
}

func (ow *OutreachWorker) Stop() {
	ow.logger.Info("Outreach worker shutting down...")
	ow.pool.Stop()
}

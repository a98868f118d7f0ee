package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one job. A returned error means an infrastructure failure
// and triggers the pool's retry/backoff; business outcomes (compliance fail,
// send rejection) are the engine's to record and must not surface here.
type Handler func(ctx context.Context, job *Job) error

type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`
	PollInterval time.Duration `json:"poll_interval"`
	MaxAttempts  int           `json:"max_attempts"`
	BaseBackoff  time.Duration `json:"base_backoff"`
}

func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      5,
		PollInterval: 5 * time.Second,
		MaxAttempts:  3,
		BaseBackoff:  30 * time.Second,
	}
}

// WorkerPool polls the broker with bounded concurrency and retries failed
// jobs with exponential backoff. Jobs that exhaust their attempts are
// dead-lettered to the log and Sentry for operator follow-up.
type WorkerPool struct {
	broker  Broker
	handler Handler
	config  WorkerPoolConfig
	logger  *logrus.Entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(broker Broker, handler Handler, config WorkerPoolConfig, logger *logrus.Entry) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkerPoolConfig().Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultWorkerPoolConfig().MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultWorkerPoolConfig().BaseBackoff
	}
	return &WorkerPool{
		broker:  broker,
		handler: handler,
		config:  config,
		logger:  logger,
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.WithFields(logrus.Fields{
		"workers":       p.config.Workers,
		"poll_interval": p.config.PollInterval.String(),
	}).Info("worker pool starting")

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainDue(ctx, id)
		}
	}
}

// drainDue processes every currently-due job before going back to sleep
func (p *WorkerPool) drainDue(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.broker.Dequeue(ctx)
		if err != nil {
			p.logger.WithError(err).Warn("failed to dequeue job")
			return
		}
		if job == nil {
			return
		}

		p.process(ctx, workerID, job)
	}
}

func (p *WorkerPool) process(ctx context.Context, workerID int, job *Job) {
	log := p.logger.WithFields(logrus.Fields{
		"worker":        workerID,
		"job_id":        job.ID,
		"enrollment_id": job.EnrollmentID,
		"step":          job.StepNumber,
		"attempt":       job.Attempts + 1,
	})

	err := p.handler(ctx, job)
	if err == nil {
		log.Debug("job processed")
		return
	}

	job.Attempts++
	if job.Attempts < p.config.MaxAttempts {
		backoff := p.config.BaseBackoff * time.Duration(1<<(job.Attempts-1))
		log.WithError(err).WithField("backoff", backoff.String()).Warn("job failed, retrying")
		if enqErr := p.broker.Enqueue(ctx, job, backoff); enqErr != nil {
			log.WithError(enqErr).Error("failed to re-enqueue job")
		}
		return
	}

	// Attempts exhausted: surface to operators. The enrollment is left
	// untouched - infra-level failure never pauses it.
	log.WithError(err).Error("job dead-lettered after max attempts")
	sentry.CaptureException(fmt.Errorf("outreach job %s dead-lettered (enrollment %d, step %d): %w",
		job.ID, job.EnrollmentID, job.StepNumber, err))
}

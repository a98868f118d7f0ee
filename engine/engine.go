// Package engine orchestrates outreach sequence execution: enrollment,
// per-step compliance re-checks, delegation to the email sender, and the
// active/paused/completed lifecycle of each enrollment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"yardflow/compliance"
	"yardflow/models"
	"yardflow/ratelimit"
)

// Message is an email ready for (or under) delivery
type Message struct {
	Subject string
	Body    string
}

// SendResult is the sender's verdict on one delivery attempt. Success=false
// means the provider rejected the message (a business outcome); transport
// faults are returned as errors instead.
type SendResult struct {
	Success   bool
	MessageID string
	Error     string
}

// EmailSender delivers one rendered step email. Implementations render the
// unsubscribe/postal markers into working values and attach tracking.
type EmailSender interface {
	Send(recipient string, msg Message, enrollmentID uint, stepNumber int) (SendResult, error)
}

// Scheduler hands a step job to the delayed queue. The engine only ever
// schedules the next job after the current one concludes, which keeps step
// execution serialized per enrollment.
type Scheduler interface {
	Schedule(ctx context.Context, enrollmentID uint, stepNumber int, delay time.Duration) error
}

// EnrollResult is the business outcome of an enrollment attempt
type EnrollResult struct {
	Success      bool   `json:"success"`
	EnrollmentID uint   `json:"enrollment_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// StepResult is the business outcome of one step execution
type StepResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type Engine struct {
	db        *gorm.DB
	gate      *compliance.Gate
	sender    EmailSender
	scheduler Scheduler
	limiter   *ratelimit.Limiter
	logger    *logrus.Entry
}

func New(db *gorm.DB, gate *compliance.Gate, sender EmailSender, scheduler Scheduler, limiter *ratelimit.Limiter, logger *logrus.Entry) *Engine {
	return &Engine{
		db:        db,
		gate:      gate,
		sender:    sender,
		scheduler: scheduler,
		limiter:   limiter,
		logger:    logger,
	}
}

// EnrollContact starts a contact on a sequence. Validation failures and
// compliance blocks come back as a failed EnrollResult; only infrastructure
// faults return an error.
func (e *Engine) EnrollContact(ctx context.Context, sequenceID, contactID uint) (*EnrollResult, error) {
	var sequence models.Sequence
	err := e.db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&sequence, sequenceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &EnrollResult{Error: "sequence not found"}, nil
		}
		return nil, fmt.Errorf("failed to load sequence %d: %w", sequenceID, err)
	}

	if sequence.Status != models.SequenceStatusActive {
		return &EnrollResult{Error: fmt.Sprintf("sequence is %s, not active", sequence.Status)}, nil
	}
	if len(sequence.Steps) == 0 {
		return &EnrollResult{Error: "sequence has no steps"}, nil
	}

	// At most one non-terminal enrollment per (sequence, contact). This read
	// gives the common case a clear rejection; the partial unique index on
	// enrollments is the arbiter when two enrolls race past it.
	var existing models.Enrollment
	err = e.db.Where("sequence_id = ? AND contact_id = ? AND status IN ?",
		sequenceID, contactID,
		[]string{models.EnrollmentStatusActive, models.EnrollmentStatusPaused}).
		First(&existing).Error
	if err == nil {
		return &EnrollResult{Error: "contact is already enrolled in this sequence"}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing enrollments: %w", err)
	}

	// Pre-check step 0 before writing anything: a non-compliant contact
	// must not leave an enrollment row behind.
	step0 := sequence.Steps[0]
	check := e.gate.Check(contactID, compliance.Message{Subject: step0.Subject, Body: step0.EmailBody})
	if check.Indeterminate() {
		return nil, check.Err
	}
	if check.Blocked() {
		return &EnrollResult{Error: "compliance check failed: " + check.ErrorString()}, nil
	}

	var contact models.Contact
	if err := e.db.First(&contact, contactID).Error; err != nil {
		return nil, fmt.Errorf("failed to load contact %d: %w", contactID, err)
	}

	enrollment := models.Enrollment{
		SequenceID:  sequenceID,
		ContactID:   contactID,
		AccountID:   contact.AccountID,
		CurrentStep: 0,
		Status:      models.EnrollmentStatusActive,
	}
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&enrollment).Error; err != nil {
			return fmt.Errorf("failed to create enrollment: %w", err)
		}
		return tx.Model(&models.Sequence{}).
			Where("id = ?", sequenceID).
			Updates(map[string]interface{}{
				"total_enrolled": gorm.Expr("total_enrolled + ?", 1),
				"total_active":   gorm.Expr("total_active + ?", 1),
			}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &EnrollResult{Error: "contact is already enrolled in this sequence"}, nil
		}
		return nil, err
	}

	if err := e.scheduler.Schedule(ctx, enrollment.ID, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to schedule step 0 for enrollment %d: %w", enrollment.ID, err)
	}

	e.logger.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"sequence_id":   sequenceID,
		"contact_id":    contactID,
	}).Info("contact enrolled")

	return &EnrollResult{Success: true, EnrollmentID: enrollment.ID}, nil
}

// ProcessStep executes one step of an enrollment: re-check compliance, render,
// send, snapshot the delivery, then advance. Invoked by the job worker.
// Business failures pause the enrollment and come back as a failed StepResult;
// infrastructure faults return an error so the queue retries. stepNumber is
// the step the job was scheduled for; the broker delivers at-least-once, so a
// job whose step the enrollment has already moved past is a no-op rather than
// an early run of the current step.
func (e *Engine) ProcessStep(ctx context.Context, enrollmentID uint, stepNumber int) (*StepResult, error) {
	var enrollment models.Enrollment
	if err := e.db.First(&enrollment, enrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &StepResult{Error: "enrollment not found"}, nil
		}
		return nil, fmt.Errorf("failed to load enrollment %d: %w", enrollmentID, err)
	}

	// A job scheduled before an out-of-band pause/completion still fires;
	// re-verify status so it becomes a no-op instead of a double-send.
	if enrollment.Status != models.EnrollmentStatusActive {
		return &StepResult{Error: fmt.Sprintf("enrollment is %s, not active", enrollment.Status)}, nil
	}

	if stepNumber != enrollment.CurrentStep {
		e.logger.WithFields(logrus.Fields{
			"enrollment_id": enrollmentID,
			"job_step":      stepNumber,
			"current_step":  enrollment.CurrentStep,
		}).Warn("stale job delivery, skipping")
		return &StepResult{Error: fmt.Sprintf("stale job for step %d, enrollment is at step %d",
			stepNumber, enrollment.CurrentStep)}, nil
	}

	var sequence models.Sequence
	err := e.db.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&sequence, enrollment.SequenceID).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sequence %d: %w", enrollment.SequenceID, err)
	}

	if enrollment.CurrentStep >= len(sequence.Steps) {
		if err := e.complete(&enrollment); err != nil {
			return nil, err
		}
		return &StepResult{Success: true}, nil
	}
	step := sequence.Steps[enrollment.CurrentStep]

	var contact models.Contact
	if err := e.db.First(&contact, enrollment.ContactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return e.pauseWithReason(&enrollment, models.PauseReasonComplianceFailed, "contact no longer exists")
		}
		return nil, fmt.Errorf("failed to load contact %d: %w", enrollment.ContactID, err)
	}

	vars := ContactVars(&contact)
	rendered := Message{
		Subject: RenderTemplate(step.Subject, vars),
		Body:    RenderTemplate(step.EmailBody, vars),
	}

	// Compliance is re-checked before every send, not only at enrollment:
	// consent or delivery health can change between steps.
	check := e.gate.Check(enrollment.ContactID, compliance.Message{Subject: rendered.Subject, Body: rendered.Body})
	if check.Indeterminate() {
		return nil, check.Err
	}
	if check.Blocked() {
		return e.pauseWithReason(&enrollment, models.PauseReasonComplianceFailed, check.ErrorString())
	}

	var sendResult SendResult
	sendErr := e.limiter.Do(func() error {
		var err error
		sendResult, err = e.sender.Send(contact.Email, rendered, enrollment.ID, step.StepNumber)
		return err
	})
	if sendErr != nil {
		return nil, fmt.Errorf("send transport failure for enrollment %d step %d: %w",
			enrollment.ID, step.StepNumber, sendErr)
	}
	if !sendResult.Success {
		return e.pauseWithReason(&enrollment, models.PauseReasonSendFailed, sendResult.Error)
	}

	now := time.Now().UTC()
	delivery := models.StepDelivery{
		EnrollmentID: enrollment.ID,
		ContactID:    contact.ID,
		StepNumber:   step.StepNumber,
		Subject:      rendered.Subject,
		Body:         rendered.Body,
		MessageID:    sendResult.MessageID,
		SentAt:       &now,
	}
	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&delivery).Error; err != nil {
			return fmt.Errorf("failed to record delivery for enrollment %d: %w", enrollment.ID, err)
		}
		return tx.Model(&models.SequenceStep{}).
			Where("id = ?", step.ID).
			Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error
	})
	if err != nil {
		return nil, err
	}

	return e.advance(ctx, &enrollment, &sequence)
}

// advance moves the enrollment to the next step, or completes it when the
// sequence is exhausted. The conditional update makes a duplicate or stale job
// delivery a detectable no-op rather than a double-send.
func (e *Engine) advance(ctx context.Context, enrollment *models.Enrollment, sequence *models.Sequence) (*StepResult, error) {
	res := e.db.Model(&models.Enrollment{}).
		Where("id = ? AND current_step = ? AND status = ?",
			enrollment.ID, enrollment.CurrentStep, models.EnrollmentStatusActive).
		Update("current_step", enrollment.CurrentStep+1)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to advance enrollment %d: %w", enrollment.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		e.logger.WithField("enrollment_id", enrollment.ID).
			Warn("stale step execution detected, skipping advance")
		return &StepResult{Error: "enrollment advanced concurrently"}, nil
	}

	nextStep := enrollment.CurrentStep + 1
	if nextStep >= len(sequence.Steps) {
		enrollment.CurrentStep = nextStep
		if err := e.complete(enrollment); err != nil {
			return nil, err
		}
		return &StepResult{Success: true}, nil
	}

	delay := time.Duration(sequence.Steps[nextStep].DelayHours * float64(time.Hour))
	if err := e.scheduler.Schedule(ctx, enrollment.ID, nextStep, delay); err != nil {
		return nil, fmt.Errorf("failed to schedule step %d for enrollment %d: %w", nextStep, enrollment.ID, err)
	}

	e.logger.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"next_step":     nextStep,
		"delay":         delay.String(),
	}).Info("enrollment advanced")

	return &StepResult{Success: true}, nil
}

// PauseEnrollment moves an active enrollment to paused with the given reason
func (e *Engine) PauseEnrollment(ctx context.Context, enrollmentID uint, reason string) error {
	var enrollment models.Enrollment
	if err := e.db.First(&enrollment, enrollmentID).Error; err != nil {
		return fmt.Errorf("failed to load enrollment %d: %w", enrollmentID, err)
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return fmt.Errorf("cannot pause enrollment %d: status is %s", enrollmentID, enrollment.Status)
	}
	_, err := e.pauseWithReason(&enrollment, reason, "")
	return err
}

// ResumeEnrollment reactivates a paused enrollment and re-attempts the step
// that caused the pause, immediately.
func (e *Engine) ResumeEnrollment(ctx context.Context, enrollmentID uint) error {
	var enrollment models.Enrollment
	if err := e.db.First(&enrollment, enrollmentID).Error; err != nil {
		return fmt.Errorf("failed to load enrollment %d: %w", enrollmentID, err)
	}
	if enrollment.Status != models.EnrollmentStatusPaused {
		return fmt.Errorf("cannot resume enrollment %d: status is %s", enrollmentID, enrollment.Status)
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Enrollment{}).
			Where("id = ? AND status = ?", enrollmentID, models.EnrollmentStatusPaused).
			Updates(map[string]interface{}{
				"status":       models.EnrollmentStatusActive,
				"pause_reason": nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to resume enrollment %d: %w", enrollmentID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("enrollment %d changed state during resume", enrollmentID)
		}
		return tx.Model(&models.Sequence{}).
			Where("id = ?", enrollment.SequenceID).
			Update("total_active", gorm.Expr("total_active + ?", 1)).Error
	})
	if err != nil {
		return err
	}

	if err := e.scheduler.Schedule(ctx, enrollmentID, enrollment.CurrentStep, 0); err != nil {
		return fmt.Errorf("failed to schedule resumed step for enrollment %d: %w", enrollmentID, err)
	}

	e.logger.WithFields(logrus.Fields{
		"enrollment_id": enrollmentID,
		"current_step":  enrollment.CurrentStep,
	}).Info("enrollment resumed")
	return nil
}

// CompleteEnrollment is the idempotent terminal transition
func (e *Engine) CompleteEnrollment(ctx context.Context, enrollmentID uint) error {
	var enrollment models.Enrollment
	if err := e.db.First(&enrollment, enrollmentID).Error; err != nil {
		return fmt.Errorf("failed to load enrollment %d: %w", enrollmentID, err)
	}
	if enrollment.Status == models.EnrollmentStatusCompleted {
		return nil
	}
	return e.complete(&enrollment)
}

func (e *Engine) complete(enrollment *models.Enrollment) error {
	wasActive := enrollment.Status == models.EnrollmentStatusActive
	now := time.Now().UTC()

	err := e.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Enrollment{}).
			Where("id = ? AND status <> ?", enrollment.ID, models.EnrollmentStatusCompleted).
			Updates(map[string]interface{}{
				"status":       models.EnrollmentStatusCompleted,
				"pause_reason": nil,
				"completed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to complete enrollment %d: %w", enrollment.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil // already completed
		}

		updates := map[string]interface{}{
			"total_completed": gorm.Expr("total_completed + ?", 1),
		}
		if wasActive {
			updates["total_active"] = gorm.Expr("total_active - ?", 1)
		}
		return tx.Model(&models.Sequence{}).
			Where("id = ?", enrollment.SequenceID).
			Updates(updates).Error
	})
	if err != nil {
		return err
	}

	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.CompletedAt = &now

	e.logger.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"sequence_id":   enrollment.SequenceID,
	}).Info("enrollment completed")
	return nil
}

// pauseWithReason records a business failure on the enrollment so operators
// can see why the contact stalled. No further jobs are scheduled; recovery is
// a manual resume.
func (e *Engine) pauseWithReason(enrollment *models.Enrollment, reason, detail string) (*StepResult, error) {
	err := e.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Enrollment{}).
			Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentStatusActive).
			Updates(map[string]interface{}{
				"status":       models.EnrollmentStatusPaused,
				"pause_reason": reason,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to pause enrollment %d: %w", enrollment.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil // already paused or completed elsewhere
		}
		return tx.Model(&models.Sequence{}).
			Where("id = ?", enrollment.SequenceID).
			Update("total_active", gorm.Expr("total_active - ?", 1)).Error
	})
	if err != nil {
		return nil, err
	}

	msg := reason
	if detail != "" {
		msg = reason + ": " + detail
	}
	e.logger.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"pause_reason":  reason,
	}).Info("enrollment paused")

	return &StepResult{Error: msg}, nil
}

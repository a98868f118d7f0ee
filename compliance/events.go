package compliance

import (
	"fmt"

	"gorm.io/gorm"

	"yardflow/models"
)

// Bounce types reported by the delivery webhook layer. Only hard bounces flip
// the contact's delivery status.
const (
	BounceHard = "hard"
	BounceSoft = "soft"
)

// HandleUnsubscribe marks the contact unsubscribed and pauses all of their
// active enrollments. This is how compliance events propagate into running
// sequences without the gate depending on the engine.
func (g *Gate) HandleUnsubscribe(contactID uint) error {
	return g.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Contact{}).
			Where("id = ?", contactID).
			Update("unsubscribed", true).Error; err != nil {
			return fmt.Errorf("failed to mark contact %d unsubscribed: %w", contactID, err)
		}
		return pauseActiveEnrollments(tx, contactID, models.PauseReasonUnsubscribed)
	})
}

// HandleBounce records a bounce for the contact. Soft bounces are transient
// and leave delivery status untouched; hard bounces block further sends and
// pause active enrollments.
func (g *Gate) HandleBounce(contactID uint, bounceType string) error {
	if bounceType != BounceHard {
		return nil
	}
	return g.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Contact{}).
			Where("id = ?", contactID).
			Update("email_delivery_status", models.DeliveryStatusBounced).Error; err != nil {
			return fmt.Errorf("failed to mark contact %d bounced: %w", contactID, err)
		}
		return pauseActiveEnrollments(tx, contactID, models.PauseReasonBounced)
	})
}

// HandleSpamComplaint records a spam complaint, force-unsubscribes the contact
// and pauses their active enrollments.
func (g *Gate) HandleSpamComplaint(contactID uint) error {
	return g.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Contact{}).
			Where("id = ?", contactID).
			Updates(map[string]interface{}{
				"email_delivery_status": models.DeliveryStatusComplained,
				"unsubscribed":          true,
			}).Error; err != nil {
			return fmt.Errorf("failed to record spam complaint for contact %d: %w", contactID, err)
		}
		return pauseActiveEnrollments(tx, contactID, models.PauseReasonSpamComplaint)
	})
}

func pauseActiveEnrollments(tx *gorm.DB, contactID uint, reason string) error {
	var enrollments []models.Enrollment
	if err := tx.Where("contact_id = ? AND status = ?", contactID, models.EnrollmentStatusActive).
		Find(&enrollments).Error; err != nil {
		return fmt.Errorf("failed to list active enrollments for contact %d: %w", contactID, err)
	}

	for _, enrollment := range enrollments {
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
			continue // already transitioned elsewhere
		}
		if err := tx.Model(&models.Sequence{}).
			Where("id = ?", enrollment.SequenceID).
			Update("total_active", gorm.Expr("total_active - ?", 1)).Error; err != nil {
			return fmt.Errorf("failed to update sequence %d counters: %w", enrollment.SequenceID, err)
		}
	}
	return nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment states. Transitions are monotonic:
// active -> {paused -> active}* -> completed, never out of completed.
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusPaused    = "paused"
	EnrollmentStatusCompleted = "completed"
)

// Pause reasons explaining why an enrollment stopped advancing
const (
	PauseReasonComplianceFailed = "compliance_failed"
	PauseReasonSendFailed       = "send_failed"
	PauseReasonUnsubscribed     = "unsubscribed"
	PauseReasonBounced          = "bounced"
	PauseReasonSpamComplaint    = "spam_complaint"
)

// Enrollment tracks one contact's progress through one sequence. Rows are
// never deleted; they are the outreach audit trail. The partial unique index
// is the store-level arbiter for "at most one non-terminal enrollment per
// (sequence, contact)": completed rows fall out of it, so a contact can be
// re-enrolled after finishing.
type Enrollment struct {
	gorm.Model
	SequenceID uint  `gorm:"not null;index:idx_enrollment_seq_contact,unique,where:status <> 'completed'" json:"sequence_id"`
	ContactID  uint  `gorm:"not null;index:idx_enrollment_seq_contact,unique,where:status <> 'completed'" json:"contact_id"`
	AccountID  *uint `gorm:"index" json:"account_id,omitempty"`

	// CurrentStep is the index of the next step to execute. It only ever
	// increases, by exactly 1 per successful advance.
	CurrentStep int        `gorm:"not null;default:0" json:"current_step"`
	Status      string     `gorm:"default:'active';index" json:"status"` // active, paused, completed
	PauseReason *string    `json:"pause_reason,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relations
	Sequence   Sequence       `json:"-"`
	Contact    Contact        `json:"-"`
	Deliveries []StepDelivery `gorm:"foreignKey:EnrollmentID" json:"deliveries,omitempty"`
}

// StepDelivery records a single step send with the rendered content snapshotted
// at dispatch time, so later edits to the sequence template cannot rewrite what
// was actually sent.
type StepDelivery struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	ContactID    uint `gorm:"not null;index" json:"contact_id"`
	StepNumber   int  `gorm:"not null" json:"step_number"`

	// Rendered content snapshot
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	MessageID string     `gorm:"index" json:"message_id"`
	SentAt    *time.Time `json:"sent_at"`

	// Engagement tracking
	OpenedAt   *time.Time `json:"opened_at,omitempty"`
	OpenCount  int        `gorm:"default:0" json:"open_count"`
	ClickedAt  *time.Time `json:"clicked_at,omitempty"`
	ClickCount int        `gorm:"default:0" json:"click_count"`
}

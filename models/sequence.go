package models

import "gorm.io/gorm"

// Sequence template states
const (
	SequenceStatusDraft    = "draft"
	SequenceStatusActive   = "active"
	SequenceStatusPaused   = "paused"
	SequenceStatusArchived = "archived"
)

// Sequence represents an ordered outreach email sequence template
type Sequence struct {
	gorm.Model

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused, archived

	// Statistics (denormalized for performance)
	TotalEnrolled  int `gorm:"default:0" json:"total_enrolled"`
	TotalActive    int `gorm:"default:0" json:"total_active"`
	TotalCompleted int `gorm:"default:0" json:"total_completed"`

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep represents one step template in a sequence. Step numbers are
// 0-based and sequential with no gaps. DelayHours is the delay since the
// previous step's send and is ignored for step 0.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber int     `gorm:"not null" json:"step_number"`
	DelayHours float64 `gorm:"not null;default:0" json:"delay_hours"`
	Subject    string  `gorm:"not null" json:"subject"`
	EmailBody  string  `gorm:"type:text" json:"email_body"`

	// Tracking
	SentCount int `gorm:"default:0" json:"sent_count"`
}

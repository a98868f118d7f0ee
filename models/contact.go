package models

import (
	"gorm.io/gorm"
)

// Email delivery health states for a contact
const (
	DeliveryStatusValid      = "valid"
	DeliveryStatusBounced    = "bounced"
	DeliveryStatusComplained = "complained"
)

// Account represents a company/prospect account contacts belong to
type Account struct {
	gorm.Model

	Name    string `gorm:"not null" json:"name"`
	Domain  string `gorm:"index" json:"domain"`
	Website string `json:"website"`
	Notes   string `gorm:"type:text" json:"notes"`

	// Relations
	Contacts []Contact `gorm:"foreignKey:AccountID" json:"contacts,omitempty"`
}

// Contact represents a single person we may reach out to
type Contact struct {
	gorm.Model
	AccountID *uint `gorm:"index" json:"account_id,omitempty"`

	Email     string `gorm:"index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Title     string `json:"title"`
	Company   string `json:"company"`

	// Consent and delivery health - read by the compliance gate before every send
	GDPRConsentGiven    bool   `gorm:"default:false" json:"gdpr_consent_given"`
	Unsubscribed        bool   `gorm:"default:false" json:"unsubscribed"`
	EmailDeliveryStatus string `gorm:"default:'valid'" json:"email_delivery_status"` // valid, bounced, complained

	// Relations
	Account     *Account     `json:"account,omitempty"`
	Enrollments []Enrollment `gorm:"foreignKey:ContactID" json:"enrollments,omitempty"`
}

package compliance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/badoux/checkmail"
	"gorm.io/gorm"

	"yardflow/models"
)

// Outcome classifies a compliance check. Blocked means the message must not be
// sent; Indeterminate means the check itself could not run (store outage) and
// should be retried rather than treated as a policy violation.
const (
	OutcomeCompliant     = "compliant"
	OutcomeBlocked       = "blocked"
	OutcomeIndeterminate = "indeterminate"
)

// Violation codes
const (
	CodePersonNotFound     = "PERSON_NOT_FOUND"
	CodeNoConsent          = "GDPR_CONSENT_MISSING"
	CodeMissingEmail       = "MISSING_EMAIL"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodeUnsubscribed       = "UNSUBSCRIBED"
	CodeBounced            = "EMAIL_BOUNCED"
	CodeSpamComplaint      = "SPAM_COMPLAINT"
	CodeMissingUnsubscribe = "MISSING_UNSUBSCRIBE_LINK"
	CodeMissingAddress     = "MISSING_POSTAL_ADDRESS"
	CodeEmptySubject       = "EMPTY_SUBJECT"
	CodeMisleadingSubject  = "MISLEADING_SUBJECT"
)

// Content markers the renderer replaces with working values at send time. The
// gate checks the template carries them; the mailer injects the real link and
// postal address.
const (
	UnsubscribeMarker   = "{{unsubscribe_link}}"
	PostalAddressMarker = "{{sender_address}}"
)

// Message is the (possibly rendered) email under evaluation
type Message struct {
	Subject string
	Body    string
}

// Violation is one reason a message may not be sent
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Result carries the full violation list rather than the first failure, so
// callers get complete diagnostics in one pass.
type Result struct {
	Outcome    string
	Violations []Violation
	Err        error // set only when Outcome is Indeterminate
}

// Compliant reports whether the message may be sent
func (r Result) Compliant() bool {
	return r.Outcome == OutcomeCompliant
}

// Blocked reports whether the message is definitively disallowed
func (r Result) Blocked() bool {
	return r.Outcome == OutcomeBlocked
}

// Indeterminate reports whether the check itself failed and should be retried
func (r Result) Indeterminate() bool {
	return r.Outcome == OutcomeIndeterminate
}

// ErrorString joins all violations into one operator-readable string
func (r Result) ErrorString() string {
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.Message)
	}
	return strings.Join(msgs, "; ")
}

// Gate validates (contact, message) pairs against consent, delivery-health and
// content rules. It is read-only; event handlers that mutate contact state live
// in events.go.
type Gate struct {
	DB *gorm.DB
}

func NewGate(db *gorm.DB) *Gate {
	return &Gate{DB: db}
}

// Check runs every rule and returns the combined result. The message is
// compliant iff no rule produced a violation.
func (g *Gate) Check(contactID uint, msg Message) Result {
	violations := checkContent(msg)

	var contact models.Contact
	if err := g.DB.First(&contact, contactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			violations = append(violations, Violation{
				Code:    CodePersonNotFound,
				Message: fmt.Sprintf("contact %d not found", contactID),
			})
			return Result{Outcome: OutcomeBlocked, Violations: violations}
		}
		return Result{
			Outcome: OutcomeIndeterminate,
			Err:     fmt.Errorf("compliance check could not load contact %d: %w", contactID, err),
		}
	}

	violations = append(violations, checkConsent(&contact)...)
	violations = append(violations, checkDeliveryHealth(&contact)...)

	if len(violations) > 0 {
		return Result{Outcome: OutcomeBlocked, Violations: violations}
	}
	return Result{Outcome: OutcomeCompliant}
}

// checkContent validates the message itself, independent of any contact state
func checkContent(msg Message) []Violation {
	var violations []Violation

	if !strings.Contains(msg.Body, UnsubscribeMarker) {
		violations = append(violations, Violation{
			Code:    CodeMissingUnsubscribe,
			Message: "email body must contain an unsubscribe link",
			Field:   "body",
		})
	}
	if !strings.Contains(msg.Body, PostalAddressMarker) {
		violations = append(violations, Violation{
			Code:    CodeMissingAddress,
			Message: "email body must contain the sender's physical mailing address",
			Field:   "body",
		})
	}

	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		violations = append(violations, Violation{
			Code:    CodeEmptySubject,
			Message: "subject must not be empty",
			Field:   "subject",
		})
	} else {
		lower := strings.ToLower(subject)
		if strings.HasPrefix(lower, "re:") || strings.HasPrefix(lower, "fwd:") {
			violations = append(violations, Violation{
				Code:    CodeMisleadingSubject,
				Message: "subject must not impersonate a reply or forward",
				Field:   "subject",
			})
		}
	}

	return violations
}

func checkConsent(contact *models.Contact) []Violation {
	var violations []Violation

	if !contact.GDPRConsentGiven {
		violations = append(violations, Violation{
			Code:    CodeNoConsent,
			Message: "contact has not given GDPR consent",
		})
	}
	if contact.Email == "" {
		violations = append(violations, Violation{
			Code:    CodeMissingEmail,
			Message: "contact has no email address",
			Field:   "email",
		})
	} else if err := checkmail.ValidateFormat(contact.Email); err != nil {
		violations = append(violations, Violation{
			Code:    CodeInvalidEmail,
			Message: fmt.Sprintf("contact email %q is not a valid address", contact.Email),
			Field:   "email",
		})
	}

	return violations
}

func checkDeliveryHealth(contact *models.Contact) []Violation {
	var violations []Violation

	if contact.Unsubscribed {
		violations = append(violations, Violation{
			Code:    CodeUnsubscribed,
			Message: "contact has unsubscribed",
		})
	}
	switch contact.EmailDeliveryStatus {
	case models.DeliveryStatusBounced:
		violations = append(violations, Violation{
			Code:    CodeBounced,
			Message: "contact's email address has hard bounced",
		})
	case models.DeliveryStatusComplained:
		violations = append(violations, Violation{
			Code:    CodeSpamComplaint,
			Message: "contact has filed a spam complaint",
		})
	}

	return violations
}

package utils

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"yardflow/compliance"
	"yardflow/engine"
	"yardflow/ratelimit"
)

// OutreachMailer delivers rendered step emails over SMTP. It owns the last
// mile of compliance: the template markers the gate checked for are replaced
// with a working unsubscribe link and the sender's postal address before
// anything leaves the building.
type OutreachMailer struct {
	Dialer        *gomail.Dialer
	FromEmail     string
	FromName      string
	BaseURL       string
	PostalAddress string
	Logger        *log.Logger
}

func NewOutreachMailer(host string, port int, username, password, fromEmail, fromName, baseURL, postalAddress string, logger *log.Logger) *OutreachMailer {
	return &OutreachMailer{
		Dialer:        gomail.NewDialer(host, port, username, password),
		FromEmail:     fromEmail,
		FromName:      fromName,
		BaseURL:       baseURL,
		PostalAddress: postalAddress,
		Logger:        logger,
	}
}

// Send implements engine.EmailSender. A returned error is a transport fault
// (retryable by the rate limiter / job queue); SendResult.Success=false means
// the provider rejected the message.
func (m *OutreachMailer) Send(recipient string, msg engine.Message, enrollmentID uint, stepNumber int) (engine.SendResult, error) {
	messageID := uuid.New().String()

	body := m.finalizeBody(msg.Body, messageID)
	body = InjectTracking(body, m.BaseURL, messageID)

	mail := gomail.NewMessage()
	mail.SetAddressHeader("From", m.FromEmail, m.FromName)
	mail.SetHeader("To", recipient)
	mail.SetHeader("Subject", msg.Subject)
	mail.SetHeader("List-Unsubscribe", fmt.Sprintf("<%s/unsubscribe/%s>", m.BaseURL, messageID))
	mail.SetBody("text/html", body)

	if err := m.Dialer.DialAndSend(mail); err != nil {
		if isTransientSMTPError(err) {
			return engine.SendResult{}, fmt.Errorf("%w: %v", ratelimit.ErrRateLimited, err)
		}
		m.Logger.Printf("Failed to send step %d of enrollment %d to %s: %v",
			stepNumber, enrollmentID, recipient, err)
		return engine.SendResult{Error: err.Error()}, nil
	}

	return engine.SendResult{Success: true, MessageID: messageID}, nil
}

// finalizeBody swaps the compliance markers for working values
func (m *OutreachMailer) finalizeBody(body, messageID string) string {
	unsubscribeURL := fmt.Sprintf("%s/unsubscribe/%s", m.BaseURL, messageID)
	unsubscribeLink := fmt.Sprintf(`<a href="%s">Unsubscribe</a>`, unsubscribeURL)

	body = strings.ReplaceAll(body, compliance.UnsubscribeMarker, unsubscribeLink)
	body = strings.ReplaceAll(body, compliance.PostalAddressMarker, m.PostalAddress)
	return body
}

// isTransientSMTPError sniffs for throttling responses (421/450/too many)
// that are worth retrying through the rate limiter's backoff.
func isTransientSMTPError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "421") ||
		strings.Contains(msg, "450") ||
		strings.Contains(msg, "too many") ||
		strings.Contains(msg, "rate")
}

package engine

import (
	"strings"

	"yardflow/models"
)

// RenderTemplate substitutes {{var}} placeholders with contact values. Unknown
// placeholders are left intact: the mailer replaces the unsubscribe link and
// postal address markers at dispatch, and the compliance gate checks for their
// presence after rendering.
func RenderTemplate(tmpl string, vars map[string]string) string {
	out := tmpl
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

// ContactVars builds the substitution map for one contact
func ContactVars(contact *models.Contact) map[string]string {
	return map[string]string{
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"full_name":  strings.TrimSpace(contact.FirstName + " " + contact.LastName),
		"title":      contact.Title,
		"company":    contact.Company,
		"email":      contact.Email,
	}
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"yardflow/models"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{
		"first_name": "Dana",
		"company":    "Example Corp",
	}

	t.Run("substitutes known placeholders", func(t *testing.T) {
		got := RenderTemplate("Hi {{first_name}}, greetings from {{company}}.", vars)
		assert.Equal(t, "Hi Dana, greetings from Example Corp.", got)
	})

	t.Run("substitutes repeated placeholders", func(t *testing.T) {
		got := RenderTemplate("{{first_name}} {{first_name}}", vars)
		assert.Equal(t, "Dana Dana", got)
	})

	t.Run("leaves unknown placeholders intact", func(t *testing.T) {
		got := RenderTemplate("Bye.\n{{unsubscribe_link}}\n{{sender_address}}", vars)
		assert.Contains(t, got, "{{unsubscribe_link}}")
		assert.Contains(t, got, "{{sender_address}}")
	})

	t.Run("empty value renders as empty", func(t *testing.T) {
		got := RenderTemplate("Hi {{title}}", map[string]string{"title": ""})
		assert.Equal(t, "Hi ", got)
	})
}

func TestContactVars(t *testing.T) {
	contact := &models.Contact{
		Email:     "dana@example.com",
		FirstName: "Dana",
		LastName:  "Reed",
		Title:     "VP Operations",
		Company:   "Example Corp",
	}

	vars := ContactVars(contact)
	assert.Equal(t, "Dana", vars["first_name"])
	assert.Equal(t, "Reed", vars["last_name"])
	assert.Equal(t, "Dana Reed", vars["full_name"])
	assert.Equal(t, "VP Operations", vars["title"])
	assert.Equal(t, "Example Corp", vars["company"])
	assert.Equal(t, "dana@example.com", vars["email"])
}

func TestContactVarsTrimsPartialName(t *testing.T) {
	vars := ContactVars(&models.Contact{FirstName: "Dana"})
	assert.Equal(t, "Dana", vars["full_name"])

	vars = ContactVars(&models.Contact{LastName: "Reed"})
	assert.Equal(t, "Reed", vars["full_name"])
}

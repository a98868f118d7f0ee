package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yardflow/config"
	"yardflow/utils"
)

func newProtectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/ping", Protected(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("userID")})
	})
	return app
}

func TestProtectedAcceptsBearerToken(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	token, err := utils.GenerateJWTToken(42)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := newProtectedApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 42, body["user_id"])
}

func TestProtectedAcceptsCookieToken(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	token, err := utils.GenerateJWTToken(7)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})

	resp, err := newProtectedApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectedRejectsUnauthenticatedRequests(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	app := newProtectedApp()

	tests := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no credentials", func(_ *http.Request) {}},
		{"malformed header", func(r *http.Request) {
			r.Header.Set("Authorization", "NotBearer abc")
		}},
		{"garbage token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not.a.jwt")
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			tc.setup(req)

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestProtectedRejectsTokenSignedWithOtherSecret(t *testing.T) {
	config.AppConfig.JWTSecret = "old-secret"
	token, err := utils.GenerateJWTToken(9)
	require.NoError(t, err)

	config.AppConfig.JWTSecret = "rotated-secret"

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := newProtectedApp().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const trackingBase = "https://app.yardflow.io"

func TestTrackingTokenRoundTrip(t *testing.T) {
	pixelURL := GenerateTrackingPixelURL(trackingBase, "msg-1")
	parts := strings.Split(pixelURL, "/")
	token := parts[len(parts)-1]

	assert.True(t, VerifyTrackingToken("msg-1", token))
	assert.False(t, VerifyTrackingToken("msg-2", token))
	assert.False(t, VerifyTrackingToken("msg-1", "forged"))
}

func TestGenerateClickTrackURL(t *testing.T) {
	got := GenerateClickTrackURL(trackingBase, "msg-1", "https://example.com/page?a=1&b=2")

	assert.True(t, strings.HasPrefix(got, trackingBase+"/track/click/msg-1/"))
	assert.Contains(t, got, "url=https%3A%2F%2Fexample.com%2Fpage%3Fa%3D1%26b%3D2")
}

func TestInjectTracking(t *testing.T) {
	html := `<p>Hello</p><a href="https://example.com">site</a>`
	got := InjectTracking(html, trackingBase, "msg-1")

	assert.Contains(t, got, `/track/open/msg-1/`)
	assert.Contains(t, got, `width="1" height="1"`)
	assert.Contains(t, got, `/track/click/msg-1/`)
	assert.NotContains(t, got, `href="https://example.com"`)
	assert.True(t, strings.HasSuffix(got, ">"), "pixel is appended at the end")
}

func TestInjectTrackingRewritesEveryLink(t *testing.T) {
	html := `<a href="https://one.example.com">1</a><a href="https://two.example.com">2</a>`
	got := InjectTracking(html, trackingBase, "msg-1")

	assert.Contains(t, got, "url=https%3A%2F%2Fone.example.com")
	assert.Contains(t, got, "url=https%3A%2F%2Ftwo.example.com")
	assert.Equal(t, 2, strings.Count(got, "/track/click/"))
}

func TestInjectTrackingWithoutLinks(t *testing.T) {
	got := InjectTracking("<p>plain</p>", trackingBase, "msg-1")
	assert.Contains(t, got, "<p>plain</p>")
	assert.Contains(t, got, "/track/open/msg-1/")
}

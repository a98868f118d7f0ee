package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// GenerateTrackingPixelURL generates a tracking pixel URL for email opens
func GenerateTrackingPixelURL(baseURL, messageID string) string {
	token := generateUniqueToken(messageID)
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, messageID, token)
}

// GenerateClickTrackURL generates a tracked URL for links
func GenerateClickTrackURL(baseURL, messageID, originalURL string) string {
	token := generateUniqueToken(messageID)
	encodedURL := url.QueryEscape(originalURL)
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", baseURL, messageID, token, encodedURL)
}

// VerifyTrackingToken checks a token from a tracking callback
func VerifyTrackingToken(messageID, token string) bool {
	return token == generateUniqueToken(messageID)
}

// InjectTracking injects open and click tracking into email content
func InjectTracking(htmlContent, baseURL, messageID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, messageID)
	trackingPixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	modifiedHTML := injectClickTracking(htmlContent, baseURL, messageID)

	return modifiedHTML + trackingPixel
}

func injectClickTracking(html, baseURL, messageID string) string {
	// Simplified link rewrite; an HTML parser would handle edge cases better
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := GenerateClickTrackURL(baseURL, messageID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}

func generateUniqueToken(messageID string) string {
	hash := sha256.Sum256([]byte(messageID + "-yardflow-track"))
	return base64.RawURLEncoding.EncodeToString(hash[:])[:16]
}

package ledger

import (
	"strings"

	"github.com/mssola/useragent"
)

// DeviceLabel reduces a User-Agent header to browser, OS and form factor.
// The raw header is never stored.
func DeviceLabel(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		return "bot"
	}
	name, version := ua.Browser()
	if major, _, ok := strings.Cut(version, "."); ok {
		version = major
	}
	form := "desktop"
	if ua.Mobile() {
		form = "mobile"
	}
	parts := []string{strings.TrimSpace(name + " " + version)}
	if os := ua.OS(); os != "" {
		parts = append(parts, os)
	}
	return strings.Join(parts, " / ") + " (" + form + ")"
}

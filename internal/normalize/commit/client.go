package commit

import (
	"strings"

	"github.com/mssola/useragent"
)

// clientDetails summarizes a User-Agent header for audit metadata. Unknown
// or empty agents add nothing.
func clientDetails(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	ua := useragent.New(raw)
	details := make(map[string]string, 4)
	if name, version := ua.Browser(); name != "" {
		details["browser"] = strings.TrimSpace(name + " " + version)
	}
	if os := ua.OS(); os != "" {
		details["os"] = os
	}
	if ua.Bot() {
		details["client"] = "bot"
	} else if ua.Mobile() {
		details["client"] = "mobile"
	} else {
		details["client"] = "desktop"
	}
	return details
}

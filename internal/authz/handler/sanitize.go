package handler

import (
	"net/url"
	"strings"
)

// sanitizeReturnTo keeps post-callback redirects on this origin. Anything
// other than a plain absolute path falls back to "/".
func sanitizeReturnTo(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return raw
}

package auth

import (
	"net/url"
	"strings"
)

// IsAllowedRedirect reports whether redirect is an absolute http(s) URL whose
// hostname equals one of allowedHosts or is a subdomain of one.
func IsAllowedRedirect(redirect string, allowedHosts []string) bool {
	u, err := url.Parse(redirect)
	if err != nil {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return false
	}

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimPrefix(allowed, "."))
		if allowed == "" {
			continue
		}
		if hostname == allowed || strings.HasSuffix(hostname, "."+allowed) {
			return true
		}
	}

	return false
}

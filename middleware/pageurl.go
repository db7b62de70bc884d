package middleware

import (
	"net/http"
	"strings"
)

// PageURL reconstructs the URL the browser requested, the address the
// flow returns to after the second-factor prompt. Scheme detection
// honors TLS termination at a fronting proxy via X-Forwarded-Proto.
func PageURL(r *http.Request) string {
	scheme := "http"
	if isHTTPS(r) {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" && !strings.EqualFold(proto, "off") && !strings.EqualFold(proto, "http") {
		return true
	}
	if i := strings.LastIndex(r.Host, ":"); i >= 0 && r.Host[i+1:] == "443" {
		return true
	}
	return false
}

package observability

import (
	"net/http"
	"strings"
	"unicode"
)

const defaultStringLimit = 256

// sanitizeString trims unwanted characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod removes control characters in HTTP methods.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID limits potential identifiers to reduce PII leakage in logs.
func SanitizeUserID(uid string) string {
	if len(uid) == 0 {
		return ""
	}
	return sanitizeString(uid, 64)
}

var maskedHeaders = map[string]struct{}{
	"authorization":              {},
	"cookie":                     {},
	"x-signature":                {},
	"x-goog-iap-jwt-assertion":   {},
	"x-serverless-authorization": {},
}

// SanitizeHeaders flattens headers for logging and masks credentials and signatures.
func SanitizeHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if _, masked := maskedHeaders[strings.ToLower(name)]; masked {
			out[name] = "[redacted]"
			continue
		}
		out[name] = sanitizeString(strings.Join(values, ","), 0)
	}
	return out
}

package observability

import (
	"strings"
	"unicode"
)

// Field limits for values copied from requests into logs and metric labels.
const (
	routeLimit  = 180
	methodLimit = 10
	userIDLimit = 64
	addrLimit   = 64
)

// sanitizeString drops control characters and caps the value at limit runes so request
// data cannot forge log lines or explode label cardinality.
func sanitizeString(value string, limit int) string {
	var b strings.Builder
	b.Grow(min(len(value), limit))
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute normalises a chi route pattern for logs and labels.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(method, methodLimit))
}

// SanitizeUserID bounds the customer id logged with each request.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, userIDLimit)
}

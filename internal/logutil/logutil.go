package logutil

import "strings"

// IsSensitiveLogField returns true when a key likely contains sensitive data.
// Covers bearer tokens, peppers, login codes, and webhook signatures.
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "pepper"):
		return true
	case strings.Contains(normalized, "signature"):
		return true
	case strings.Contains(normalized, "apikey"):
		return true
	case strings.Contains(normalized, "code"):
		return true
	case strings.Contains(normalized, "auth"):
		return true
	default:
		return false
	}
}

// RedactHeaderValue redacts a header value when the key looks sensitive.
func RedactHeaderValue(key, value string) string {
	if IsSensitiveLogField(key) {
		return "[REDACTED]"
	}
	return value
}

// TruncateForLog returns a single-line truncated preview for unstructured values.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	if maxChars <= 0 || len(normalized) <= maxChars {
		return normalized
	}
	return normalized[:maxChars] + "... [truncated]"
}

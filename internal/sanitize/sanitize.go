// Package sanitize redacts sensitive fields and truncates oversized payloads
// before an event leaves the agent process.
package sanitize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Redacted replaces the value of any sensitive field.
const Redacted = "[REDACTED]"

// truncatedSuffix marks a payload that was degraded to its string form.
const truncatedSuffix = "... [TRUNCATED]"

// DefaultSensitiveFields is the redaction set applied when the agent config
// does not override it. Matching is case-insensitive on key substrings.
func DefaultSensitiveFields() []string {
	return []string{
		"password",
		"token",
		"secret",
		"authorization",
		"cookie",
		"api_key",
		"apiKey",
		"access_token",
		"refresh_token",
	}
}

// maxDepth bounds the recursive walk so cyclic payloads cannot exhaust the
// stack; deeper values pass through untouched and fail later at
// serialization instead.
const maxDepth = 128

// Sanitize recursively walks payload and replaces the value of every map key
// whose name case-insensitively contains one of sensitiveFields. Sequences
// are sanitized element-wise. Scalars and nil pass through unchanged. The
// input is never mutated.
func Sanitize(payload any, sensitiveFields []string) any {
	return sanitizeDepth(payload, sensitiveFields, 0)
}

func sanitizeDepth(payload any, sensitiveFields []string, depth int) any {
	if depth > maxDepth {
		return payload
	}
	switch v := payload.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if isSensitive(key, sensitiveFields) {
				out[key] = Redacted
				continue
			}
			out[key] = sanitizeDepth(val, sensitiveFields, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeDepth(item, sensitiveFields, depth+1)
		}
		return out
	default:
		return payload
	}
}

func isSensitive(key string, sensitiveFields []string) bool {
	lower := strings.ToLower(key)
	for _, f := range sensitiveFields {
		if f == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// Truncate bounds the serialized size of payload to maxBytes. Payloads
// already within the bound are returned unchanged. Oversized payloads are cut
// at the byte budget and re-parsed; if the cut still forms valid JSON the
// parsed structure is returned, otherwise the result degrades to a string of
// the form "<prefix>... [TRUNCATED]" whose serialized form stays within
// maxBytes. Truncate never fails: unserializable payloads degrade to the
// string form of their Go representation.
func Truncate(payload any, maxBytes int) any {
	if payload == nil || maxBytes <= 0 {
		return payload
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return truncateString(asString(payload), maxBytes)
	}
	if len(raw) <= maxBytes {
		return payload
	}
	cut := raw[:maxBytes]
	var reparsed any
	if err := json.Unmarshal(cut, &reparsed); err == nil {
		// A cut number can reparse to a value whose canonical form is
		// longer than the cut (e.g. "1e+10" re-serializes as
		// "10000000000"), so the bound must be re-checked.
		if again, err := json.Marshal(reparsed); err == nil && len(again) <= maxBytes {
			return reparsed
		}
	}
	return truncateString(string(raw), maxBytes)
}

// truncateString clips s so that the suffix-marked result, once JSON-quoted,
// fits in maxBytes. Serialization adds two quote bytes and escapes quotes and
// control characters in the clipped prefix, so the clip point is refined
// until the marshaled form fits or no prefix remains.
func truncateString(s string, maxBytes int) string {
	budget := maxBytes - len(truncatedSuffix) - 2
	if budget < 0 {
		budget = 0
	}
	if len(s) > budget {
		s = s[:budget]
	}
	for {
		out := s + truncatedSuffix
		raw, err := json.Marshal(out)
		if err != nil || len(raw) <= maxBytes || len(s) == 0 {
			return out
		}
		over := len(raw) - maxBytes
		if over > len(s) {
			over = len(s)
		}
		s = s[:len(s)-over]
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

var (
	jwtPattern        = regexp.MustCompile(`^eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+$`)
	apiKeyPattern     = regexp.MustCompile(`^[a-zA-Z0-9_-]{32,}$`)
	creditCardPattern = regexp.MustCompile(`^\d{13,19}$`)
	hexHashPattern    = regexp.MustCompile(`^[a-f0-9]{32,}$`)
)

// RedactValue replaces values that look like credentials regardless of the
// field name: JWTs, long opaque keys, card numbers, hex digests. Anything
// else passes through unchanged.
func RedactValue(value string) string {
	switch {
	case jwtPattern.MatchString(value):
		return "[JWT_TOKEN]"
	case apiKeyPattern.MatchString(value):
		return "[API_KEY]"
	case creditCardPattern.MatchString(strings.ReplaceAll(value, " ", "")):
		return "[CREDIT_CARD]"
	case hexHashPattern.MatchString(value):
		return "[HASH]"
	}
	return value
}

package domain

import "time"

// HTTPCall is one recorded outgoing HTTP request made by the instrumented
// service.
type HTTPCall struct {
	ID           string         `json:"id"`
	TenantID     *string        `json:"tenantId,omitempty"`
	Method       string         `json:"method"`
	URL          string         `json:"url"`
	StatusCode   *int           `json:"statusCode,omitempty"`
	DurationMS   int64          `json:"duration"`
	RequestBody  map[string]any `json:"requestBody,omitempty"`
	ResponseBody map[string]any `json:"responseBody,omitempty"`
	Error        *string        `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

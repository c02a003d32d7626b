package domain

import "time"

// Session is one recorded session lifecycle action (created, destroyed,
// touched) observed in the instrumented service.
type Session struct {
	ID          string         `json:"id"`
	TenantID    *string        `json:"tenantId,omitempty"`
	SessionID   string         `json:"sessionId"`
	Action      string         `json:"action"`
	UserID      *string        `json:"userId,omitempty"`
	SessionData map[string]any `json:"sessionData,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

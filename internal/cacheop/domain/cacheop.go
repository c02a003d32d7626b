package domain

import "time"

// CacheOp is one recorded cache command executed by the instrumented service.
type CacheOp struct {
	ID         string    `json:"id"`
	TenantID   *string   `json:"tenantId,omitempty"`
	Command    string    `json:"command"`
	Key        *string   `json:"key,omitempty"`
	DurationMS *int64    `json:"duration,omitempty"`
	Error      *string   `json:"error,omitempty"`
	DBIndex    *int      `json:"db,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

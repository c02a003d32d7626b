package domain

import "time"

// Schedule is one recorded run of a scheduled job.
type Schedule struct {
	ID             string         `json:"id"`
	TenantID       *string        `json:"tenantId,omitempty"`
	JobID          string         `json:"jobId"`
	JobName        string         `json:"jobName"`
	CronExpression *string        `json:"cronExpression,omitempty"`
	Status         string         `json:"status"` // waiting | running | completed | failed
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	DurationMS     *int64         `json:"duration,omitempty"`
	Error          *string        `json:"error,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

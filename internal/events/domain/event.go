package domain

import (
	"time"

	"devlens/internal/event"
)

// PersistedEvent is an ingested event plus its collector-assigned identifier
// and storage timestamp. Immutable once written; rows only leave via
// retention deletion. Route and Status are extracted from the payload at
// ingest so the query layer can filter without JSONB scans.
type PersistedEvent struct {
	ID        string         `json:"id"`
	TenantID  *string        `json:"tenantId,omitempty"`
	Kind      event.Kind     `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Route     *string        `json:"route,omitempty"`
	Status    *int           `json:"status,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Filter selects events for the query layer. Zero values mean "no
// constraint". Route and Search match case-insensitive substrings; Search
// also scans the raw payload text.
type Filter struct {
	TenantID string
	Kinds    []event.Kind
	Route    string
	Status   int
	Method   string
	From     time.Time
	To       time.Time
	Search   string
}

// Page is 1-based pagination input.
type Page struct {
	Page  int
	Limit int
}

// Meta describes one page of query results.
type Meta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// Stats summarizes the event store for the dashboard overview.
type Stats struct {
	TotalEvents         int     `json:"totalEvents"`
	TotalRequests       int     `json:"totalRequests"`
	TotalExceptions     int     `json:"totalExceptions"`
	TotalLogs           int     `json:"totalLogs"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	SuccessRate         float64 `json:"successRate"`
	Last24Hours         struct {
		Requests   int `json:"requests"`
		Exceptions int `json:"exceptions"`
	} `json:"last24Hours"`
}

// RouteTiming aggregates request durations per route.
type RouteTiming struct {
	Route       string  `json:"route"`
	Count       int     `json:"count"`
	AvgDuration float64 `json:"avgDuration"`
	MaxDuration int     `json:"maxDuration"`
}

// StatusCount is one bucket of the status-code distribution.
type StatusCount struct {
	Status int `json:"status"`
	Count  int `json:"count"`
}

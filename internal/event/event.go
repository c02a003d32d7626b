// Package event defines the kind-tagged telemetry event model shared by the
// agent and the collector.
package event

import (
	"fmt"
	"time"
)

// Kind discriminates the event payload union. Unknown kinds are rejected at
// ingest, never coerced into a generic bucket.
type Kind string

const (
	KindRequest    Kind = "request"
	KindException  Kind = "exception"
	KindLog        Kind = "log"
	KindQuery      Kind = "query"
	KindJob        Kind = "job"
	KindSchedule   Kind = "schedule"
	KindHTTPClient Kind = "http_client"
	KindCacheOp    Kind = "cache_op"
	KindSession    Kind = "session"
)

var kinds = map[Kind]bool{
	KindRequest:    true,
	KindException:  true,
	KindLog:        true,
	KindQuery:      true,
	KindJob:        true,
	KindSchedule:   true,
	KindHTTPClient: true,
	KindCacheOp:    true,
	KindSession:    true,
}

// ParseKind returns the Kind for s, or an error if s is not a known kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !kinds[k] {
		return "", fmt.Errorf("event: unknown kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a member of the closed kind enumeration.
func (k Kind) Valid() bool { return kinds[k] }

// Event is one captured telemetry record. Timestamp is the producer clock at
// capture time, not the collector clock. Tenant is the optional partition key
// used for routing and broadcast scoping.
type Event struct {
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Tenant    string         `json:"tenant,omitempty"`
}

// requiredFields lists the payload fields each kind must carry. Validation is
// shallow on purpose: payloads are operator-facing attribute bags, and only
// the fields the router or the stores rely on are enforced.
var requiredFields = map[Kind][]string{
	KindRequest:    {"method", "url"},
	KindException:  {"name", "message"},
	KindLog:        {"level", "message"},
	KindQuery:      {"query"},
	KindJob:        {"jobId", "jobName"},
	KindSchedule:   {"jobId", "jobName", "status"},
	KindHTTPClient: {"method", "url"},
	KindCacheOp:    {"command"},
	KindSession:    {"sessionId", "action"},
}

// Validate checks that the event has a known kind and that the payload carries
// the fields that kind requires. A nil payload is only valid when the kind
// requires nothing.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("event: nil event")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("event: unknown kind %q", string(e.Kind))
	}
	for _, f := range requiredFields[e.Kind] {
		if _, ok := e.Payload[f]; !ok {
			return fmt.Errorf("event: %s payload missing %q", e.Kind, f)
		}
	}
	return nil
}

// String returns the payload field named key if it is a string, else "".
func (e *Event) String(key string) string {
	if e == nil || e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// Int returns the payload field named key as an int if it is numeric. JSON
// decoding yields float64 for all numbers, so both forms are accepted.
func (e *Event) Int(key string) (int, bool) {
	if e == nil || e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Alert is the human-readable notification broadcast when an exception-kind
// event is ingested.
type Alert struct {
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

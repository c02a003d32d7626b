package ingest

import (
	"fmt"

	"devlens/internal/event"
)

// ValidationError reports an event rejected before any store was touched.
// The pipeline state is unchanged when this is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "ingest: invalid event: " + e.Reason
}

// PersistenceError wraps a store failure during routing. Broadcast and
// mirroring are skipped when this is returned.
type PersistenceError struct {
	Kind event.Kind
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ingest: persisting %s event: %v", e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Package mirror streams ingested events to external sinks (Kafka, OTel
// logs) without coupling the ingest path to their availability.
package mirror

import (
	"context"
	"log"
	"time"

	"devlens/internal/event"
)

// emitTimeout is the max time allowed for a single async emit. Used by
// EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops
// before shutting down telemetry providers, so in-flight async emits have
// time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Emitter mirrors one ingested event to an external stream. Best-effort;
// callers log and ignore errors.
type Emitter interface {
	Emit(ctx context.Context, ev *event.Event) error
}

// EmitAsync runs Emit in a goroutine with a short timeout so the ingest
// path is not blocked. Errors are logged.
//
// emitter and ev may be nil; EmitAsync returns immediately without starting
// a goroutine. The goroutine uses context.Background() with emitTimeout so
// request cancellation does not abort an in-flight emit.
func EmitAsync(emitter Emitter, ev *event.Event) {
	if emitter == nil || ev == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, ev); err != nil {
			log.Printf("mirror: async emit failed: %v", err)
		}
	}()
}

// Multi fans one event out to several emitters. A failing sink does not
// stop the others; the first error is returned.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev *event.Event) error {
	var first error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

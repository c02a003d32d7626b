// Package ingest is the collector's write path: validate, route to a store,
// broadcast to live observers, mirror to external sinks.
package ingest

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"devlens/internal/event"
	"devlens/internal/mirror"
)

// Broadcaster pushes a named message to live observers scoped by tenant.
// An empty tenant reaches every connection.
type Broadcaster interface {
	Push(eventName string, data any, tenant string)
}

// Service orchestrates one event's trip through the pipeline. Persistence is
// the only step that can fail the call; broadcast and mirroring are
// fire-and-forget.
type Service struct {
	router *Router
	hub    Broadcaster
	mirror mirror.Emitter

	ingested metric.Int64Counter
	rejected metric.Int64Counter

	nowF func() time.Time
}

// NewService wires the pipeline. hub and emitter may be nil; the matching
// steps become no-ops.
func NewService(router *Router, hub Broadcaster, emitter mirror.Emitter) *Service {
	meter := otel.Meter("devlens.ingest")
	ingested, _ := meter.Int64Counter("ingest.events.accepted")
	rejected, _ := meter.Int64Counter("ingest.events.rejected")
	return &Service{
		router:   router,
		hub:      hub,
		mirror:   emitter,
		ingested: ingested,
		rejected: rejected,
		nowF:     time.Now,
	}
}

// Ingest validates and persists the event, then notifies observers. Returns
// the collector-assigned id of the stored record. A ValidationError means
// nothing was stored; a PersistenceError means the store rejected it and no
// broadcast or mirror happened.
func (s *Service) Ingest(ctx context.Context, ev *event.Event) (string, error) {
	if err := ev.Validate(); err != nil {
		s.count(ctx, s.rejected, ev)
		return "", &ValidationError{Reason: err.Error()}
	}

	id, stored, err := s.router.Route(ctx, ev)
	if err != nil {
		s.count(ctx, s.rejected, ev)
		return "", err
	}
	log.Printf("ingest: event stored: %s (%s)", id, ev.Kind)

	if s.hub != nil {
		s.hub.Push("new-event", stored, ev.Tenant)
		if ev.Kind == event.KindException {
			msg := ev.String("message")
			if msg == "" {
				msg = "Exception captured"
			}
			s.hub.Push("alert", event.Alert{
				Level:     "error",
				Title:     "New exception",
				Message:   msg,
				Timestamp: s.nowF(),
			}, ev.Tenant)
		}
	}

	mirror.EmitAsync(s.mirror, ev)
	s.count(ctx, s.ingested, ev)
	return id, nil
}

func (s *Service) count(ctx context.Context, c metric.Int64Counter, ev *event.Event) {
	if c == nil || ev == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
}

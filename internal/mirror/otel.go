package mirror

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"devlens/internal/event"
)

// NewOTelEmitter returns an Emitter that sends events as OTel log records
// via the given LoggerProvider. If provider is nil, returns a no-op emitter.
func NewOTelEmitter(provider *sdklog.LoggerProvider) Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("devlens.events")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *event.Event) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the event to an OTel log record and emits it. Best-effort;
// payload serialization failures drop the body but keep the attributes.
func (e *otelEmitter) Emit(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return nil
	}
	rec := otellog.Record{}
	if !ev.Timestamp.IsZero() {
		rec.SetTimestamp(ev.Timestamp)
	}
	if body, err := json.Marshal(ev.Payload); err == nil && len(body) > 0 {
		rec.SetBody(otellog.BytesValue(body))
	}
	rec.AddAttributes(otellog.String("kind", string(ev.Kind)))
	if ev.Tenant != "" {
		rec.AddAttributes(otellog.String("tenant", ev.Tenant))
	}
	if rec.Timestamp().IsZero() {
		rec.SetTimestamp(time.Now().UTC())
	}
	e.logger.Emit(ctx, rec)
	return nil
}

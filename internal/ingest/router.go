package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	cacheopdomain "devlens/internal/cacheop/domain"
	cacheoprepo "devlens/internal/cacheop/repository"
	"devlens/internal/event"
	eventsdomain "devlens/internal/events/domain"
	eventsrepo "devlens/internal/events/repository"
	httpcalldomain "devlens/internal/httpcall/domain"
	httpcallrepo "devlens/internal/httpcall/repository"
	scheduledomain "devlens/internal/schedule/domain"
	schedulerepo "devlens/internal/schedule/repository"
	sessiondomain "devlens/internal/session/domain"
	sessionrepo "devlens/internal/session/repository"
)

// Router dispatches a validated event to the store that owns its kind.
// Schedule runs, outgoing HTTP calls, cache operations and session actions
// have dedicated tables; every other kind lands in the generic event store.
type Router struct {
	events    eventsrepo.Repository
	schedules schedulerepo.Repository
	httpCalls httpcallrepo.Repository
	cacheOps  cacheoprepo.Repository
	sessions  sessionrepo.Repository

	idF  func() string
	nowF func() time.Time
}

func NewRouter(
	events eventsrepo.Repository,
	schedules schedulerepo.Repository,
	httpCalls httpcallrepo.Repository,
	cacheOps cacheoprepo.Repository,
	sessions sessionrepo.Repository,
) *Router {
	return &Router{
		events:    events,
		schedules: schedules,
		httpCalls: httpCalls,
		cacheOps:  cacheOps,
		sessions:  sessions,
		idF:       uuid.NewString,
		nowF:      time.Now,
	}
}

// Route persists the event in exactly one store and returns the stored
// record for broadcasting. The event must already be validated; an unknown
// kind here means a caller bug and is still rejected without a store call.
func (r *Router) Route(ctx context.Context, ev *event.Event) (string, any, error) {
	if !ev.Kind.Valid() {
		return "", nil, &ValidationError{Reason: "unknown kind " + string(ev.Kind)}
	}
	var (
		id     string
		stored any
		err    error
	)
	switch ev.Kind {
	case event.KindSchedule:
		id, stored, err = r.routeSchedule(ctx, ev)
	case event.KindHTTPClient:
		id, stored, err = r.routeHTTPCall(ctx, ev)
	case event.KindCacheOp:
		id, stored, err = r.routeCacheOp(ctx, ev)
	case event.KindSession:
		id, stored, err = r.routeSession(ctx, ev)
	default:
		id, stored, err = r.routeGeneric(ctx, ev)
	}
	if err != nil {
		return "", nil, &PersistenceError{Kind: ev.Kind, Err: err}
	}
	return id, stored, nil
}

func (r *Router) routeGeneric(ctx context.Context, ev *event.Event) (string, any, error) {
	pe := &eventsdomain.PersistedEvent{
		ID:        r.idF(),
		TenantID:  tenantPtr(ev),
		Kind:      ev.Kind,
		Payload:   ev.Payload,
		Route:     extractRoute(ev),
		Status:    extractStatus(ev),
		CreatedAt: r.nowF(),
	}
	if err := r.events.Save(ctx, pe); err != nil {
		return "", nil, err
	}
	return pe.ID, pe, nil
}

func (r *Router) routeSchedule(ctx context.Context, ev *event.Event) (string, any, error) {
	s := &scheduledomain.Schedule{
		ID:             r.idF(),
		TenantID:       tenantPtr(ev),
		JobID:          ev.String("jobId"),
		JobName:        ev.String("jobName"),
		CronExpression: strPtr(ev.String("cronExpression")),
		Status:         ev.String("status"),
		StartedAt:      timeField(ev, "startedAt"),
		CompletedAt:    timeField(ev, "completedAt"),
		DurationMS:     int64Field(ev, "duration"),
		Error:          strPtr(ev.String("error")),
		Result:         mapField(ev, "result"),
		CreatedAt:      r.nowF(),
	}
	if err := r.schedules.Save(ctx, s); err != nil {
		return "", nil, err
	}
	return s.ID, s, nil
}

func (r *Router) routeHTTPCall(ctx context.Context, ev *event.Event) (string, any, error) {
	c := &httpcalldomain.HTTPCall{
		ID:           r.idF(),
		TenantID:     tenantPtr(ev),
		Method:       ev.String("method"),
		URL:          ev.String("url"),
		RequestBody:  mapField(ev, "requestBody"),
		ResponseBody: mapField(ev, "responseBody"),
		Error:        strPtr(ev.String("error")),
		CreatedAt:    r.nowF(),
	}
	if v, ok := ev.Int("statusCode"); ok {
		c.StatusCode = &v
	}
	if d := int64Field(ev, "duration"); d != nil {
		c.DurationMS = *d
	}
	if err := r.httpCalls.Save(ctx, c); err != nil {
		return "", nil, err
	}
	return c.ID, c, nil
}

func (r *Router) routeCacheOp(ctx context.Context, ev *event.Event) (string, any, error) {
	op := &cacheopdomain.CacheOp{
		ID:         r.idF(),
		TenantID:   tenantPtr(ev),
		Command:    ev.String("command"),
		Key:        strPtr(ev.String("key")),
		DurationMS: int64Field(ev, "duration"),
		Error:      strPtr(ev.String("error")),
		CreatedAt:  r.nowF(),
	}
	if v, ok := ev.Int("db"); ok {
		op.DBIndex = &v
	}
	if err := r.cacheOps.Save(ctx, op); err != nil {
		return "", nil, err
	}
	return op.ID, op, nil
}

func (r *Router) routeSession(ctx context.Context, ev *event.Event) (string, any, error) {
	s := &sessiondomain.Session{
		ID:          r.idF(),
		TenantID:    tenantPtr(ev),
		SessionID:   ev.String("sessionId"),
		Action:      ev.String("action"),
		UserID:      strPtr(ev.String("userId")),
		SessionData: mapField(ev, "sessionData"),
		CreatedAt:   r.nowF(),
	}
	if err := r.sessions.Save(ctx, s); err != nil {
		return "", nil, err
	}
	return s.ID, s, nil
}

// extractRoute pulls the route out of request and exception payloads so the
// query layer can filter without scanning JSONB. The explicit route field
// wins over the raw URL.
func extractRoute(ev *event.Event) *string {
	if ev.Kind != event.KindRequest && ev.Kind != event.KindException {
		return nil
	}
	if route := ev.String("route"); route != "" {
		return &route
	}
	return strPtr(ev.String("url"))
}

func extractStatus(ev *event.Event) *int {
	if ev.Kind != event.KindRequest && ev.Kind != event.KindException {
		return nil
	}
	if v, ok := ev.Int("statusCode"); ok {
		return &v
	}
	return nil
}

func tenantPtr(ev *event.Event) *string {
	return strPtr(ev.Tenant)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapField(ev *event.Event, key string) map[string]any {
	m, _ := ev.Payload[key].(map[string]any)
	return m
}

func int64Field(ev *event.Event, key string) *int64 {
	if v, ok := ev.Int(key); ok {
		n := int64(v)
		return &n
	}
	return nil
}

// timeField parses an RFC 3339 payload field. Producer timestamps arrive as
// JSON strings; anything unparseable is treated as absent.
func timeField(ev *event.Event, key string) *time.Time {
	s := ev.String(key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

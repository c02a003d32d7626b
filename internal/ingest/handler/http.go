// Package handler exposes the collector's HTTP API: the ingest endpoint
// agents post to and the query endpoints the dashboard reads.
package handler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	cacheoprepo "devlens/internal/cacheop/repository"
	"devlens/internal/event"
	eventsdomain "devlens/internal/events/domain"
	eventsrepo "devlens/internal/events/repository"
	httpcallrepo "devlens/internal/httpcall/repository"
	"devlens/internal/ingest"
	schedulerepo "devlens/internal/schedule/repository"
	sessionrepo "devlens/internal/session/repository"
)

// exportLimit caps export queries so one request cannot drag the whole
// table through the connection.
const exportLimit = 10000

// IngestResponse is the envelope returned by POST /ingest. Pipeline
// failures report success=false with HTTP 200; only transport-level
// problems (bad JSON, bad key) use error status codes.
type IngestResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler holds the service and read-side repositories behind the HTTP API.
type Handler struct {
	svc       *ingest.Service
	events    eventsrepo.Repository
	schedules schedulerepo.Repository
	httpCalls httpcallrepo.Repository
	cacheOps  cacheoprepo.Repository
	sessions  sessionrepo.Repository

	apiKey string
	nowF   func() time.Time
	// replayClient performs the outbound request when a stored request
	// event is replayed.
	replayClient *http.Client
}

func New(
	svc *ingest.Service,
	events eventsrepo.Repository,
	schedules schedulerepo.Repository,
	httpCalls httpcallrepo.Repository,
	cacheOps cacheoprepo.Repository,
	sessions sessionrepo.Repository,
	apiKey string,
) *Handler {
	return &Handler{
		svc:       svc,
		events:    events,
		schedules: schedules,
		httpCalls: httpCalls,
		cacheOps:  cacheOps,
		sessions:  sessions,
		apiKey:       apiKey,
		nowF:         time.Now,
		replayClient: &http.Client{Timeout: replayTimeout},
	}
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("GET /events", h.handleListEvents)
	mux.HandleFunc("GET /events/{id}", h.handleGetEvent)
	mux.HandleFunc("GET /events/stats/summary", h.handleStats)
	mux.HandleFunc("GET /events/metrics/slowest-routes", h.handleSlowestRoutes)
	mux.HandleFunc("GET /events/metrics/status-distribution", h.handleStatusDistribution)
	mux.HandleFunc("GET /events/export/csv", h.handleExportCSV)
	mux.HandleFunc("GET /events/export/json", h.handleExportJSON)
	mux.HandleFunc("GET /schedules", h.handleListSchedules)
	mux.HandleFunc("GET /schedules/{id}", h.handleGetSchedule)
	mux.HandleFunc("GET /http-calls", h.handleListHTTPCalls)
	mux.HandleFunc("GET /http-calls/{id}", h.handleGetHTTPCall)
	mux.HandleFunc("GET /cache-ops", h.handleListCacheOps)
	mux.HandleFunc("GET /cache-ops/{id}", h.handleGetCacheOp)
	mux.HandleFunc("GET /sessions", h.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", h.handleGetSession)
	mux.HandleFunc("POST /replay/{id}", h.handleReplay)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if h.apiKey != "" && r.Header.Get("x-api-key") != h.apiKey {
		writeJSON(w, http.StatusUnauthorized, IngestResponse{Success: false, Error: "invalid API key"})
		return
	}
	var ev event.Event
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, IngestResponse{Success: false, Error: "malformed JSON body"})
		return
	}
	id, err := h.svc.Ingest(r.Context(), &ev)
	if err != nil {
		var perr *ingest.PersistenceError
		if errors.As(err, &perr) {
			log.Printf("ingest: %v", err)
		}
		writeJSON(w, http.StatusOK, IngestResponse{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{Success: true, EventID: id})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f, p, err := parseEventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, meta, err := h.events.Query(r.Context(), f, p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if data == nil {
		data = []*eventsdomain.PersistedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "meta": meta})
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if ev == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.events.Stats(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSlowestRoutes(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 10)
	routes, err := h.events.SlowestRoutes(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if routes == nil {
		routes = []eventsdomain.RouteTiming{}
	}
	writeJSON(w, http.StatusOK, routes)
}

func (h *Handler) handleStatusDistribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.events.StatusDistribution(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if dist == nil {
		dist = []eventsdomain.StatusCount{}
	}
	writeJSON(w, http.StatusOK, dist)
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	data, err := h.exportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="devlens-events-%d.csv"`, h.nowF().UnixMilli()))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ID", "Kind", "Route", "Status", "Duration", "Created At"})
	for _, ev := range data {
		route, status, duration := "", "", ""
		if ev.Route != nil {
			route = *ev.Route
		}
		if ev.Status != nil {
			status = strconv.Itoa(*ev.Status)
		}
		if d, ok := ev.Payload["duration"].(float64); ok {
			duration = strconv.FormatFloat(d, 'f', -1, 64)
		}
		_ = cw.Write([]string{
			ev.ID, string(ev.Kind), route, status, duration,
			ev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
}

func (h *Handler) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	data, err := h.exportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="devlens-events-%d.json"`, h.nowF().UnixMilli()))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (h *Handler) exportQuery(r *http.Request) ([]*eventsdomain.PersistedEvent, error) {
	f, _, err := parseEventQuery(r)
	if err != nil {
		return nil, err
	}
	data, _, err := h.events.Query(r.Context(), f, eventsdomain.Page{Page: 1, Limit: exportLimit})
	if err != nil {
		return nil, errors.New("query failed")
	}
	if data == nil {
		data = []*eventsdomain.PersistedEvent{}
	}
	return data, nil
}

func (h *Handler) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	tenant, limit, offset := listParams(r)
	out, err := h.schedules.List(r.Context(), tenant, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeList(w, out)
}

func (h *Handler) handleListHTTPCalls(w http.ResponseWriter, r *http.Request) {
	tenant, limit, offset := listParams(r)
	out, err := h.httpCalls.List(r.Context(), tenant, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeList(w, out)
}

func (h *Handler) handleListCacheOps(w http.ResponseWriter, r *http.Request) {
	tenant, limit, offset := listParams(r)
	out, err := h.cacheOps.List(r.Context(), tenant, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeList(w, out)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	tenant, limit, offset := listParams(r)
	out, err := h.sessions.List(r.Context(), tenant, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeList(w, out)
}

func (h *Handler) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	out, err := h.schedules.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if out == nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetHTTPCall(w http.ResponseWriter, r *http.Request) {
	out, err := h.httpCalls.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if out == nil {
		writeError(w, http.StatusNotFound, "http call not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetCacheOp(w http.ResponseWriter, r *http.Request) {
	out, err := h.cacheOps.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if out == nil {
		writeError(w, http.StatusNotFound, "cache operation not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	out, err := h.sessions.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if out == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseEventQuery(r *http.Request) (eventsdomain.Filter, eventsdomain.Page, error) {
	q := r.URL.Query()
	f := eventsdomain.Filter{
		TenantID: q.Get("tenant"),
		Route:    q.Get("route"),
		Method:   q.Get("method"),
		Search:   q.Get("search"),
	}
	if kinds := q.Get("type"); kinds != "" {
		for _, s := range strings.Split(kinds, ",") {
			k, err := event.ParseKind(strings.TrimSpace(s))
			if err != nil {
				return f, eventsdomain.Page{}, fmt.Errorf("unknown event type %q", s)
			}
			f.Kinds = append(f.Kinds, k)
		}
	}
	if s := q.Get("status"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return f, eventsdomain.Page{}, errors.New("status must be an integer")
		}
		f.Status = v
	}
	var err error
	if f.From, err = timeParam(q.Get("from")); err != nil {
		return f, eventsdomain.Page{}, errors.New("from must be RFC 3339")
	}
	if f.To, err = timeParam(q.Get("to")); err != nil {
		return f, eventsdomain.Page{}, errors.New("to must be RFC 3339")
	}
	p := eventsdomain.Page{
		Page:  intParam(r, "page", 1),
		Limit: intParam(r, "limit", 50),
	}
	return f, p, nil
}

func timeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func intParam(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func listParams(r *http.Request) (tenant string, limit, offset int32) {
	q := r.URL.Query()
	tenant = q.Get("tenant")
	limit = int32(intParam(r, "limit", 50))
	offset = 0
	if s := q.Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			offset = int32(v)
		}
	}
	return tenant, limit, offset
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handler: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cacheopdomain "devlens/internal/cacheop/domain"
	"devlens/internal/event"
	eventsdomain "devlens/internal/events/domain"
	httpcalldomain "devlens/internal/httpcall/domain"
	"devlens/internal/ingest"
	scheduledomain "devlens/internal/schedule/domain"
	sessiondomain "devlens/internal/session/domain"
)

type memEventsRepo struct {
	byID  map[string]*eventsdomain.PersistedEvent
	saved []*eventsdomain.PersistedEvent
}

func newMemEventsRepo() *memEventsRepo {
	return &memEventsRepo{byID: map[string]*eventsdomain.PersistedEvent{}}
}

func (m *memEventsRepo) Save(_ context.Context, e *eventsdomain.PersistedEvent) error {
	m.saved = append(m.saved, e)
	m.byID[e.ID] = e
	return nil
}

func (m *memEventsRepo) GetByID(_ context.Context, id string) (*eventsdomain.PersistedEvent, error) {
	return m.byID[id], nil
}

func (m *memEventsRepo) Query(context.Context, eventsdomain.Filter, eventsdomain.Page) ([]*eventsdomain.PersistedEvent, eventsdomain.Meta, error) {
	return m.saved, eventsdomain.Meta{Total: len(m.saved), Page: 1, Limit: 50, TotalPages: 1}, nil
}

func (m *memEventsRepo) Stats(context.Context, string) (*eventsdomain.Stats, error) {
	return &eventsdomain.Stats{TotalEvents: len(m.saved)}, nil
}

func (m *memEventsRepo) SlowestRoutes(context.Context, int) ([]eventsdomain.RouteTiming, error) {
	return nil, nil
}

func (m *memEventsRepo) StatusDistribution(context.Context) ([]eventsdomain.StatusCount, error) {
	return nil, nil
}

func (m *memEventsRepo) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type stubScheduleRepo struct{ rec *scheduledomain.Schedule }

func (stubScheduleRepo) Save(context.Context, *scheduledomain.Schedule) error { return nil }
func (s stubScheduleRepo) GetByID(_ context.Context, id string) (*scheduledomain.Schedule, error) {
	if s.rec != nil && s.rec.ID == id {
		return s.rec, nil
	}
	return nil, nil
}
func (stubScheduleRepo) List(context.Context, string, int32, int32) ([]*scheduledomain.Schedule, error) {
	return nil, nil
}

type stubHTTPCallRepo struct{ rec *httpcalldomain.HTTPCall }

func (stubHTTPCallRepo) Save(context.Context, *httpcalldomain.HTTPCall) error { return nil }
func (s stubHTTPCallRepo) GetByID(_ context.Context, id string) (*httpcalldomain.HTTPCall, error) {
	if s.rec != nil && s.rec.ID == id {
		return s.rec, nil
	}
	return nil, nil
}
func (stubHTTPCallRepo) List(context.Context, string, int32, int32) ([]*httpcalldomain.HTTPCall, error) {
	return nil, nil
}

type stubCacheOpRepo struct{ rec *cacheopdomain.CacheOp }

func (stubCacheOpRepo) Save(context.Context, *cacheopdomain.CacheOp) error { return nil }
func (s stubCacheOpRepo) GetByID(_ context.Context, id string) (*cacheopdomain.CacheOp, error) {
	if s.rec != nil && s.rec.ID == id {
		return s.rec, nil
	}
	return nil, nil
}
func (stubCacheOpRepo) List(context.Context, string, int32, int32) ([]*cacheopdomain.CacheOp, error) {
	return nil, nil
}

type stubSessionRepo struct{ rec *sessiondomain.Session }

func (stubSessionRepo) Save(context.Context, *sessiondomain.Session) error { return nil }
func (s stubSessionRepo) GetByID(_ context.Context, id string) (*sessiondomain.Session, error) {
	if s.rec != nil && s.rec.ID == id {
		return s.rec, nil
	}
	return nil, nil
}
func (stubSessionRepo) List(context.Context, string, int32, int32) ([]*sessiondomain.Session, error) {
	return nil, nil
}

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *memEventsRepo) {
	t.Helper()
	events := newMemEventsRepo()
	router := ingest.NewRouter(events, stubScheduleRepo{}, stubHTTPCallRepo{}, stubCacheOpRepo{}, stubSessionRepo{})
	svc := ingest.NewService(router, nil, nil)
	h := New(svc, events, stubScheduleRepo{}, stubHTTPCallRepo{}, stubCacheOpRepo{}, stubSessionRepo{}, apiKey)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, events
}

func newSeededServer(
	t *testing.T,
	schedules stubScheduleRepo,
	httpCalls stubHTTPCallRepo,
	cacheOps stubCacheOpRepo,
	sessions stubSessionRepo,
) (*httptest.Server, *memEventsRepo) {
	t.Helper()
	events := newMemEventsRepo()
	router := ingest.NewRouter(events, schedules, httpCalls, cacheOps, sessions)
	svc := ingest.NewService(router, nil, nil)
	h := New(svc, events, schedules, httpCalls, cacheOps, sessions, "")
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, events
}

func strPtr(s string) *string { return &s }

func postIngest(t *testing.T, srv *httptest.Server, apiKey, body string) (*http.Response, IngestResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/ingest", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp, out
}

func TestIngestEndpoint(t *testing.T) {
	srv, events := newTestServer(t, "secret")

	body := `{"kind":"request","payload":{"method":"GET","url":"/x","statusCode":200}}`
	resp, out := postIngest(t, srv, "secret", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	if !out.Success || out.EventID == "" {
		t.Fatalf("want success with id, got %+v", out)
	}
	if len(events.saved) != 1 {
		t.Fatalf("want 1 stored event, got %d", len(events.saved))
	}
}

func TestIngestRejectsBadAPIKey(t *testing.T) {
	srv, events := newTestServer(t, "secret")
	resp, out := postIngest(t, srv, "wrong", `{"kind":"log","payload":{"level":"info","message":"m"}}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	if out.Success {
		t.Fatal("want success=false")
	}
	if len(events.saved) != 0 {
		t.Fatal("unauthorized request must not store anything")
	}
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	resp, out := postIngest(t, srv, "secret", `{"kind":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
	if out.Success || out.Error == "" {
		t.Fatalf("want error envelope, got %+v", out)
	}
}

func TestIngestFailureKeepsTransportSuccess(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, out := postIngest(t, srv, "", `{"kind":"wat","payload":{"x":1}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pipeline failures ride HTTP 200, got %d", resp.StatusCode)
	}
	if out.Success || out.Error == "" {
		t.Fatalf("want success=false with error, got %+v", out)
	}
}

func TestListEvents(t *testing.T) {
	srv, _ := newTestServer(t, "")
	postIngest(t, srv, "", `{"kind":"log","payload":{"level":"info","message":"hello"}}`)

	resp, err := srv.Client().Get(srv.URL + "/events?type=log&page=1&limit=10")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var out struct {
		Data []eventsdomain.PersistedEvent `json:"data"`
		Meta eventsdomain.Meta             `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != 1 || out.Meta.Total != 1 {
		t.Fatalf("want one event, got %+v", out)
	}
}

func TestListEventsRejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := srv.Client().Get(srv.URL + "/events?type=nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestGetEventNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := srv.Client().Get(srv.URL + "/events/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
}

func TestExportCSV(t *testing.T) {
	srv, _ := newTestServer(t, "")
	postIngest(t, srv, "", `{"kind":"request","payload":{"method":"GET","url":"/a","statusCode":200,"duration":42}}`)

	resp, err := srv.Client().Get(srv.URL + "/events/export/csv")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("want text/csv, got %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("want attachment disposition, got %q", cd)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 {
		t.Fatalf("want header plus one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ID,Kind,Route,Status,Duration") {
		t.Fatalf("unexpected csv header %q", lines[0])
	}
	if !strings.Contains(lines[1], "/a") || !strings.Contains(lines[1], "42") {
		t.Fatalf("unexpected csv row %q", lines[1])
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestListSchedulesEmpty(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := srv.Client().Get(srv.URL + "/schedules")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Data []scheduledomain.Schedule `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Data == nil {
		t.Fatal("empty list must serialize as [], not null")
	}
}

func TestGetKindRecordByID(t *testing.T) {
	srv, _ := newSeededServer(t,
		stubScheduleRepo{rec: &scheduledomain.Schedule{ID: "sch1", JobID: "j1", JobName: "nightly", Status: "completed"}},
		stubHTTPCallRepo{rec: &httpcalldomain.HTTPCall{ID: "hc1", Method: "GET", URL: "http://api.example/x"}},
		stubCacheOpRepo{rec: &cacheopdomain.CacheOp{ID: "co1", Command: "GET", Key: strPtr("user:1")}},
		stubSessionRepo{rec: &sessiondomain.Session{ID: "se1", SessionID: "s-9", Action: "created"}},
	)

	cases := []struct{ path, wantID string }{
		{"/schedules/sch1", "sch1"},
		{"/http-calls/hc1", "hc1"},
		{"/cache-ops/co1", "co1"},
		{"/sessions/se1", "se1"},
	}
	for _, c := range cases {
		resp, err := srv.Client().Get(srv.URL + c.path)
		if err != nil {
			t.Fatal(err)
		}
		var out struct {
			ID string `json:"id"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("GET %s: %v", c.path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: want 200, got %d", c.path, resp.StatusCode)
		}
		if out.ID != c.wantID {
			t.Errorf("GET %s: want id %q, got %q", c.path, c.wantID, out.ID)
		}
	}

	for _, path := range []string{"/schedules/nope", "/http-calls/nope", "/cache-ops/nope", "/sessions/nope"} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: want 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestReplayRequestEvent(t *testing.T) {
	var gotMethod, gotCustom, gotHost string
	var gotBody []byte
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCustom = r.Header.Get("x-custom")
		gotHost = r.Host
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer target.Close()

	srv, events := newSeededServer(t, stubScheduleRepo{}, stubHTTPCallRepo{}, stubCacheOpRepo{}, stubSessionRepo{})
	events.byID["ev1"] = &eventsdomain.PersistedEvent{
		ID:   "ev1",
		Kind: event.KindRequest,
		Payload: map[string]any{
			"method": "POST",
			"url":    target.URL + "/orders",
			"headers": map[string]any{
				"Host":           "original.example",
				"Content-Length": "999",
				"X-Custom":       "1",
			},
			"body": map[string]any{"a": float64(1)},
		},
	}

	resp, err := srv.Client().Post(srv.URL+"/replay/ev1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var out ReplayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	if out.Original.EventID != "ev1" || out.Original.Method != "POST" {
		t.Fatalf("unexpected original: %+v", out.Original)
	}
	if out.Replay == nil || out.Replay.Status != http.StatusOK {
		t.Fatalf("unexpected replay result: %+v", out.Replay)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("target saw method %q", gotMethod)
	}
	if gotCustom != "1" {
		t.Errorf("custom header not forwarded, got %q", gotCustom)
	}
	if gotHost == "original.example" {
		t.Error("recorded host header must not carry over to the target")
	}
	if string(gotBody) != `{"a":1}` {
		t.Errorf("target saw body %q", gotBody)
	}
}

func TestReplayTargetOverride(t *testing.T) {
	var gotPath string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	srv, events := newSeededServer(t, stubScheduleRepo{}, stubHTTPCallRepo{}, stubCacheOpRepo{}, stubSessionRepo{})
	events.byID["ev1"] = &eventsdomain.PersistedEvent{
		ID:      "ev1",
		Kind:    event.KindRequest,
		Payload: map[string]any{"method": "GET", "url": "http://127.0.0.1:1/orig"},
	}

	body := strings.NewReader(`{"targetUrl":"` + target.URL + `/override"}`)
	resp, err := srv.Client().Post(srv.URL+"/replay/ev1", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out ReplayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("want success, got %+v", out)
	}
	if out.Replay == nil || out.Replay.TargetURL != target.URL+"/override" {
		t.Fatalf("unexpected replay result: %+v", out.Replay)
	}
	if gotPath != "/override" {
		t.Errorf("target saw path %q", gotPath)
	}
}

func TestReplayOnlyRequestEvents(t *testing.T) {
	srv, events := newSeededServer(t, stubScheduleRepo{}, stubHTTPCallRepo{}, stubCacheOpRepo{}, stubSessionRepo{})
	events.byID["log1"] = &eventsdomain.PersistedEvent{
		ID:      "log1",
		Kind:    event.KindLog,
		Payload: map[string]any{"level": "info", "message": "m"},
	}

	for _, id := range []string{"log1", "missing"} {
		resp, err := srv.Client().Post(srv.URL+"/replay/"+id, "application/json", nil)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("replay %s: want 404, got %d", id, resp.StatusCode)
		}
	}
}

func TestReplayUnreachableTargetReportsFailure(t *testing.T) {
	srv, events := newSeededServer(t, stubScheduleRepo{}, stubHTTPCallRepo{}, stubCacheOpRepo{}, stubSessionRepo{})
	events.byID["ev1"] = &eventsdomain.PersistedEvent{
		ID:      "ev1",
		Kind:    event.KindRequest,
		Payload: map[string]any{"method": "GET", "url": "http://127.0.0.1:1/"},
	}

	resp, err := srv.Client().Post(srv.URL+"/replay/ev1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("outbound failures ride HTTP 200, got %d", resp.StatusCode)
	}
	var out ReplayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Error == "" {
		t.Fatalf("want failure envelope, got %+v", out)
	}
	if out.Original.EventID != "ev1" {
		t.Fatalf("unexpected original: %+v", out.Original)
	}
}

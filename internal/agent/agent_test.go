package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"devlens/internal/event"
	"devlens/internal/sanitize"
)

// fakeTransport scripts Send outcomes: it fails until failures is exhausted,
// then succeeds. All calls and their events are recorded.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	calls    int
	events   []event.Event
}

func (f *fakeTransport) Send(ctx context.Context, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.events = append(f.events, ev)
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return errors.New("transport down")
	}
	return nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// newTestClient builds an enabled client with an instant sleep and the given
// scripted transport.
func newTestClient(t *testing.T, cfg Config, tr transport) *Client {
	t.Helper()
	cfg.Enabled = true
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://collector.local"
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.transport = tr
	c.sleep = func(time.Duration) {}
	return c
}

func TestNewClient_ConfigValidation(t *testing.T) {
	_, err := NewClient(Config{Enabled: true})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}

	// Disabled clients need no backend URL.
	if _, err := NewClient(Config{}); err != nil {
		t.Fatalf("disabled client: %v", err)
	}

	if _, err := NewClient(Config{Enabled: true, BackendURL: "http://x", MaxRetries: -1}); err == nil {
		t.Fatal("negative MaxRetries accepted")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{Enabled: true, BackendURL: "http://x"})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v", c.cfg.Timeout)
	}
	if c.cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d", c.cfg.MaxRetries)
	}
	if c.cfg.MaxBufferSize != DefaultMaxBufferSize {
		t.Errorf("MaxBufferSize = %d", c.cfg.MaxBufferSize)
	}
	if c.cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Errorf("MaxPayloadBytes = %d", c.cfg.MaxPayloadBytes)
	}
	if len(c.cfg.SensitiveFields) != len(sanitize.DefaultSensitiveFields()) {
		t.Errorf("SensitiveFields = %v", c.cfg.SensitiveFields)
	}
}

func TestCapture_DisabledPerformsNoWork(t *testing.T) {
	tr := &fakeTransport{}
	c, err := NewClient(Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	c.transport = tr

	c.Capture(event.KindRequest, map[string]any{"method": "GET", "url": "/"})
	c.Close()

	if tr.callCount() != 0 {
		t.Fatalf("transport called %d times", tr.callCount())
	}
	if size, _ := c.BufferStats(); size != 0 {
		t.Fatalf("buffer size = %d", size)
	}
}

func TestCapture_DisabledKindIsGated(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, Config{DisabledKinds: []event.Kind{event.KindQuery}}, tr)

	c.Capture(event.KindQuery, map[string]any{"query": "SELECT 1"})
	c.Close()
	if tr.callCount() != 0 {
		t.Fatalf("gated kind reached transport (%d calls)", tr.callCount())
	}

	c.Capture(event.KindLog, map[string]any{"level": "log", "message": "hi"})
	c.Close()
	if tr.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", tr.callCount())
	}
}

func TestCapture_RetriesThenSucceeds(t *testing.T) {
	tr := &fakeTransport{failures: 2}
	c := newTestClient(t, Config{MaxRetries: 3, EnableBuffer: true}, tr)

	c.Capture(event.KindRequest, map[string]any{"method": "GET", "url": "/a"})
	c.Close()

	if tr.callCount() != 3 {
		t.Fatalf("calls = %d, want exactly 3", tr.callCount())
	}
	if size, _ := c.BufferStats(); size != 0 {
		t.Fatalf("buffer size = %d, want 0 after eventual success", size)
	}
}

func TestCapture_ExhaustedRetriesBufferWithEviction(t *testing.T) {
	tr := &fakeTransport{failures: -1} // always fails
	c := newTestClient(t, Config{MaxRetries: 1, EnableBuffer: true, MaxBufferSize: 2}, tr)

	for i, msg := range []string{"first", "second", "third"} {
		c.Capture(event.KindLog, map[string]any{"level": "log", "message": msg})
		// Serialize deliveries so eviction order is deterministic.
		c.wg.Wait()
		if size, _ := c.BufferStats(); size > 2 {
			t.Fatalf("after capture %d: buffer size %d exceeds capacity", i+1, size)
		}
	}

	c.mu.Lock()
	entries := c.buf.drain()
	c.mu.Unlock()
	if len(entries) != 2 {
		t.Fatalf("buffered = %d, want 2", len(entries))
	}
	if entries[0].event.Payload["message"] != "second" || entries[1].event.Payload["message"] != "third" {
		t.Fatalf("retained wrong events: %v, %v",
			entries[0].event.Payload["message"], entries[1].event.Payload["message"])
	}
}

func TestCapture_ExhaustedRetriesDropsWithoutBuffer(t *testing.T) {
	tr := &fakeTransport{failures: -1}
	c := newTestClient(t, Config{MaxRetries: 2, EnableBuffer: false}, tr)

	c.Capture(event.KindLog, map[string]any{"level": "log", "message": "gone"})
	c.Close()

	if tr.callCount() != 2 {
		t.Fatalf("calls = %d, want 2", tr.callCount())
	}
	if size, _ := c.BufferStats(); size != 0 {
		t.Fatalf("buffer size = %d, want 0", size)
	}
}

func TestCapture_BackoffIsExponential(t *testing.T) {
	tr := &fakeTransport{failures: -1}
	c := newTestClient(t, Config{MaxRetries: 4}, tr)

	var mu sync.Mutex
	var waits []time.Duration
	c.sleep = func(d time.Duration) {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
	}
	c.backoffBase = time.Millisecond

	c.Capture(event.KindLog, map[string]any{"level": "log", "message": "x"})
	c.Close()

	want := []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	mu.Lock()
	defer mu.Unlock()
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
		if i > 0 && waits[i] <= waits[i-1] {
			t.Errorf("backoff not strictly increasing at %d: %v", i, waits)
		}
	}
}

func TestCapture_SanitizesBeforeSend(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, Config{}, tr)

	c.Capture(event.KindRequest, map[string]any{
		"method":   "POST",
		"url":      "/login",
		"password": "hunter2",
		"body":     map[string]any{"access_token": "abc"},
	})
	c.Close()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.events) != 1 {
		t.Fatalf("events = %d", len(tr.events))
	}
	p := tr.events[0].Payload
	if p["password"] != sanitize.Redacted {
		t.Errorf("password = %v", p["password"])
	}
	if p["body"].(map[string]any)["access_token"] != sanitize.Redacted {
		t.Errorf("nested token not redacted: %v", p["body"])
	}
	if p["method"] != "POST" {
		t.Errorf("method = %v", p["method"])
	}
}

func TestCapture_NeverPanics(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestClient(t, Config{}, tr)

	// A payload json.Marshal rejects outright.
	c.Capture(event.KindLog, map[string]any{"ch": make(chan int), "level": "log", "message": "x"})
	// A self-referential payload.
	cyclic := map[string]any{"level": "log", "message": "y"}
	cyclic["self"] = cyclic
	c.Capture(event.KindLog, cyclic)
	c.Close()
}

func TestFlush_RedeliversBufferedEvents(t *testing.T) {
	tr := &fakeTransport{failures: -1}
	c := newTestClient(t, Config{MaxRetries: 1, EnableBuffer: true, MaxBufferSize: 5}, tr)

	for i := 0; i < 3; i++ {
		c.Capture(event.KindLog, map[string]any{"level": "log", "message": "m"})
	}
	c.wg.Wait()
	if size, _ := c.BufferStats(); size != 3 {
		t.Fatalf("buffered = %d, want 3", size)
	}

	// Transport recovers; a single flush pass drains everything.
	tr.mu.Lock()
	tr.failures = 0
	tr.mu.Unlock()
	c.Flush()

	if size, _ := c.BufferStats(); size != 0 {
		t.Fatalf("buffered after flush = %d, want 0", size)
	}
}

func TestFlush_FailuresReenqueueBounded(t *testing.T) {
	tr := &fakeTransport{failures: -1}
	c := newTestClient(t, Config{MaxRetries: 1, EnableBuffer: true, MaxBufferSize: 2}, tr)

	c.Capture(event.KindLog, map[string]any{"level": "log", "message": "a"})
	c.Capture(event.KindLog, map[string]any{"level": "log", "message": "b"})
	c.wg.Wait()

	before := tr.callCount()
	c.Flush() // still failing: one attempt per event, both re-enqueued
	if got := tr.callCount() - before; got != 2 {
		t.Fatalf("flush attempts = %d, want 2", got)
	}
	if size, _ := c.BufferStats(); size != 2 {
		t.Fatalf("buffered = %d, want 2", size)
	}
}

func TestCaptureAndFlush_ConcurrentKeepBound(t *testing.T) {
	tr := &fakeTransport{failures: -1}
	c := newTestClient(t, Config{MaxRetries: 1, EnableBuffer: true, MaxBufferSize: 8}, tr)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Capture(event.KindLog, map[string]any{"level": "log", "message": "m"})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			c.Flush()
		}
	}()
	wg.Wait()
	c.Close()

	if size, _ := c.BufferStats(); size > 8 {
		t.Fatalf("buffer size %d exceeds capacity 8", size)
	}
}

func TestHTTPTransport_PostsToIngest(t *testing.T) {
	var gotPath, gotKey, gotType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotKey.Store(r.Header.Get("x-api-key"))
		gotType.Store(r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Enabled: true, BackendURL: srv.URL, APIKey: "k123"})
	if err != nil {
		t.Fatal(err)
	}
	c.Capture(event.KindRequest, map[string]any{"method": "GET", "url": "/x"})
	c.Close()

	if gotPath.Load() != "/ingest" {
		t.Errorf("path = %v", gotPath.Load())
	}
	if gotKey.Load() != "k123" {
		t.Errorf("api key = %v", gotKey.Load())
	}
	if gotType.Load() != "application/json" {
		t.Errorf("content type = %v", gotType.Load())
	}
}

func TestHTTPTransport_Non2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := &httpTransport{baseURL: srv.URL, apiKey: "", client: srv.Client()}
	err := tr.Send(context.Background(), event.Event{Kind: event.KindLog, Payload: map[string]any{"level": "log", "message": "x"}})
	if err == nil {
		t.Fatal("expected error on 502")
	}
}

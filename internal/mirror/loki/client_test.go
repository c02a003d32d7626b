package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushEvent(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding push body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ts := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	err := PushEvent(context.Background(), srv.URL, ts, `{"kind":"log"}`, map[string]string{
		"kind":   "log",
		"tenant": "acme corp", // space must be sanitized
	})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("want 1 stream, got %d", len(got.Streams))
	}
	stream := got.Streams[0]
	if stream.Stream["job"] != "devlens" {
		t.Errorf("job label = %q", stream.Stream["job"])
	}
	if stream.Stream["tenant"] != "acme_corp" {
		t.Errorf("tenant label not sanitized: %q", stream.Stream["tenant"])
	}
	if len(stream.Values) != 1 || len(stream.Values[0]) != 2 {
		t.Fatalf("unexpected values %v", stream.Values)
	}
}

func TestPushEventJSON_ParsesLabels(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	raw := []byte(`{"kind":"request","tenant":"acme","timestamp":"2026-09-01T10:00:00Z","payload":{"method":"GET"}}`)
	if err := PushEventJSON(context.Background(), srv.URL, raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	stream := got.Streams[0]
	if stream.Stream["kind"] != "request" || stream.Stream["tenant"] != "acme" {
		t.Errorf("labels = %v", stream.Stream)
	}
	if stream.Values[0][0] != "1788256800000000000" {
		t.Errorf("timestamp ns = %q", stream.Values[0][0])
	}
}

func TestPushEvent_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := PushEvent(context.Background(), srv.URL, time.Now(), "x", nil); err == nil {
		t.Fatal("want error on 500")
	}
}

func TestPushEvent_EmptyBaseURL(t *testing.T) {
	if err := PushEvent(context.Background(), "", time.Now(), "x", nil); err == nil {
		t.Fatal("want error for empty base URL")
	}
}

package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"devlens/internal/event"
)

// replayTimeout bounds the outbound request of a replay.
const replayTimeout = 10 * time.Second

// replayBodyLimit caps how much of the target's response is echoed back.
const replayBodyLimit = 1 << 20

// ReplayRequest is the optional body of POST /replay/{id}. TargetURL
// overrides the URL recorded on the original event.
type ReplayRequest struct {
	TargetURL string `json:"targetUrl"`
}

// ReplayOriginal identifies the stored request event a replay was built from.
type ReplayOriginal struct {
	EventID string `json:"eventId"`
	Method  string `json:"method"`
	URL     string `json:"url"`
}

// ReplayResult describes the outcome of the outbound request.
type ReplayResult struct {
	TargetURL string `json:"targetUrl"`
	Status    int    `json:"status"`
	Data      any    `json:"data"`
}

// ReplayResponse is the envelope returned by POST /replay/{id}. Outbound
// failures report success=false with HTTP 200, matching the ingest envelope.
type ReplayResponse struct {
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Original ReplayOriginal `json:"original"`
	Replay   *ReplayResult  `json:"replay,omitempty"`
}

// handleReplay re-issues a captured request event against its recorded URL
// or a caller-supplied target. Only request events can be replayed.
func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "malformed JSON body")
			return
		}
	}

	ev, err := h.events.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if ev == nil || ev.Kind != event.KindRequest {
		writeError(w, http.StatusNotFound, "request event not found")
		return
	}

	method, _ := ev.Payload["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	url, _ := ev.Payload["url"].(string)
	original := ReplayOriginal{EventID: ev.ID, Method: method, URL: url}

	target := req.TargetURL
	if target == "" {
		target = url
	}
	if target == "" {
		writeJSON(w, http.StatusOK, ReplayResponse{
			Success: false, Error: "no target URL on event", Original: original,
		})
		return
	}

	out, err := buildReplayRequest(r, method, target, ev.Payload)
	if err != nil {
		writeJSON(w, http.StatusOK, ReplayResponse{
			Success: false, Error: err.Error(), Original: original,
		})
		return
	}
	resp, err := h.replayClient.Do(out)
	if err != nil {
		writeJSON(w, http.StatusOK, ReplayResponse{
			Success: false, Error: err.Error(), Original: original,
		})
		return
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, replayBodyLimit))
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}
	writeJSON(w, http.StatusOK, ReplayResponse{
		Success:  true,
		Original: original,
		Replay:   &ReplayResult{TargetURL: target, Status: resp.StatusCode, Data: data},
	})
}

// buildReplayRequest rebuilds the outbound request from the captured
// payload. Host and Content-Length headers are dropped so they match the
// new target instead of the original one.
func buildReplayRequest(r *http.Request, method, target string, payload map[string]any) (*http.Request, error) {
	var body io.Reader
	if b, ok := payload["body"]; ok && b != nil {
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	out, err := http.NewRequestWithContext(r.Context(), method, target, body)
	if err != nil {
		return nil, err
	}
	if headers, ok := payload["headers"].(map[string]any); ok {
		for name, v := range headers {
			switch strings.ToLower(name) {
			case "host", "content-length":
				continue
			}
			if s, ok := v.(string); ok {
				out.Header.Set(name, s)
			}
		}
	}
	if body != nil && out.Header.Get("Content-Type") == "" {
		out.Header.Set("Content-Type", "application/json")
	}
	return out, nil
}

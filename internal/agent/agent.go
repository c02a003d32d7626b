// Package agent implements the in-process capture client: it sanitizes,
// truncates, and delivers telemetry events to the collector without ever
// blocking or failing the host application.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"devlens/internal/event"
	"devlens/internal/sanitize"
)

// Defaults applied by NewClient when the corresponding Config field is zero.
const (
	DefaultTimeout         = 5 * time.Second
	DefaultMaxRetries      = 3
	DefaultMaxBufferSize   = 100
	DefaultMaxPayloadBytes = 10 * 1024
)

// Capturer is what instrumentation points call. Capture never returns an
// error and never panics; it may be a no-op when capture is disabled for the
// kind.
type Capturer interface {
	Capture(kind event.Kind, payload map[string]any)
}

// Config is supplied by the host application when constructing a Client.
// Invalid combinations fail once at construction; per-call failures are
// contained.
type Config struct {
	// Enabled is the global capture switch. When false, Capture is a no-op.
	Enabled bool
	// BackendURL is the collector base URL (e.g. http://localhost:4000).
	// Required when Enabled.
	BackendURL string
	// APIKey is sent as the x-api-key header on every delivery.
	APIKey string
	// Timeout bounds each outbound send. Zero selects DefaultTimeout.
	Timeout time.Duration
	// MaxRetries is the per-capture send budget. Zero selects
	// DefaultMaxRetries; at least one attempt is always made. Negative
	// values are rejected by NewClient.
	MaxRetries int
	// EnableBuffer keeps undeliverable events in a bounded local buffer for
	// a later Flush instead of dropping them.
	EnableBuffer bool
	// MaxBufferSize is the buffer capacity. Zero selects
	// DefaultMaxBufferSize; negative values are rejected by NewClient.
	MaxBufferSize int
	// SensitiveFields overrides the default redaction set.
	SensitiveFields []string
	// MaxPayloadBytes bounds the serialized payload size. Zero selects
	// DefaultMaxPayloadBytes.
	MaxPayloadBytes int
	// DisabledKinds lists kinds that are gated off individually.
	DisabledKinds []event.Kind
}

// ConfigurationError reports invalid agent configuration. It is returned only
// by NewClient, never by Capture or Flush.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "agent: invalid configuration: " + e.Reason
}

// transport delivers a single event to the collector.
type transport interface {
	Send(ctx context.Context, ev event.Event) error
}

// Client is the reliable-delivery capture client. Safe for concurrent use.
type Client struct {
	cfg       Config
	transport transport
	disabled  map[event.Kind]bool

	mu  sync.Mutex
	buf *buffer

	wg sync.WaitGroup

	// Injectable for tests.
	sleep func(time.Duration)
	nowF  func() time.Time
	// backoffBase scales the exponential wait (2^attempt * backoffBase).
	backoffBase time.Duration
}

var _ Capturer = (*Client)(nil)

// NewClient validates cfg, applies defaults, and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Enabled && strings.TrimSpace(cfg.BackendURL) == "" {
		return nil, &ConfigurationError{Reason: "BackendURL is required when capture is enabled"}
	}
	if cfg.MaxRetries < 0 {
		return nil, &ConfigurationError{Reason: "MaxRetries must not be negative"}
	}
	if cfg.MaxBufferSize < 0 {
		return nil, &ConfigurationError{Reason: "MaxBufferSize must not be negative"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxBufferSize == 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if len(cfg.SensitiveFields) == 0 {
		cfg.SensitiveFields = sanitize.DefaultSensitiveFields()
	}
	disabled := make(map[event.Kind]bool, len(cfg.DisabledKinds))
	for _, k := range cfg.DisabledKinds {
		disabled[k] = true
	}
	return &Client{
		cfg: cfg,
		transport: &httpTransport{
			baseURL: strings.TrimSuffix(cfg.BackendURL, "/"),
			apiKey:  cfg.APIKey,
			client:  &http.Client{Timeout: cfg.Timeout},
		},
		disabled:    disabled,
		buf:         newBuffer(cfg.MaxBufferSize),
		sleep:       time.Sleep,
		nowF:        time.Now,
		backoffBase: time.Second,
	}, nil
}

// Capture records one event and hands it to the delivery path. The network
// send and any backoff happen on a separate goroutine, so Capture adds no
// latency to the instrumented request. Capture never panics: serialization
// and transport failures end in buffering or dropping the event.
func (c *Client) Capture(kind event.Kind, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("agent: capture recovered: %v", r)
		}
	}()

	if !c.cfg.Enabled || c.disabled[kind] {
		return
	}

	ev := event.Event{
		Kind:      kind,
		Timestamp: c.nowF(),
		Payload:   c.preparePayload(payload),
	}

	c.wg.Add(1)
	go c.deliver(ev)
}

// preparePayload applies redaction then the size bound. Truncation can
// degrade the payload to its marked string form; that form is re-wrapped so
// the event keeps a structured payload on the wire.
func (c *Client) preparePayload(payload map[string]any) map[string]any {
	sanitized := sanitize.Sanitize(payload, c.cfg.SensitiveFields)
	bounded := sanitize.Truncate(sanitized, c.cfg.MaxPayloadBytes)
	if m, ok := bounded.(map[string]any); ok || bounded == nil {
		return m
	}
	return map[string]any{"truncated": bounded}
}

// deliver sends ev with retry and exponential backoff, then buffers or drops
// on exhaustion.
func (c *Client) deliver(ev event.Event) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("agent: deliver recovered: %v", r)
		}
	}()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(time.Duration(1<<(attempt-1)) * c.backoffBase)
		}
		if lastErr = c.sendOnce(ev); lastErr == nil {
			return
		}
		if errors.Is(lastErr, errNotSerializable) {
			// Retrying cannot fix a payload that does not serialize.
			log.Printf("agent: dropping unserializable %s event: %v", ev.Kind, lastErr)
			return
		}
	}

	if c.cfg.EnableBuffer {
		c.mu.Lock()
		c.buf.push(ev, c.nowF())
		c.mu.Unlock()
		return
	}
	log.Printf("agent: dropping %s event after %d attempts: %v", ev.Kind, c.cfg.MaxRetries, lastErr)
}

func (c *Client) sendOnce(ev event.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	return c.transport.Send(ctx, ev)
}

// Flush drains the buffer and attempts one send per buffered event, in FIFO
// order. Failed sends re-enter the buffer, which may evict older entries if
// capacity was consumed by concurrent captures in the meantime. No backoff is
// applied; Flush is a best-effort single pass meant for periodic invocation
// or reconnect.
func (c *Client) Flush() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("agent: flush recovered: %v", r)
		}
	}()

	c.mu.Lock()
	pending := c.buf.drain()
	c.mu.Unlock()

	for _, entry := range pending {
		if err := c.sendOnce(entry.event); err != nil {
			c.mu.Lock()
			c.buf.push(entry.event, c.nowF())
			c.mu.Unlock()
		}
	}
}

// BufferStats returns the current and maximum buffer occupancy.
func (c *Client) BufferStats() (size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.len(), c.cfg.MaxBufferSize
}

// Close waits for in-flight deliveries to finish. The client must not be used
// after Close.
func (c *Client) Close() {
	c.wg.Wait()
}

// errNotSerializable marks payloads that json.Marshal rejects (cycles,
// channels, funcs). Wrapped by httpTransport.Send.
var errNotSerializable = errors.New("payload not serializable")

// httpTransport posts events to the collector ingest endpoint.
type httpTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (t *httpTransport) Send(ctx context.Context, ev event.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", errNotSerializable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("x-api-key", t.apiKey)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent: ingest returned %s", resp.Status)
	}
	return nil
}

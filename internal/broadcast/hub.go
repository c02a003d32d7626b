// Package broadcast maintains live observer connections and pushes newly
// ingested events and alerts to them without polling.
package broadcast

import (
	"sync"
	"time"
)

// sendBuffer is the per-connection outbound queue depth. A connection whose
// queue is full misses pushes rather than blocking the ingest path.
const sendBuffer = 64

// Message is the envelope delivered to observers.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type connection struct {
	send    chan Message
	tenants map[string]bool
}

// Hub owns the connection registry and the tenant-scoped distribution
// groups. All registry mutation is serialized behind the mutex; pushes are
// fire-and-forget and preserve per-connection FIFO order because each
// connection is drained by a single writer.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*connection

	nowF func() time.Time
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*connection),
		nowF:  time.Now,
	}
}

// Connect registers id and returns the channel its writer must drain. A
// connection receives only unscoped broadcasts until it subscribes. A second
// Connect with the same id replaces the previous registration and closes its
// channel.
func (h *Hub) Connect(id string) <-chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[id]; ok {
		close(old.send)
	}
	c := &connection{
		send:    make(chan Message, sendBuffer),
		tenants: make(map[string]bool),
	}
	h.conns[id] = c
	return c.send
}

// Disconnect removes id from every tenant group and closes its channel.
// Unknown ids are a no-op.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[id]; ok {
		delete(h.conns, id)
		close(c.send)
	}
}

// Subscribe adds the connection to the tenant's distribution group. A
// connection may hold several tenant subscriptions at once; subscribing
// twice to the same tenant is a no-op.
func (h *Hub) Subscribe(id, tenant string) bool {
	if tenant == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return false
	}
	c.tenants[tenant] = true
	return true
}

// Unsubscribe removes the connection from the tenant's group.
func (h *Hub) Unsubscribe(id, tenant string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return false
	}
	delete(c.tenants, tenant)
	return true
}

// Push delivers a message to every connection subscribed to tenant, or to
// every connection when tenant is empty. Delivery is fire-and-forget: a
// full or missing connection queue drops the message for that connection
// and never fails the caller.
func (h *Hub) Push(eventName string, data any, tenant string) {
	msg := Message{Event: eventName, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if tenant != "" && !c.tenants[tenant] {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Queue full; the observer is too slow, skip it.
		}
	}
}

// sendTo queues a message for a single connection. Used for the initial
// connection status and for ping replies so every write goes through the
// connection's single writer.
func (h *Hub) sendTo(id string, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	if !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

package broadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Observers connect from the dashboard origin; the ingest credential
	// already gates the data, so cross-origin upgrades are allowed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientMessage is what observers send over the realtime channel.
type clientMessage struct {
	Action string `json:"action"` // subscribe | unsubscribe | ping
	Tenant string `json:"tenant,omitempty"`
}

// Handler upgrades HTTP requests to websocket observer sessions backed by
// the given hub.
func Handler(hub *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("broadcast: upgrade failed: %v", err)
			return
		}
		id := uuid.New().String()
		ch := hub.Connect(id)
		log.Printf("broadcast: client connected: %s (total %d)", id, hub.ClientCount())

		go writeLoop(conn, ch)

		hub.sendTo(id, Message{Event: "connection-status", Data: map[string]any{
			"connected": true,
			"clientId":  id,
			"timestamp": hub.nowF().UTC().Format(time.RFC3339Nano),
		}})

		readLoop(hub, conn, id)
	})
}

// writeLoop drains the connection's hub channel onto the socket. It is the
// only writer for the connection, which gives per-connection FIFO delivery.
// It exits when the hub closes the channel on disconnect.
func writeLoop(conn *websocket.Conn, ch <-chan Message) {
	defer conn.Close()
	for msg := range ch {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			// Keep draining so the hub side never blocks; the read loop
			// notices the broken socket and disconnects.
			continue
		}
	}
}

// readLoop handles client-initiated messages until the socket errors or
// closes, then removes the connection from the hub.
func readLoop(hub *Hub, conn *websocket.Conn, id string) {
	defer func() {
		hub.Disconnect(id)
		conn.Close()
		log.Printf("broadcast: client disconnected: %s (total %d)", id, hub.ClientCount())
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			if hub.Subscribe(id, msg.Tenant) {
				hub.sendTo(id, Message{Event: "subscribed", Data: map[string]any{
					"success": true,
					"tenant":  msg.Tenant,
				}})
			}
		case "unsubscribe":
			if hub.Unsubscribe(id, msg.Tenant) {
				hub.sendTo(id, Message{Event: "unsubscribed", Data: map[string]any{
					"success": true,
					"tenant":  msg.Tenant,
				}})
			}
		case "ping":
			hub.sendTo(id, Message{Event: "pong", Data: map[string]any{
				"timestamp": hub.nowF().UnixMilli(),
			}})
		}
	}
}

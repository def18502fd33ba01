package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"telemetry-hub/internal/model"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 5 * time.Second
	pingInterval  = 25 * time.Second
	sendBuffer    = 16
)

// Hub owns the live WebSocket connections and their topic subscriptions.
// Delivery is at-most-once per currently connected client: there is no
// queueing for disconnected clients and a slow client is dropped rather
// than allowed to stall the rest.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	byID    map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	// Guarded by Hub.mu. Mutated only by this connection's own
	// subscribe/unsubscribe/disconnect events.
	topics map[string]struct{}
	all    bool
}

type command struct {
	Type     string `json:"type"`
	SensorID string `json:"sensorId,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Browser clients connect cross-origin from the dashboard.
				return true
			},
		},
		clients: map[*client]struct{}{},
		byID:    map[string]*client{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topics: map[string]struct{}{},
	}
	h.addClient(c)

	h.send(c, encode(model.EventConnected, map[string]any{
		"connectionId": c.id,
		"serverTime":   time.Now().UTC(),
	}))

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast delivers the event to every connection subscribed to topic or
// to the all-updates topic.
func (h *Hub) Broadcast(topic, eventType string, payload any) {
	h.deliver(topic, true, eventType, payload)
}

// RoomSend delivers only to connections subscribed to exactly this topic,
// excluding all-updates subscribers.
func (h *Hub) RoomSend(topic, eventType string, payload any) {
	h.deliver(topic, false, eventType, payload)
}

// DirectSend delivers to a single connection by id.
func (h *Hub) DirectSend(connID, eventType string, payload any) {
	b := encode(eventType, payload)
	if b == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.byID[connID]; ok {
		h.enqueueLocked(c, b)
	}
}

func (h *Hub) deliver(topic string, includeAll bool, eventType string, payload any) {
	b := encode(eventType, payload)
	if b == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_, subscribed := c.topics[topic]
		if !subscribed && !(includeAll && c.all) {
			continue
		}
		h.enqueueLocked(c, b)
	}
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.byID[c.id] = c
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		delete(h.byID, c.id)
		close(c.send)
		_ = c.conn.Close()
	}
}

// enqueueLocked requires Hub.mu. A full send buffer means the client is not
// draining; it is disconnected on the spot so one stalled browser cannot
// hold up the broadcast path.
func (h *Hub) enqueueLocked(c *client, b []byte) {
	select {
	case c.send <- b:
	default:
		delete(h.clients, c)
		delete(h.byID, c.id)
		close(c.send)
		_ = c.conn.Close()
	}
}

// send enqueues for one connection. It takes the lock so a concurrent
// slow-client drop (which closes c.send) cannot race a read-side reply.
func (h *Hub) send(c *client, b []byte) {
	if b == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.enqueueLocked(c, b)
	}
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			slog.Debug("ws dropping malformed command", "conn", c.id)
			continue
		}
		h.handleCommand(c, cmd)
	}
}

func (h *Hub) handleCommand(c *client, cmd command) {
	switch cmd.Type {
	case "subscribe:sensor":
		if cmd.SensorID != "" {
			h.setTopic(c, model.SensorTopic(cmd.SensorID), true)
		}
	case "unsubscribe:sensor":
		if cmd.SensorID != "" {
			h.setTopic(c, model.SensorTopic(cmd.SensorID), false)
		}
	case "subscribe:weather":
		h.setTopic(c, model.TopicWeather, true)
	case "unsubscribe:weather":
		h.setTopic(c, model.TopicWeather, false)
	case "subscribe:all":
		h.setAll(c, true)
	case "unsubscribe:all":
		h.setAll(c, false)
	case "ping":
		h.send(c, encode(model.EventPong, map[string]any{"timestamp": time.Now().UTC()}))
	default:
		slog.Debug("ws unknown command", "conn", c.id, "type", cmd.Type)
	}
}

func (h *Hub) setTopic(c *client, topic string, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if on {
		c.topics[topic] = struct{}{}
	} else {
		delete(c.topics, topic)
	}
}

func (h *Hub) setAll(c *client, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.all = on
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// encode flattens the payload into one JSON object with a "type" field so
// clients switch on a single discriminator.
func encode(eventType string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		obj = map[string]any{}
	}
	obj["type"] = eventType
	b, err := json.Marshal(obj)
	if err != nil {
		return nil
	}
	return b
}

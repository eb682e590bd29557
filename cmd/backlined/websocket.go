// WebSocket surface for local UI clients: the hub bridges typed bus events
// to JSON frames so the renderer re-fetches on "<type>:changed" and shows
// toasts without polling.
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/backline-app/backline/internal/events"
	"github.com/backline-app/backline/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// UI clients connect from the local renderer only.
		return r.Host == "localhost" || strings.HasPrefix(r.Host, "localhost:") ||
			strings.HasPrefix(r.Host, "127.0.0.1")
	},
}

// WSClient is one connected UI client. send is never closed; the hub closes
// done when it drops the client, so acks racing a disconnect cannot hit a
// closed channel.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	hub  *WSHub

	subMu         sync.Mutex
	subscriptions map[string]bool
}

// WSHub maintains active client connections and fans bus events out to them.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// WSEnvelope wraps every outbound frame.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

const (
	// EventToast carries a batched notification message.
	EventToast = "toast"
	// EventSyncStatus carries queue and connection state transitions.
	EventSyncStatus = "syncStatusChanged"
)

// NewWSHub creates a hub and starts its dispatch loop.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

// AttachBus subscribes the hub to every event kind the UI consumes.
// Bus delivery is synchronous, so the handlers only marshal and enqueue.
func (h *WSHub) AttachBus(bus *events.Bus) {
	bus.SubscribeAllRecords(func(ev events.RecordChanged) {
		h.Broadcast(ev.EventName(), map[string]interface{}{
			"scope":     string(ev.Scope),
			"record_id": string(ev.RecordID),
			"action":    string(ev.Action),
		})
	})
	bus.SubscribeToast(func(ev events.Toast) {
		h.Broadcast(EventToast, map[string]interface{}{
			"message": ev.Message,
			"type":    ev.Type,
		})
	})
	bus.SubscribeSyncStatus(func(ev events.SyncStatus) {
		h.Broadcast(EventSyncStatus, map[string]interface{}{
			"last_sync_time": ev.LastSyncTime,
			"pending_count":  ev.PendingCount,
			"is_online":      ev.IsOnline,
			"in_progress":    ev.InProgress,
			"connected":      ev.Connected,
		})
	})
}

func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WS client connected", map[string]interface{}{
				"client_id": client.id, "total": total,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.done)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WS client disconnected", map[string]interface{}{
				"client_id": client.id, "total": total,
			})

		case message := <-h.broadcast:
			h.mu.Lock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full: drop the client.
					close(client.done)
					delete(h.clients, client.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a frame to every client subscribed to messageType.
// Subscription filtering happens client-side in writePump via the envelope
// type; clients with no explicit subscriptions receive everything.
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Warn("WS marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}

	h.broadcast <- bytes
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WS read error", map[string]interface{}{"error": err.Error()})
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		action, ok := msg["action"].(string)
		if !ok {
			continue
		}

		switch action {
		case "subscribe":
			if names, ok := msg["events"].([]interface{}); ok {
				c.subMu.Lock()
				for _, e := range names {
					if name, ok := e.(string); ok {
						c.subscriptions[name] = true
					}
				}
				c.subMu.Unlock()
				c.sendAck("subscribe_ack", names)
			}

		case "unsubscribe":
			if names, ok := msg["events"].([]interface{}); ok {
				c.subMu.Lock()
				for _, e := range names {
					if name, ok := e.(string); ok {
						delete(c.subscriptions, name)
					}
				}
				c.subMu.Unlock()
			}

		case "ping":
			c.sendPong()
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !c.wants(message) {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wants reports whether the client's subscription set admits the frame.
// An empty set means "everything".
func (c *WSClient) wants(message []byte) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	var envelope WSEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		return true
	}
	if envelope.Type == "" {
		return true
	}
	return c.subscriptions[envelope.Type]
}

func (c *WSClient) sendAck(action string, names []interface{}) {
	envelope := map[string]interface{}{
		"action":     action,
		"subscribed": names,
		"timestamp":  time.Now().Unix(),
	}
	bytes, _ := json.Marshal(envelope)
	c.trySend(bytes)
}

func (c *WSClient) sendPong() {
	envelope := map[string]interface{}{
		"action":    "pong",
		"timestamp": time.Now().Unix(),
	}
	bytes, _ := json.Marshal(envelope)
	c.trySend(bytes)
}

// trySend queues a frame unless the hub has already dropped the client or
// the buffer is full. Acks are advisory; dropping one under pressure is fine.
func (c *WSClient) trySend(message []byte) {
	select {
	case <-c.done:
	case c.send <- message:
	default:
	}
}

// HandleWebSocket upgrades HTTP connections and registers them with the hub.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WS upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            time.Now().Format("20060102150405.000") + "-" + r.RemoteAddr,
			conn:          conn,
			send:          make(chan []byte, 256),
			done:          make(chan struct{}),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

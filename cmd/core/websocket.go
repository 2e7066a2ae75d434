// Package main provides the WebSocket bridge UI layers use for realtime
// sync notifications.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/habitsync/habitsync/internal/bus"
	"github.com/habitsync/habitsync/internal/logging"
)

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.Mutex
	subscriptions map[string]bool
}

// wants reports whether the client should receive the event. A client
// that never subscribed receives everything.
func (c *WSClient) wants(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[event]
}

// wsMessage is a serialized envelope tagged with its event type so the
// hub can filter per client.
type wsMessage struct {
	event   string
	payload []byte
}

// WSHub maintains active client connections and broadcasts messages.
type WSHub struct {
	upgrader   websocket.Upgrader
	clients    map[string]*WSClient
	broadcast  chan wsMessage
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

const (
	EventRecordUpdated = "record.updated"
	EventSyncCompleted = "sync.completed"
	EventSyncStatus    = "sync.status"
)

// NewWSHub creates a hub that only accepts local connections for the
// given listen address.
func NewWSHub(listenAddr string) *WSHub {
	host := listenAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	hub := &WSHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return r.Host == listenAddr || r.Host == host
			},
		},
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan wsMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(message.event) {
					continue
				}
				select {
				case client.send <- message.payload:
				default:
					// Client send buffer is full, close connection
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to every connected client that subscribed to
// the event type (or subscribed to nothing, which means everything).
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Warn("Failed to marshal WebSocket message",
			map[string]interface{}{"error": err.Error()})
		return
	}
	h.broadcast <- wsMessage{event: messageType, payload: bytes}
}

// BridgeBus forwards sync core bus events to connected clients until ctx
// is cancelled.
func (h *WSHub) BridgeBus(ctx context.Context, b *bus.Bus) {
	topics := map[bus.Topic]string{
		bus.TopicRecordUpdated: EventRecordUpdated,
		bus.TopicSyncComplete:  EventSyncCompleted,
		bus.TopicSyncStatus:    EventSyncStatus,
	}
	for topic, messageType := range topics {
		ch, unsubscribe := b.Subscribe(topic)
		go func(messageType string, ch <-chan bus.Event, unsubscribe func()) {
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					data := map[string]interface{}{
						"event_type": ev.EventType,
						"table":      string(ev.Table),
						"record_id":  ev.RecordID,
					}
					for k, v := range ev.Payload {
						data[k] = v
					}
					h.Broadcast(messageType, data)
				}
			}
		}(messageType, ch, unsubscribe)
	}
}

// readPump pumps messages from the WebSocket connection.
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
				logging.Debug("WebSocket read error",
					map[string]interface{}{"error": err.Error()})
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
			if events, ok := msg["events"].([]interface{}); ok {
				c.mu.Lock()
				for _, e := range events {
					if eventStr, ok := e.(string); ok {
						c.subscriptions[eventStr] = true
					}
				}
				c.mu.Unlock()
				c.sendAck("subscribe_ack", events)
			}
		case "unsubscribe":
			if events, ok := msg["events"].([]interface{}); ok {
				c.mu.Lock()
				for _, e := range events {
					if eventStr, ok := e.(string); ok {
						delete(c.subscriptions, eventStr)
					}
				}
				c.mu.Unlock()
			}
		case "ping":
			c.sendPong()
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
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

// sendAck sends a subscription acknowledgment.
func (c *WSClient) sendAck(action string, events []interface{}) {
	envelope := map[string]interface{}{
		"action":     action,
		"subscribed": events,
		"timestamp":  time.Now().Unix(),
	}
	bytes, _ := json.Marshal(envelope)
	c.send <- bytes
}

// sendPong sends a pong response.
func (c *WSClient) sendPong() {
	envelope := map[string]interface{}{
		"action":    "pong",
		"timestamp": time.Now().Unix(),
	}
	bytes, _ := json.Marshal(envelope)
	c.send <- bytes
}

// Handler upgrades requests to WebSocket connections.
func (h *WSHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WebSocket upgrade failed",
				map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            time.Now().Format("20060102150405.000") + "-" + r.RemoteAddr,
			conn:          conn,
			send:          make(chan []byte, 256),
			hub:           h,
			subscriptions: make(map[string]bool),
		}
		h.register <- client

		go client.writePump()
		go client.readPump()
	}
}

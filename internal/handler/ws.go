package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"geoinsight/api/internal/eventbus"
	"geoinsight/api/internal/model"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development, configure for production
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// Heartbeat interval
	pingInterval = 30 * time.Second
	// Write timeout
	writeTimeout = 10 * time.Second
)

// wsClient is one websocket consumer with its event filters. A zero
// deviceID/geofenceID means no filter on that axis.
type wsClient struct {
	conn       *websocket.Conn
	send       chan []byte
	userID     uint
	deviceID   uint
	geofenceID uint
}

// WSHub fans transition events out to websocket clients. It subscribes
// in-process to the event bus; slow clients are dropped, never allowed to
// block the bus.
type WSHub struct {
	bus        *eventbus.Bus
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
}

// NewWSHub creates the hub.
func NewWSHub(bus *eventbus.Bus) *WSHub {
	return &WSHub{
		bus:        bus,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	events, cancel := h.bus.Subscribe(256)
	defer cancel()
	log.Println("[WS] Hub started, subscribed to transition events")

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Printf("[WS] Client connected (user %d), total clients: %d", client.userID, len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			log.Printf("[WS] Client disconnected, total clients: %d", len(h.clients))

		case event := <-events:
			h.broadcast(&event)
		}
	}
}

func (h *WSHub) broadcast(event *model.GeofenceEvent) {
	data, err := json.Marshal(map[string]interface{}{
		"type": "geofence_event",
		"data": event,
	})
	if err != nil {
		log.Printf("[WS] Failed to marshal event %s: %v", event.EventID, err)
		return
	}

	for client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client cannot keep up; drop it.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (c *wsClient) wants(event *model.GeofenceEvent) bool {
	if event.UserID != c.userID {
		return false
	}
	if c.deviceID != 0 && event.DeviceID != c.deviceID {
		return false
	}
	if c.geofenceID != 0 && event.GeofenceID != c.geofenceID {
		return false
	}
	return true
}

// Serve upgrades the connection and registers the client
// @Summary Event stream
// @Description Websocket stream of the caller's geofence transition events
// @Tags Events
// @Security BearerAuth
// @Param device_id query int false "Only events for this device"
// @Param geofence_id query int false "Only events for this geofence"
// @Success 101
// @Router /ws/events [get]
func (h *WSHub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	deviceID, _ := strconv.ParseUint(c.Query("device_id"), 10, 32)
	geofenceID, _ := strconv.ParseUint(c.Query("geofence_id"), 10, 32)

	client := &wsClient{
		conn:       conn,
		send:       make(chan []byte, 64),
		userID:     getUserIDFromContext(c),
		deviceID:   uint(deviceID),
		geofenceID: uint(geofenceID),
	}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

// writePump pushes events and heartbeats to the peer.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and unregisters on close.
func (c *wsClient) readPump(h *WSHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mini-transit-live/server/internal/geo"
	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 4
)

// Metrics tracks the number of connected clients
type Metrics interface {
	StreamClientsSet(n int)
}

// Message is one push to a client
type Message struct {
	SnapshotID string                   `json:"snapshotId"`
	Timestamp  time.Time                `json:"timestamp"`
	Vehicles   []realtime.VehicleRecord `json:"vehicles"`
}

type client struct {
	id     string
	conn   *websocket.Conn
	routes []string
	send   chan Message
}

// Hub pushes each fresh snapshot to every connected websocket client.
// Clients may narrow the stream with ?routes=a,b.
type Hub struct {
	upgrader websocket.Upgrader
	latest   func() *realtime.Snapshot
	metrics  Metrics
	log      logger.Logger

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub creates a hub. latest supplies the snapshot sent on connect and may be nil.
func NewHub(allowedOrigins []string, latest func() *realtime.Snapshot, m Metrics, log logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	h := &Hub{
		latest:  latest,
		metrics: m,
		log:     log,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker allows same-host requests and any listed origin; "*" allows all
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// ServeHTTP upgrades the request and streams snapshots until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		routes: geo.ParseRoutes(r.URL.Query().Get("routes")),
		send:   make(chan Message, sendBuffer),
	}
	if h.latest != nil {
		if snap := h.latest(); snap != nil {
			c.send <- messageFor(snap, c.routes)
		}
	}
	h.add(c)

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast queues snap for every client. A client whose buffer is full is
// disconnected rather than allowed to stall the others.
func (h *Hub) Broadcast(snap *realtime.Snapshot) {
	if snap == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- messageFor(snap, c.routes):
		default:
			h.log.Warn("dropping slow websocket client", "client_id", id)
			delete(h.clients, id)
			close(c.send)
		}
	}
	h.setGauge()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
	h.setGauge()
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.setGauge()
	h.mu.Unlock()
	h.log.Debug("websocket client connected", "client_id", c.id, "routes", len(c.routes))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.setGauge()
	h.mu.Unlock()
	h.log.Debug("websocket client disconnected", "client_id", c.id)
}

// setGauge must be called with mu held
func (h *Hub) setGauge() {
	if h.metrics != nil {
		h.metrics.StreamClientsSet(len(h.clients))
	}
}

// readPump discards client messages and detects disconnects
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Error("failed to encode stream message", "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func messageFor(snap *realtime.Snapshot, routes []string) Message {
	vehicles := geo.FilterByRoutes(snap.Vehicles, routes)
	if vehicles == nil {
		vehicles = []realtime.VehicleRecord{}
	}
	return Message{SnapshotID: snap.ID, Timestamp: snap.Timestamp, Vehicles: vehicles}
}

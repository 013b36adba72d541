package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dscbridge/dsc2ws/internal/itv2"
	"github.com/dscbridge/dsc2ws/internal/log"
	"github.com/dscbridge/dsc2ws/internal/panel"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// PanelControl is the slice of the bridge the facade may drive.
type PanelControl interface {
	Arm(ctx context.Context, sessionID string, partition uint8, mode itv2.ArmMode, code string) error
}

// clientMessage is the envelope UI clients send.
type clientMessage struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	PartitionNumber uint8  `json:"partition_number"`
	Code            string `json:"code"`
}

type partitionDto struct {
	PartitionNumber uint8  `json:"partition_number"`
	Name            string `json:"name"`
	Status          string `json:"status"`
}

type zoneDto struct {
	ZoneNumber  uint16  `json:"zone_number"`
	Name        string  `json:"name"`
	DeviceClass string  `json:"device_class"`
	Open        bool    `json:"open"`
	Partitions  []uint8 `json:"partitions"`
}

type sessionDto struct {
	SessionID  string         `json:"session_id"`
	Name       string         `json:"name"`
	Partitions []partitionDto `json:"partitions"`
	Zones      []zoneDto      `json:"zones"`
}

// Client is one connected UI socket.
type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub owns the UI client set and fans state changes out to every client.
type Hub struct {
	log     *log.Logger
	store   *panel.Store
	control PanelControl

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu      sync.RWMutex
	clients map[*client]bool

	events chan panel.Event
	cancel func()
	server *http.Server
}

func NewHub(store *panel.Store, control PanelControl, logger *log.Logger) *Hub {
	return &Hub{
		log:        logger,
		store:      store,
		control:    control,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
	}
}

// Start subscribes to the state store and serves the websocket endpoint.
func (h *Hub) Start(addr string) error {
	events, cancel := h.store.Subscribe()
	h.cancel = cancel
	go h.run(events)

	h.server = &http.Server{Addr: addr, Handler: h.handler()}

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.Error("WebSocket server error: %v", err)
		}
	}()
	h.log.Info("WebSocket facade listening on %s", addr)
	return nil
}

func (h *Hub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/healthz", h.handleHealthz)
	return mux
}

func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.server != nil {
		h.server.Close()
	}
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *Hub) run(events <-chan panel.Event) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Debug("UI client connected, total %d", h.ClientCount())
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug("UI client disconnected, total %d", h.ClientCount())
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Buffer full; the write pump is stuck.
					go func(c *client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		case e, ok := <-events:
			if !ok {
				return
			}
			h.publishEvent(e)
		}
	}
}

// publishEvent converts a store event into the §6 broadcast envelope.
func (h *Hub) publishEvent(e panel.Event) {
	switch ev := e.(type) {
	case panel.PartitionStateChanged:
		h.Broadcast(map[string]interface{}{
			"type":             "partition_update",
			"session_id":       ev.Session,
			"partition_number": ev.Partition.Number,
			"status":           ev.Partition.EffectiveStatus(time.Now()).String(),
		})
	case panel.ZoneStateChanged:
		h.Broadcast(map[string]interface{}{
			"type":        "zone_update",
			"session_id":  ev.Session,
			"zone_number": ev.Zone.Number,
			"open":        ev.Zone.IsOpen,
		})
	}
}

// Broadcast queues a JSON message for every connected client.
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("Failed to marshal broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("Broadcast queue full, dropping update")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"sessions":%d,"clients":%d}`, len(h.store.SessionIDs()), h.ClientCount())
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64), hub: h}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("UI client read error: %v", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message")
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg clientMessage) {
	switch msg.Type {
	case "get_full_state":
		c.sendJSON(c.hub.fullState())
	case "arm_away", "arm_home", "arm_night", "disarm":
		mode := itv2.ArmModeDisarm
		switch msg.Type {
		case "arm_away":
			mode = itv2.ArmModeAway
		case "arm_home":
			mode = itv2.ArmModeStay
		case "arm_night":
			mode = itv2.ArmModeNight
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := c.hub.control.Arm(ctx, msg.SessionID, msg.PartitionNumber, mode, msg.Code); err != nil {
			c.sendError(err.Error())
		}
	default:
		c.sendError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// fullState builds the §6 full_state response from the store.
func (h *Hub) fullState() map[string]interface{} {
	now := time.Now()
	sessions := make([]sessionDto, 0)
	for _, id := range h.store.SessionIDs() {
		state, ok := h.store.Session(id)
		if !ok {
			continue
		}
		dto := sessionDto{
			SessionID:  id,
			Name:       state.Name,
			Partitions: make([]partitionDto, 0),
			Zones:      make([]zoneDto, 0),
		}
		for _, p := range h.store.Partitions(id) {
			dto.Partitions = append(dto.Partitions, partitionDto{
				PartitionNumber: p.Number,
				Name:            p.Name,
				Status:          p.EffectiveStatus(now).String(),
			})
		}
		for _, z := range h.store.Zones(id) {
			dto.Zones = append(dto.Zones, zoneDto{
				ZoneNumber:  z.Number,
				Name:        z.Name,
				DeviceClass: z.DeviceClass,
				Open:        z.IsOpen,
				Partitions:  z.Partitions,
			})
		}
		sessions = append(sessions, dto)
	}
	return map[string]interface{}{"type": "full_state", "sessions": sessions}
}

func (c *client) sendError(message string) {
	data, _ := json.Marshal(map[string]string{"type": "error", "message": message})
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.log.Error("Failed to marshal response: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writePump() {
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

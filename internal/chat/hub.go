package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cashoutai/tradedesk/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64

	presenceTimeout = 5 * time.Second
)

// Envelope is the JSON frame sent to WebSocket clients.
type Envelope struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Data   any    `json:"data"`
}

// Presence is told when a user's first connection opens and when their
// last one closes.
type Presence interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

type presenceUpdate struct {
	userID string
	online bool
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub is the process-wide connection registry. Connections register on
// upgrade and deregister on disconnect or write error; every broadcast goes
// to all registered connections.
type Hub struct {
	clients    map[*client]bool
	byUser     map[string]int
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	presence   Presence
	presenceQ  chan presenceUpdate
}

// NewHub creates a hub. presence may be nil.
func NewHub(presence Presence) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		byUser:     make(map[string]int),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		presence:   presence,
		presenceQ:  make(chan presenceUpdate, 256),
	}
}

// Run starts the hub's event loop and returns when ctx is done, closing
// every connection. Must be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	if h.presence != nil {
		go h.presenceLoop(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.byUser = make(map[string]int)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.byUser[c.userID]++
			first := h.byUser[c.userID] == 1
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "user", c.userID, "total", total)
			if first {
				h.setOnline(ctx, c.userID, true)
			}

		case c := <-h.unregister:
			h.mu.Lock()
			last := false
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.byUser[c.userID]--
				if h.byUser[c.userID] <= 0 {
					delete(h.byUser, c.userID)
					last = true
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			if last {
				h.setOnline(ctx, c.userID, false)
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			// Drop clients that cannot keep up.
			for _, c := range slow {
				go h.drop(c)
			}
		}
	}
}

// Broadcast sends env to every connected client. It never blocks; frames
// are dropped when the hub is saturated.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("ws encode failed", "type", env.Type, "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("ws broadcast dropped", "type", env.Type)
	}
}

// Publish broadcasts an engine event to all clients.
func (h *Hub) Publish(event, userID string, payload any) {
	h.Broadcast(Envelope{Type: event, UserID: userID, Data: payload})
}

// OnlineCount returns the number of open connections.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnlineUsers returns the ids of users with at least one open connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// drop deregisters c unless the hub has already stopped.
func (h *Hub) drop(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// setOnline queues a presence change. Changes are applied in the order the
// hub loop saw the connects and disconnects.
func (h *Hub) setOnline(ctx context.Context, userID string, online bool) {
	if h.presence == nil {
		return
	}
	select {
	case h.presenceQ <- presenceUpdate{userID: userID, online: online}:
	case <-ctx.Done():
	}
}

// presenceLoop is the only goroutine that writes presence.
func (h *Hub) presenceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-h.presenceQ:
			uctx, cancel := context.WithTimeout(ctx, presenceTimeout)
			if err := h.presence.SetOnline(uctx, u.userID, u.online); err != nil {
				slog.Warn("presence update failed", "user", u.userID, "online", u.online, "err", err)
			}
			cancel()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Serve upgrades the request and registers the connection for userID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump keeps the connection alive, acknowledges client frames and
// detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(64 << 10)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ack, err := json.Marshal(Envelope{Type: "ack", UserID: c.userID, Data: string(data)})
		if err != nil {
			continue
		}
		h.mu.RLock()
		if h.clients[c] {
			select {
			case c.send <- ack:
			default:
			}
		}
		h.mu.RUnlock()
	}
}

// writePump is the connection's only writer. It exits when send is closed.
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
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"green-reward/internal/notify"
	"green-reward/pkg"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 32
	broadcastQueue = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type LedgerEvent struct {
	Type     string    `json:"type"`
	Resident string    `json:"resident"`
	RaisedAt time.Time `json:"raised_at"`
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan LedgerEvent
	resident string
}

// Hub pushes observed ledger signals to connected websocket clients. A
// client that set a resident filter only receives that resident's events.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan LedgerEvent
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.Mutex
	log        pkg.Logger
}

func NewHub(log pkg.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan LedgerEvent, broadcastQueue),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.log.Info("Websocket client registered", zap.String("resident", c.resident))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Info("Websocket client unregistered", zap.String("resident", c.resident))

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev LedgerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.resident != "" && c.resident != ev.Resident {
			continue
		}
		select {
		case c.send <- ev:
		default:
			// slow client, drop it
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Publish queues ev for delivery. It never blocks the signal observer.
func (h *Hub) Publish(ev notify.LedgerChanged) {
	select {
	case h.broadcast <- LedgerEvent{Type: "ledger_changed", Resident: ev.Resident, RaisedAt: ev.RaisedAt}:
	default:
		h.log.Warn("websocket broadcast queue full, dropping event", zap.String("resident", ev.Resident))
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve upgrades the request and attaches the connection to the hub.
func (h *Hub) Serve(ctx echo.Context, resident string) error {
	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		h.log.Error("failed to upgrade connection to websocket", zap.Error(err))
		return nil
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan LedgerEvent, clientBuffer),
		resident: resident,
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return nil
	}

	go c.writePump()
	go c.readPump()
	return nil
}

// readPump only watches for the peer going away; clients send nothing.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for ev := range c.send {
		data, err := json.Marshal(ev)
		if err != nil {
			c.hub.log.Error("failed to encode websocket event", zap.Error(err))
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.hub.log.Warn("failed to write websocket event", zap.Error(err))
			return
		}
	}
}

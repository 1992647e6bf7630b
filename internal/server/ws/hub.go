// Package ws streams ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// StatusFunc reports the chain height sent to clients on connect.
type StatusFunc func() (height uint64)

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// CheckOrigin overrides the upgrader's origin check; nil allows all.
	CheckOrigin func(r *http.Request) bool
}

// Hub fans ledger events from the signal bus out to connected clients.
//
// Events are delivered in bus order. A client whose send buffer is full is
// disconnected rather than silently skipped, so a connected client never has
// a gap in its stream; it can reconnect and page through /api/receipts.
type Hub struct {
	bus       domain.SignalBus
	status    StatusFunc
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	mode      string
	startedAt time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub that bridges domain.ChannelLedgerEvents to WebSocket
// clients. status may be nil.
func NewHub(bus domain.SignalBus, status StatusFunc, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		bus:    bus,
		status: status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      cfg.Mode,
		startedAt: startedAt,
		clients:   make(map[*client]struct{}),
	}
}

// Run relays bus events until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.ChannelLedgerEvents)
	if err != nil {
		return err
	}
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("ws: event subscription closed")
			}
			var evt domain.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
				continue
			}
			// Re-encode so every client receives the same canonical frame.
			frame, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			h.deliver(evt, frame)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and attaches the connection to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	c.queue(h.hello())
	if !h.attach(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) attach(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected",
		slog.String("remote", c.conn.RemoteAddr().String()),
		slog.Int("total_clients", len(h.clients)))
	return true
}

// detach removes c and closes its send queue. It is safe to call twice.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.clients)))
}

func (h *Hub) deliver(evt domain.Event, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.filter.match(evt) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: disconnecting slow client",
				slog.String("remote", c.conn.RemoteAddr().String()),
				slog.Uint64("height", evt.Height))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

type helloFrame struct {
	Type    string       `json:"type"`
	Payload helloPayload `json:"payload"`
}

type helloPayload struct {
	Mode          string `json:"mode"`
	Height        uint64 `json:"height"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// hello carries the node status so clients can compute deadlines before the
// first block event arrives.
func (h *Hub) hello() []byte {
	p := helloPayload{
		Mode:          h.mode,
		UptimeSeconds: max(int64(time.Since(h.startedAt).Seconds()), 0),
	}
	if h.status != nil {
		p.Height = h.status()
	}
	data, _ := json.Marshal(helloFrame{Type: "hello", Payload: p})
	return data
}

package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// client is one WebSocket connection. send is owned by the hub: only the
// hub closes it, under its lock.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter filter
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		filter: filter{
			types:   make(map[string]struct{}),
			markets: make(map[uint64]struct{}),
		},
	}
}

// queue buffers a frame before the client is attached.
func (c *client) queue(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

// readLoop applies subscription requests until the connection fails.
func (c *client) readLoop() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var req subscription
		if err := json.Unmarshal(data, &req); err != nil || req.Action == "" {
			continue
		}
		c.filter.apply(req)
	}
}

// writeLoop drains send as text frames and keeps the connection alive with
// pings. A closed send ends the connection with a close frame.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscription narrows or widens the events a client receives.
//
//	{"action":"subscribe","types":["staked"],"markets":[3]}
//	{"action":"unsubscribe","types":["staked"]}
//	{"action":"reset"}
type subscription struct {
	Action  string   `json:"action"`
	Types   []string `json:"types"`
	Markets []uint64 `json:"markets"`
}

// filter selects events by type and market. Empty sets match everything.
type filter struct {
	mu      sync.RWMutex
	types   map[string]struct{}
	markets map[uint64]struct{}
}

func (f *filter) apply(req subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch req.Action {
	case "subscribe":
		for _, t := range req.Types {
			f.types[t] = struct{}{}
		}
		for _, id := range req.Markets {
			f.markets[id] = struct{}{}
		}
	case "unsubscribe":
		for _, t := range req.Types {
			delete(f.types, t)
		}
		for _, id := range req.Markets {
			delete(f.markets, id)
		}
	case "reset":
		clear(f.types)
		clear(f.markets)
	}
}

// match reports whether evt passes the filter. Events without a market,
// such as blocks and mints, always pass the market filter.
func (f *filter) match(evt domain.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.types) > 0 {
		if _, ok := f.types[evt.Type]; !ok {
			return false
		}
	}
	if len(f.markets) > 0 && evt.MarketID != 0 {
		if _, ok := f.markets[evt.MarketID]; !ok {
			return false
		}
	}
	return true
}

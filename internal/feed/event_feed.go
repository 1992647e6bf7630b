// Package feed consumes the ledger event stream a node serves on /ws.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

const (
	writeWait = 10 * time.Second
	// pongWait must exceed the server's ping period.
	pongWait = 60 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// EventHandler is called for each ledger event.
type EventHandler func(ctx context.Context, evt domain.Event)

// Hello is the node status sent when a connection opens.
type Hello struct {
	Mode          string `json:"mode"`
	Height        uint64 `json:"height"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Subscription narrows the stream to some event types and markets. The zero
// value receives everything.
type Subscription struct {
	Types   []string
	Markets []uint64
}

func (s Subscription) empty() bool {
	return len(s.Types) == 0 && len(s.Markets) == 0
}

// EventFeed connects to a node's WebSocket, applies the subscription and
// invokes the handler on each event. It reconnects with backoff on
// disconnect and re-sends the subscription each time.
type EventFeed struct {
	url       string
	sub       Subscription
	onEvent   EventHandler
	onHello   func(Hello)
	dialer    websocket.Dialer
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewEventFeed creates a feed for the given ws:// or wss:// URL.
func NewEventFeed(url string, sub Subscription, onEvent EventHandler, logger *slog.Logger) *EventFeed {
	return &EventFeed{
		url:     url,
		sub:     sub,
		onEvent: onEvent,
		dialer:  websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:  logger.With(slog.String("component", "event_feed")),
		done:    make(chan struct{}),
	}
}

// OnHello registers a callback for the status message of each connection.
func (f *EventFeed) OnHello(fn func(Hello)) *EventFeed {
	f.onHello = fn
	return f
}

// Run connects and streams events until ctx is cancelled or Close is called.
func (f *EventFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		connected, err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errClosed) {
			return nil
		}
		if connected {
			delay = reconnectDelay
		}
		f.logger.Warn("event feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

var errClosed = errors.New("feed: closed")

// runConnection serves one connection. connected reports whether the dial
// succeeded.
func (f *EventFeed) runConnection(ctx context.Context) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial %s: %w", f.url, err)
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
		}
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	if !f.sub.empty() {
		msg, _ := json.Marshal(map[string]any{
			"action":  "subscribe",
			"types":   f.sub.Types,
			"markets": f.sub.Markets,
		})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return true, fmt.Errorf("feed: subscribe: %w", err)
		}
	}
	f.logger.Info("event feed connected", slog.String("url", f.url))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return true, errClosed
			default:
			}
			return true, fmt.Errorf("feed: read: %w", err)
		}
		f.dispatch(ctx, data)
	}
}

// dispatch routes a frame to the hello or event handler.
func (f *EventFeed) dispatch(ctx context.Context, data []byte) {
	var head struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		f.logger.Warn("event feed: undecodable frame", slog.String("error", err.Error()))
		return
	}

	if head.Type == "hello" {
		var h Hello
		if err := json.Unmarshal(head.Payload, &h); err == nil && f.onHello != nil {
			f.onHello(h)
		}
		return
	}

	var evt domain.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		f.logger.Warn("event feed: undecodable event", slog.String("error", err.Error()))
		return
	}
	if f.onEvent != nil {
		f.onEvent(ctx, evt)
	}
}

// Close stops the feed.
func (f *EventFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

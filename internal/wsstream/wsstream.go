// Package wsstream exposes the realtime event bus (SPEC_FULL.md §3.4) over a
// WebSocket upgrade endpoint so an operator console can watch ticket-state
// and health transitions as they happen instead of polling C9's status()
// call or /admin/health on a timer. Grounded on the teacher's
// cmd/server/handlers/silence_ws.go WebSocketHub: same upgrader, ping/pong
// keepalive and per-connection write pump, adapted from a self-contained
// broadcast channel to an internal/realtime.EventSubscriber plugged into
// the shared EventBus so ticket and health events reach it the same way
// they reach any other subscriber.
package wsstream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cdeskio/activity-gateway/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Subscriber adapts a single WebSocket connection to realtime.EventSubscriber.
type Subscriber struct {
	id     string
	conn   *websocket.Conn
	send   chan realtime.Event
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn, logger *slog.Logger) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Subscriber{
		id:     id,
		conn:   conn,
		send:   make(chan realtime.Event, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("subscriber_id", id),
	}
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// Context returns the subscriber's cancellation context.
func (s *Subscriber) Context() context.Context { return s.ctx }

// Send queues an event for delivery to the connection's write pump. It
// never blocks: a full buffer means a slow reader, and the subscriber is
// dropped rather than stalling the bus for everyone else.
func (s *Subscriber) Send(event realtime.Event) error {
	select {
	case s.send <- event:
		return nil
	default:
		return realtime.ErrSubscriberBufferFull
	}
}

// Close ends the connection and stops the write pump.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

// Hub upgrades HTTP requests to WebSocket connections and registers each
// one with the shared event bus.
type Hub struct {
	bus    *realtime.DefaultEventBus
	logger *slog.Logger
}

// New builds a Hub bound to bus.
func New(bus *realtime.DefaultEventBus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{bus: bus, logger: logger.With("component", "wsstream")}
}

// HandleStream upgrades the request and streams events until the client
// disconnects or the bus drops it for falling behind.
//
// GET /stream/events
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	sub := newSubscriber(conn, h.logger)
	if err := h.bus.Subscribe(sub); err != nil {
		h.logger.Warn("subscribe failed", "error", err)
		conn.Close()
		return
	}

	h.logger.Info("websocket stream connected", "subscriber_id", sub.ID(), "remote_addr", conn.RemoteAddr().String())

	go h.writePump(sub)
	h.readPump(sub)
}

// writePump forwards queued events to the connection and sends periodic
// pings; it exits when the subscriber is closed.
func (h *Hub) writePump(sub *Subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() {
		_ = h.bus.Unsubscribe(sub)
	}()

	for {
		select {
		case <-sub.ctx.Done():
			return

		case event, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteJSON(event); err != nil {
				h.logger.Debug("write failed, dropping subscriber", "subscriber_id", sub.ID(), "error", err)
				return
			}

		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection's read deadline fresh via pong handling and
// detects client-initiated close; it does not expect inbound payloads.
func (h *Hub) readPump(sub *Subscriber) {
	defer sub.Close()

	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", "subscriber_id", sub.ID(), "error", err)
			}
			return
		}
	}
}

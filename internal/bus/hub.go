package bus

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"snapcmd/internal/event"
)

// ErrHubClosed is returned when publishing to a Hub that has stopped.
var ErrHubClosed = errors.New("bus: hub closed")

const defaultSendQueue = 16

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub accepts downstream subscriber connections and fans published triggers
// out to every subscriber connected at publish time. The subscriber set is
// owned by the Run loop; all other methods talk to it over channels.
type Hub struct {
	log       *zap.Logger
	upgrader  websocket.Upgrader
	sendQueue int

	register   chan *subscriber
	unregister chan *subscriber
	publish    chan []byte
	count      chan chan int
	done       chan struct{}

	onMessage func(subscriberID string, t event.Trigger)
}

// NewHub returns a Hub. Call Run before publishing.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sendQueue:  defaultSendQueue,
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		publish:    make(chan []byte),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// OnMessage registers fn to receive capture_request frames sent by
// subscribers. Frames from subscribers are ignored when no callback is set.
// Must be called before the Hub serves connections.
func (h *Hub) OnMessage(fn func(subscriberID string, t event.Trigger)) { h.onMessage = fn }

// Run owns the subscriber set until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	subs := make(map[string]*subscriber)
	defer func() {
		close(h.done)
		for id, s := range subs {
			close(s.send)
			delete(subs, id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.register:
			subs[s.id] = s
			h.log.Info("subscriber connected",
				zap.String("subscriber", s.id), zap.Int("subscribers", len(subs)))
		case s := <-h.unregister:
			if _, ok := subs[s.id]; !ok {
				continue
			}
			delete(subs, s.id)
			close(s.send)
			h.log.Info("subscriber disconnected",
				zap.String("subscriber", s.id), zap.Int("subscribers", len(subs)))
		case frame := <-h.publish:
			for _, s := range subs {
				select {
				case s.send <- frame:
				default:
					h.log.Warn("subscriber queue full, dropping event", zap.String("subscriber", s.id))
				}
			}
			h.log.Debug("event fanned out", zap.Int("subscribers", len(subs)))
		case reply := <-h.count:
			reply <- len(subs)
		}
	}
}

// Publish fans t out to the current subscribers. It returns once the Run loop
// has taken the event; delivery to each subscriber is best effort.
func (h *Hub) Publish(t event.Trigger) error {
	frame, err := event.Encode(t)
	if err != nil {
		return err
	}
	select {
	case h.publish <- frame:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// ServeHTTP upgrades the request and serves the connection as a subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s := &subscriber{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.sendQueue),
	}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) readPump(s *subscriber) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		mt, b, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("subscriber read failed", zap.String("subscriber", s.id), zap.Error(err))
			}
			return
		}
		if mt != websocket.BinaryMessage || h.onMessage == nil {
			continue
		}
		t, err := event.Decode(b)
		if err != nil {
			h.log.Warn("dropping undecodable subscriber frame", zap.String("subscriber", s.id), zap.Error(err))
			continue
		}
		h.onMessage(s.id, t)
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				h.log.Warn("publish to subscriber failed", zap.String("subscriber", s.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

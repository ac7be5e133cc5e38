package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/metrics"
)

const (
	EventFrameIngested  = "frame.ingested"
	EventIngestFailed   = "frame.ingest_failed"
	EventFrameDeleted   = "frame.deleted"
	EventIntegrityCheck = "integrity.progress"
)

// Event represents a message sent to websocket clients
type Event struct {
	Type      string         `json:"type"`
	FrameID   uint           `json:"frame_id,omitempty"`
	Basename  string         `json:"basename,omitempty"`
	Error     string         `json:"error,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher accepts events for delivery to subscribers.
type Publisher interface {
	Broadcast(event Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Broadcast(Event) {}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// subscriber is one websocket connection. a nil types set receives every event.
type subscriber struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[string]bool
}

func (s *subscriber) wants(eventType string) bool {
	return s.types == nil || s.types[eventType]
}

type message struct {
	eventType string
	payload   []byte
}

// Hub fans archive events out to websocket subscribers.
type Hub struct {
	subscribers map[*subscriber]struct{}
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan message
	done        chan struct{}
	mu          sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan message, 256),
		done:        make(chan struct{}),
	}
}

// drop removes s. the caller holds h.mu.
func (h *Hub) drop(s *subscriber) {
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.send)
	}
}

// Run dispatches events until ctx is done, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for s := range h.subscribers {
				h.drop(s)
			}
			metrics.WSConnections.Set(0)
			h.mu.Unlock()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = struct{}{}
			metrics.WSConnections.Set(float64(len(h.subscribers)))
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			h.drop(s)
			metrics.WSConnections.Set(float64(len(h.subscribers)))
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for s := range h.subscribers {
				if !s.wants(msg.eventType) {
					continue
				}
				select {
				case s.send <- msg.payload:
				default:
					logging.Warn().Msg("realtime: subscriber too slow, disconnecting")
					h.drop(s)
				}
			}
			metrics.WSConnections.Set(float64(len(h.subscribers)))
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Broadcast queues event for every interested subscriber. events are dropped
// when the queue is full.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		logging.Error().Err(err).Msg("realtime: failed to marshal event")
		return
	}
	select {
	case h.broadcast <- message{eventType: event.Type, payload: encoded}:
	default:
		logging.Warn().Str("type", event.Type).Msg("realtime: dropping event, broadcast queue full")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// parseTypes reads the comma separated "types" query parameter.
func parseTypes(r *http.Request) map[string]bool {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	types := map[string]bool{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}

// ServeWS upgrades the connection and streams events until the peer goes away.
// ?types=frame.ingested,frame.deleted limits the stream to those event types.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("realtime: websocket upgrade error")
		return
	}
	s := &subscriber{conn: conn, send: make(chan []byte, 256), types: parseTypes(r)}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go s.writeLoop()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hammer-trader/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is what websocket clients receive.
type StreamMessage struct {
	Kind events.Kind `json:"kind"`
	Data any         `json:"data"`
	At   time.Time   `json:"at"`
}

// Hub fans engine events out to websocket clients. Slow clients miss
// messages instead of blocking the bus.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan StreamMessage]struct{}
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{clients: make(map[chan StreamMessage]struct{}), log: log}
}

// HandleEvent is an events.Handler that broadcasts ev.
func (h *Hub) HandleEvent(_ context.Context, ev events.Event) error {
	msg := StreamMessage{Kind: ev.Kind(), At: time.Now()}
	switch e := ev.(type) {
	case events.PositionSyncedEvent:
		msg.Data = e.Position
	case events.MarkPriceRefreshEvent:
		msg.Data = e.MarkPrice
	case events.StartStrategyEvent:
		msg.Data = e.Spec
	case events.UpdateStrategyEvent:
		msg.Data = e.Spec
	case events.StopStrategyEvent:
		msg.Data = gin.H{"key": e.StrategyKey}
	default:
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (h *Hub) subscribe() chan StreamMessage {
	ch := make(chan StreamMessage, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan StreamMessage) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) websocket(c *gin.Context) {
	if s.Hub == nil {
		respondError(c, http.StatusServiceUnavailable, "STREAM_DISABLED", "event stream not available")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	stream := s.Hub.subscribe()
	defer s.Hub.unsubscribe(stream)

	// Reader detects client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg := <-stream:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}

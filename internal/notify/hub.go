package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origin checks belong to the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans event payloads out to websocket subscribers per channel. Delivery
// is best effort: a subscriber that cannot keep up is dropped.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*subscriber]struct{})}
}

// Serve upgrades the request and parks the connection on the channel until
// the peer goes away. Authorization happens before this call.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*subscriber]struct{})
	}
	h.channels[channel][sub] = struct{}{}
	h.mu.Unlock()

	// Drain reads so close frames and pings are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(channel, sub)
	_ = conn.Close()
}

func (h *Hub) remove(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.channels[channel]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Publish sends the payload to every subscriber on the channel.
func (h *Hub) Publish(channel string, payload []byte) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.channels[channel]))
	for sub := range h.channels[channel] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.send(payload); err != nil {
			h.remove(channel, sub)
			_ = sub.conn.Close()
		}
	}
}

package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pushConn serializes writes to one websocket connection. gorilla/websocket
// forbids concurrent writers, and tasks dispatching from the scheduler's
// worker pool can push to the same recipient at the same time.
type pushConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *pushConn) writeJSON(payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(payload)
}

// Hub tracks live websocket connections per recipient and is the push
// transport's delivery target. A recipient may hold several connections;
// each gets its own copy of the payload.
type Hub struct {
	mu    sync.RWMutex
	conns map[string][]*pushConn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string][]*pushConn)}
}

func (h *Hub) add(recipient string, conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[recipient] = append(h.conns[recipient], &pushConn{conn: conn})
	h.mu.Unlock()
}

func (h *Hub) remove(recipient string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.conns[recipient]
	for i, c := range conns {
		if c.conn == conn {
			h.conns[recipient] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.conns[recipient]) == 0 {
		delete(h.conns, recipient)
	}
}

// Broadcast writes the payload to every connection the recipient holds and
// returns how many received it.
func (h *Hub) Broadcast(recipient string, payload any) (int, error) {
	h.mu.RLock()
	conns := append([]*pushConn(nil), h.conns[recipient]...)
	h.mu.RUnlock()

	sent := 0
	var firstErr error
	for _, conn := range conns {
		if err := conn.writeJSON(payload); err != nil {
			slog.Warn("failed to push to websocket", "recipient", recipient, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	if sent == 0 && firstErr != nil {
		return 0, fmt.Errorf("all connections failed: %w", firstErr)
	}
	return sent, nil
}

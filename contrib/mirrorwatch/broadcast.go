package mirrorwatch

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hamptonsmith/local-mongodb-collection-mirror/pkg/logger"
)

// Frame is the JSON message sent to websocket clients.
type Frame struct {
	// Kind is "changed" or "invalidated".
	Kind string `json:"kind"`
	// Key is the canonical key of the affected document, for changed frames.
	Key string `json:"key,omitempty"`
}

// Broadcaster accepts websocket connections and fans frames out to all of
// them. Slow or dead clients are dropped rather than allowed to stall the
// rest.
type Broadcaster struct {
	log      logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewBroadcaster(log logger.Logger) *Broadcaster {
	return &Broadcaster{
		log:     log,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	count := len(b.clients)
	b.mu.Unlock()
	b.log.Info("websocket client connected", "clients", count)

	// Clients only listen; reading just detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.drop(conn)
				return
			}
		}
	}()
}

// Publish sends a frame to every connected client.
func (b *Broadcaster) Publish(f Frame) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(f); err != nil {
			b.log.Warn("dropping websocket client", "error", err)
			b.drop(conn)
		}
	}
}

func (b *Broadcaster) drop(conn *websocket.Conn) {
	b.mu.Lock()
	_, present := b.clients[conn]
	delete(b.clients, conn)
	b.mu.Unlock()
	if present {
		_ = conn.Close()
	}
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		conns = append(conns, conn)
	}
	b.clients = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

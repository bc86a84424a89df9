package gateway

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor"
)

// frameBroadcaster fans out passing monitor frames to every connected
// WebSocket client, grounded on anodyne74's clients-map-plus-mutex
// broadcastTelemetry idiom.
type frameBroadcaster struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	logger *log.Entry
}

func newFrameBroadcaster() *frameBroadcaster {
	return &frameBroadcaster{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
		logger:  log.WithField("component", "gateway-ws"),
	}
}

func (b *frameBroadcaster) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	b.mu.Lock()
	b.clients[conn] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type wireFrame struct {
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
	Source    string `json:"source"`
	ID        uint32 `json:"id"`
	DLC       uint8  `json:"dlc"`
	Data      string `json:"data"`
}

func (b *frameBroadcaster) onFrame(f monitor.Frame) {
	payload, err := json.Marshal(wireFrame{
		Timestamp: f.Ingested.Format("2006-01-02T15:04:05.000000Z07:00"),
		Direction: f.Direction.String(),
		Source:    f.Source,
		ID:        f.CAN.ID,
		DLC:       f.CAN.DLC,
		Data:      f.CAN.String(),
	})
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.WithError(err).Debug("dropping unresponsive websocket client")
			conn.Close()
			delete(b.clients, conn)
		}
	}
}

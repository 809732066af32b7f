package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vigil/internal/monitor"
)

// AlertHub manages WebSocket connections for real-time alert streaming.
// Every connected dashboard receives every fired event.
type AlertHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewAlertHub creates a new alert hub
func NewAlertHub() *AlertHub {
	return &AlertHub{
		clients: make(map[*websocket.Conn]bool),
	}
}

// Register adds a connection
func (h *AlertHub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[conn] = true
	log.Printf("[WS] Client registered (total: %d)", len(h.clients))
}

// Unregister removes a connection
func (h *AlertHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Printf("[WS] Client unregistered (total: %d)", len(h.clients))
	}
}

// ClientCount returns the number of connected clients
func (h *AlertHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnEvent broadcasts a fired detection event to every client
func (h *AlertHub) OnEvent(ev *monitor.Event) {
	h.broadcast(NewAlertMessage(ev))
}

// BroadcastStatus sends a workload status change to every client
func (h *AlertHub) BroadcastStatus(kind monitor.WorkloadKind, active bool, cameras []monitor.CameraStatus) {
	h.broadcast(NewStatusMessage(kind, active, cameras))
}

func (h *AlertHub) broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.Unregister(conn)
			conn.Close()
		}
	}
}

var _ monitor.AlertHandler = (*AlertHub)(nil)

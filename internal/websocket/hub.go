package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AnuragDani/subscription-billing/internal/events"
	"github.com/AnuragDani/subscription-billing/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The admin console is served from a different origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub maintains the set of active console clients and broadcasts billing events to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages to broadcast
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu        sync.RWMutex
	startedAt time.Time
	logger    *logger.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		startedAt:  time.Now(),
		logger:     log,
	}
}

// Run starts the hub's main loop and returns when ctx is canceled
func (h *Hub) Run(ctx context.Context) {
	heartbeatTicker := time.NewTicker(pingPeriod)
	defer heartbeatTicker.Stop()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected", "client_id", client.ID, "total", clientCount)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()

		case <-heartbeatTicker.C:
			h.sendHeartbeat()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	clientCount := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("WebSocket client disconnected", "client_id", client.ID, "total", clientCount)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	close(h.done)
}

// sendHeartbeat sends a heartbeat message to all clients
func (h *Hub) sendHeartbeat() {
	clientCount := h.ClientCount()
	if clientCount == 0 {
		return
	}

	heartbeat := NewMessage(TypeHeartbeat, "ping", HeartbeatData{
		ServerTime:  time.Now().UTC(),
		ClientCount: clientCount,
	})
	if err := h.BroadcastMessage(heartbeat); err != nil {
		h.logger.Error("Error serializing heartbeat", "error", err)
	}
}

// Broadcast queues a message for all connected clients
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Broadcast channel full, message dropped")
	}
}

// BroadcastMessage broadcasts a Message struct to all clients
func (h *Hub) BroadcastMessage(msg *Message) error {
	data, err := msg.ToJSON()
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Emit forwards a domain event to the console feed
func (h *Hub) Emit(_ context.Context, event events.Event) {
	msg := NewMessage(event.Type, event.Event, event.Data)
	msg.ID = event.ID
	msg.Timestamp = event.Timestamp
	if err := h.BroadcastMessage(msg); err != nil {
		h.logger.Error("Error serializing event", "event", event.Name(), "error", err)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWs handles websocket requests from the peer
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade error", "error", err)
		return
	}

	client := NewClient(h, conn, uuid.New().String()[:8])

	welcome := NewMessage(TypeHealth, "connected", map[string]interface{}{
		"client_id":   client.ID,
		"server_time": time.Now().UTC(),
		"message":     "Connected to billing event stream",
	})
	if data, err := welcome.ToJSON(); err == nil {
		client.send <- data
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]map[string]interface{}, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, map[string]interface{}{
			"id":           client.ID,
			"connected_at": client.ConnectedAt,
		})
	}

	return map[string]interface{}{
		"client_count": len(h.clients),
		"started_at":   h.startedAt,
		"uptime":       time.Since(h.startedAt).String(),
		"clients":      clients,
	}
}

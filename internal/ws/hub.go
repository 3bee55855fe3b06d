package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cuongbtq/hls-downloader/internal/downloader/domain"
	"github.com/gorilla/websocket"
)

// Hub fans job updates out to every connected WebSocket client.
type Hub struct {
	logger     *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

// jobUpdate is the frame pushed to clients on every committed change.
type jobUpdate struct {
	Type            string  `json:"type"`
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	SpeedBps        float64 `json:"speed_bps,omitempty"`
	ETASeconds      float64 `json:"eta_seconds,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// NewHub creates a hub; call Start before registering clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
	}
}

// Start runs the hub loop in its own goroutine. The loop exits when Stop
// is called.
func (h *Hub) Start() {
	go func() {
		for {
			select {
			case <-h.stop:
				h.mu.Lock()
				for client := range h.clients {
					client.Close()
					delete(h.clients, client)
				}
				h.mu.Unlock()
				h.logger.Debug("WebSocket hub stopped")
				return

			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				count := len(h.clients)
				h.mu.Unlock()
				h.logger.Debug("WebSocket client connected", slog.Int("clients", count))

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.Close()
				}
				count := len(h.clients)
				h.mu.Unlock()
				h.logger.Debug("WebSocket client disconnected", slog.Int("clients", count))

			case message := <-h.broadcast:
				h.mu.Lock()
				for client := range h.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						h.logger.Debug("Dropping WebSocket client", slog.Any("error", err))
						client.Close()
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}()
}

// BroadcastJobUpdate pushes a snapshot to all clients. Never blocks the
// caller: when the broadcast buffer is full the update is dropped, the next
// one carries fresher state anyway.
func (h *Hub) BroadcastJobUpdate(job domain.Snapshot) {
	update := jobUpdate{
		Type:            "job_update",
		JobID:           job.ID,
		Status:          string(job.Status),
		BytesDownloaded: job.BytesDownloaded,
		SpeedBps:        job.SpeedBps,
		ETASeconds:      job.ETASeconds,
		Error:           job.Error,
	}

	message, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("Failed to marshal job update", slog.Any("error", err))
		return
	}

	select {
	case h.broadcast <- message:
	default:
	}
}

// RegisterClient attaches a new client connection to the hub. After Stop
// the connection is closed instead.
func (h *Hub) RegisterClient(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.stop:
		conn.Close()
	}
}

// UnregisterClient detaches a client and closes its connection.
func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.stop:
		conn.Close()
	}
}

// Stop terminates the hub loop and closes every connected client. Safe to
// call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

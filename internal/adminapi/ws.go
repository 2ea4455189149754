package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/facewatch/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SubmissionEvent is the live-feed payload broadcast to WebSocket clients
// whenever a finalized track's best event is submitted to the recognition
// service.
type SubmissionEvent struct {
	EventID  string `json:"event_id"`
	CameraID int    `json:"camera_id"`
	Outcome  string `json:"outcome"`
}

// wsClient is a connected Admin API WebSocket client, optionally filtering
// the live feed to one camera.
type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	cameraID string
}

// Hub fans out SubmissionEvents to every connected WebSocket client.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewHub constructs a Hub. Call Run in a goroutine before serving requests.
func NewHub(metrics *observability.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		metrics:    metrics,
		logger:     logger,
	}
}

// Run starts the hub's event loop; call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.WSConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.metrics.WSConnections.Dec()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if client.cameraID != "" {
					var evt SubmissionEvent
					if err := json.Unmarshal(message, &evt); err == nil {
						if client.cameraID != strconv.Itoa(evt.CameraID) {
							continue
						}
					}
				}
				select {
				case client.send <- message:
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast fans a SubmissionEvent out to every connected client.
func (h *Hub) Broadcast(event SubmissionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal ws event", "error", err)
		return
	}
	h.broadcast <- data
}

// HandleWS upgrades the request and registers the client with the hub.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64), cameraID: c.Query("camera_id")}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

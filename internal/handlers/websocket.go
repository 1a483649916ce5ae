// -----------------------------------------------------------------------
// WebSocket Handler - streams engine events to connected consoles
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/common"
	"github.com/ternarybob/custos/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocketHandler broadcasts orchestration events to connected consoles.
// High-frequency job_progress events are throttled so a fast remote job
// cannot flood the browser.
type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	eventService      interfaces.EventService
	allowedEvents     map[string]bool // Whitelist of events to broadcast (empty = allow all)
	progressThrottler *rate.Limiter   // Rate limiter for job_progress events
	serverInstanceID  string          // Unique ID generated on startup - clients use to detect server restart
}

// wsMessage is the wire format for one broadcast event
type wsMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// NewWebSocketHandler creates a handler and subscribes it to the engine's
// event stream
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig, progressThrottle time.Duration) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		allowedEvents:    make(map[string]bool),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
	}

	if progressThrottle > 0 {
		h.progressThrottler = rate.NewLimiter(rate.Every(progressThrottle), 1)
	}

	h.subscribeToEvents()

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Msg("WebSocket handler initialized")

	return h
}

// subscribeToEvents wires the engine's event types to the broadcast path
func (h *WebSocketHandler) subscribeToEvents() {
	if h.eventService == nil {
		return
	}

	eventTypes := []interfaces.EventType{
		interfaces.EventRunStarted,
		interfaces.EventRunCompleted,
		interfaces.EventJobProgress,
		interfaces.EventJobTerminal,
		interfaces.EventTrackerUpdate,
	}

	for _, eventType := range eventTypes {
		et := eventType
		err := h.eventService.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(event)
			return nil
		})
		if err != nil {
			h.logger.Error().Err(err).Str("event_type", string(et)).Msg("Failed to subscribe WebSocket handler")
		}
	}
}

// broadcast fans one event out to every connected client
func (h *WebSocketHandler) broadcast(event interfaces.Event) {
	eventType := string(event.Type)

	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return
	}

	// Throttle progress updates; terminal and lifecycle events always pass
	if event.Type == interfaces.EventJobProgress && h.progressThrottler != nil {
		if !h.progressThrottler.Allow() {
			return
		}
	}

	message := wsMessage{
		Type:      eventType,
		Payload:   event.Payload,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.writeToClient(conn, message)
	}
}

// writeToClient serializes writes per connection
func (h *WebSocketHandler) writeToClient(conn *websocket.Conn, message wsMessage) {
	h.mu.RLock()
	mu, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	mu.Lock()
	err := conn.WriteJSON(message)
	mu.Unlock()

	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket write failed, removing client")
		h.removeClient(conn)
	}
}

// HandleWebSocket upgrades the connection and registers the client.
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	// Hello message lets the console detect a server restart and reload
	// its state through the snapshot endpoints
	h.writeToClient(conn, wsMessage{
		Type: "hello",
		Payload: map[string]string{
			"server_instance_id": h.serverInstanceID,
			"version":            common.GetVersion(),
		},
		Timestamp: time.Now().Format(time.RFC3339),
	})

	// Read loop exists only to detect client disconnect
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// removeClient unregisters and closes a connection
func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	clientCount := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
}

// ClientCount returns the number of connected consoles
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

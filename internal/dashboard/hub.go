// Package dashboard streams sync status to WebSocket clients.
//
// Clients connecting to the hub receive a status message immediately, then
// a sync_complete message after every pass followed by a fresh status.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/daemon"
	syncer "github.com/medsync/medsync/internal/sync"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeStatus carries pending counts and connectivity
	MessageTypeStatus MessageType = "status"

	// MessageTypeSyncComplete carries the result of a sync pass
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusFunc returns the current sync status.
type StatusFunc func(ctx context.Context) (daemon.Status, error)

// Hub manages WebSocket clients and broadcasts dashboard messages.
type Hub struct {
	status StatusFunc
	logger zerolog.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub. Call Start before serving clients.
func NewHub(status StatusFunc, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		status:    status,
		logger:    logger.With().Str("component", "dashboard").Logger(),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop disconnects every client and ends the broadcast loop.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues a message for every client. Messages are dropped when
// the queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastSync publishes a pass result followed by the status it left.
// It matches daemon.Config.OnSync.
func (h *Hub) BroadcastSync(res syncer.Result) {
	h.publish(MessageTypeSyncComplete, res)
	h.PublishStatus()
}

// PublishStatus broadcasts the current status.
func (h *Hub) PublishStatus() {
	st, err := h.status(h.ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read status")
		return
	}
	h.publish(MessageTypeStatus, st)
}

func (h *Hub) publish(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal message data")
		return
	}
	h.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal message")
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := h.write(conn, data); err != nil {
					h.logger.Debug().Err(err).Msg("failed to send to client")
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Info().Int("clients", count).Msg("client connected")

	if st, err := h.status(r.Context()); err == nil {
		data, _ := json.Marshal(st)
		welcome, _ := json.Marshal(Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data})
		_ = h.write(conn, welcome)
	}

	go h.readLoop(conn)
}

// readLoop drains client frames until the client goes away.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info().Int("clients", count).Msg("client disconnected")
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

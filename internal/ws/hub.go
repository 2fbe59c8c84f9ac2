package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"roomchat/internal/observability"
)

// Transports tracked by the hub.
const (
	TransportWS  = "ws"
	TransportSSE = "sse"
)

type client struct {
	transport string
	info      ConnInfo
	cancel    context.CancelFunc
}

// Hub tracks live subscription connections per room.
type Hub struct {
	rooms map[string]map[string]*client
	mu    sync.RWMutex
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*client),
		log:   logger.With().Str("component", "hub").Logger(),
	}
}

// Register records a connection to roomID. cancel ends the connection's delivery loop.
func (h *Hub) Register(ctx context.Context, transport, roomID string, info ConnInfo, cancel context.CancelFunc) {
	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*client)
	}
	h.rooms[roomID][info.ConnID] = &client{transport: transport, info: info, cancel: cancel}
	h.mu.Unlock()

	observability.IncStreamActive(transport)
	h.publish(ctx, transport, "ws_connect", roomID, info, "")
	h.log.Debug().Str("transport", transport).Str("room", roomID).Str("conn_id", info.ConnID).Str("user", info.UserID).Msg("stream connected")
}

// Unregister removes a connection. It is a no-op for unknown connections.
func (h *Hub) Unregister(ctx context.Context, roomID string, info ConnInfo, reason string) {
	h.mu.Lock()
	c, ok := h.rooms[roomID][info.ConnID]
	if ok {
		delete(h.rooms[roomID], info.ConnID)
		if len(h.rooms[roomID]) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	observability.DecStreamActive(c.transport)
	h.publish(ctx, c.transport, "ws_disconnect", roomID, info, reason)
	h.log.Debug().Str("transport", c.transport).Str("room", roomID).Str("conn_id", info.ConnID).Str("reason", reason).Msg("stream disconnected")
}

// ReportError publishes a stream error event for a connection.
func (h *Hub) ReportError(ctx context.Context, transport, roomID string, info ConnInfo, err error) {
	h.log.Warn().Err(err).Str("transport", transport).Str("room", roomID).Str("conn_id", info.ConnID).Msg("stream error")
	h.publish(ctx, transport, "ws_error", roomID, info, err.Error())
}

// Connections returns the number of live connections in roomID.
func (h *Hub) Connections(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// UserConnections returns the number of live connections userID holds in roomID.
func (h *Hub) UserConnections(roomID, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.rooms[roomID] {
		if c.info.UserID == userID {
			n++
		}
	}
	return n
}

// Rooms returns the rooms with live connections and their connection counts.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for roomID, conns := range h.rooms {
		out[roomID] = len(conns)
	}
	return out
}

// CloseAll cancels every live connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.rooms {
		for _, c := range conns {
			c.cancel()
		}
	}
}

func (h *Hub) publish(ctx context.Context, transport, event, roomID string, info ConnInfo, reason string) {
	observability.IncStreamEvent(transport, event)
	envelope := observability.NewStreamEvent(transport, event, roomID, info.identity(), reason)
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.WithoutCancel(ctx), observability.StreamRoutingKey, envelope, headers)
}

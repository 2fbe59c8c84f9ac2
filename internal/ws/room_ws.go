package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"roomchat/internal/chat"
	"roomchat/internal/delivery"
	"roomchat/internal/middleware"
	"roomchat/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	maxMessage = 4096
)

// Engine runs a room delivery loop for one connection.
type Engine interface {
	Validate(ctx context.Context, userID, roomID string) error
	Run(ctx context.Context, userID, roomID string, sink delivery.Sink) error
}

// PresenceSetter records best-effort presence beacons.
type PresenceSetter interface {
	SetPresence(ctx context.Context, userID, roomID string, present bool)
}

// RoomWebSocketHandler streams a room's messages over a websocket.
type RoomWebSocketHandler struct {
	hub       *Hub
	engine    Engine
	presence  PresenceSetter
	keepalive time.Duration
}

// NewRoomWebSocketHandler constructs a RoomWebSocketHandler.
func NewRoomWebSocketHandler(hub *Hub, engine Engine, presence PresenceSetter, keepalive time.Duration) *RoomWebSocketHandler {
	return &RoomWebSocketHandler{hub: hub, engine: engine, presence: presence, keepalive: keepalive}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authorizes the subscription, upgrades the connection and runs the
// delivery loop until either side closes.
func (h *RoomWebSocketHandler) Handle(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := c.GetString(middleware.UserIDKey)

	ctx, span := otel.Tracer("roomchat/ws").Start(c.Request.Context(), "ws.handshake")
	if err := h.engine.Validate(ctx, userID, roomID); err != nil {
		span.End()
		c.JSON(chat.HTTPStatus(err), gin.H{"ok": false, "reason": chat.Reason(err)})
		return
	}
	traceID := span.SpanContext().TraceID().String()
	span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	info := NewConnInfo(c.Request, userID, traceID)
	closeReason := "server closed"
	h.hub.Register(ctx, TransportWS, roomID, info, cancel)
	h.presence.SetPresence(ctx, userID, roomID, true)
	defer func() {
		h.hub.Unregister(ctx, roomID, info, closeReason)
		// Another tab or device may still be streaming this room.
		if h.hub.UserConnections(roomID, userID) == 0 {
			h.presence.SetPresence(context.WithoutCancel(ctx), userID, roomID, false)
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- readPump(conn)
		cancel()
	}()

	sink := &wsSink{conn: conn, roomID: roomID}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.keepalive(ctx, h.keepalive)
	}()

	runErr := h.engine.Run(ctx, userID, roomID, sink)
	cancel()
	wg.Wait()

	switch {
	case runErr != nil:
		closeReason = runErr.Error()
		h.hub.ReportError(ctx, TransportWS, roomID, info, runErr)
	default:
		select {
		case err := <-readErr:
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.hub.ReportError(ctx, TransportWS, roomID, info, err)
			}
		default:
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readPump discards client frames and returns the error that ended the connection.
func readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

type wsSink struct {
	conn   *websocket.Conn
	roomID string
	mu     sync.Mutex
}

func (s *wsSink) Send(ctx context.Context, msg models.Message) error {
	payload, err := json.Marshal(models.RoomEvent{Type: "message", Room: s.roomID, Message: &msg})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, payload)
}

func (s *wsSink) write(messageType int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, payload)
}

func (s *wsSink) keepalive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				return
			}
		}
	}
}

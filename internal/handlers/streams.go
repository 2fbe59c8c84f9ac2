package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"roomchat/internal/delivery"
	"roomchat/internal/models"
	"roomchat/internal/notify"
	"roomchat/internal/ws"
)

// OnlineCounter exposes per-room online counts.
type OnlineCounter interface {
	Online(ctx context.Context, roomID string) (int, error)
	Subscribe(roomID string) *notify.Subscription[int]
}

// StreamHandler serves the server-sent event streams.
type StreamHandler struct {
	engine    ws.Engine
	hub       *ws.Hub
	presence  PresenceSetter
	online    OnlineCounter
	keepalive time.Duration
}

// NewStreamHandler builds a StreamHandler.
func NewStreamHandler(engine ws.Engine, hub *ws.Hub, presence PresenceSetter, online OnlineCounter, keepalive time.Duration) *StreamHandler {
	return &StreamHandler{engine: engine, hub: hub, presence: presence, online: online, keepalive: keepalive}
}

// Events streams a room's messages, starting from the caller's checkpoint.
func (h *StreamHandler) Events(c *gin.Context) {
	roomID := c.Query("room")
	userID := userIDFromContext(c)
	if err := h.engine.Validate(c.Request.Context(), userID, roomID); err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	stream := newSSEStream(c)
	info := ws.NewConnInfo(c.Request, userID, trace.SpanContextFromContext(ctx).TraceID().String())
	closeReason := "client closed"
	h.hub.Register(ctx, ws.TransportSSE, roomID, info, cancel)
	h.presence.SetPresence(ctx, userID, roomID, true)
	defer func() {
		h.hub.Unregister(ctx, roomID, info, closeReason)
		// Another tab or device may still be streaming this room.
		if h.hub.UserConnections(roomID, userID) == 0 {
			h.presence.SetPresence(context.WithoutCancel(ctx), userID, roomID, false)
		}
	}()

	stop := stream.keepalive(ctx, h.keepalive)
	err := h.engine.Run(ctx, userID, roomID, &sseSink{stream: stream, roomID: roomID})
	cancel()
	stop()
	if err != nil {
		closeReason = err.Error()
		h.hub.ReportError(ctx, ws.TransportSSE, roomID, info, err)
	}
}

// Online streams a room's online count whenever it changes.
func (h *StreamHandler) Online(c *gin.Context) {
	roomID := c.Query("room")
	if err := h.engine.Validate(c.Request.Context(), userIDFromContext(c), roomID); err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub := h.online.Subscribe(roomID)
	defer sub.Cancel()

	stream := newSSEStream(c)
	stop := stream.keepalive(ctx, h.keepalive)
	defer stop()

	if err := stream.event("online", gin.H{"connected": true}); err != nil {
		return
	}
	known, err := h.online.Online(ctx, roomID)
	if err != nil {
		known = 0
	}
	if err := stream.event("online", models.OnlineEvent(roomID, known)); err != nil {
		return
	}
	for {
		n, err := sub.Next(ctx, known)
		if err != nil {
			return
		}
		known = n
		if err := stream.event("online", models.OnlineEvent(roomID, n)); err != nil {
			return
		}
	}
}

// sseStream serializes writes to one event-stream response.
type sseStream struct {
	c  *gin.Context
	mu sync.Mutex
}

func newSSEStream(c *gin.Context) *sseStream {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	return &sseStream{c: c}
}

func (s *sseStream) event(name string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	s.c.SSEvent(name, data)
	s.c.Writer.Flush()
	return nil
}

// keepalive emits ping events every interval. The returned func stops it and
// waits for the pinger to exit.
func (s *sseStream) keepalive(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.event("ping", time.Now().UnixMilli()); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

type sseSink struct {
	stream *sseStream
	roomID string
}

func (s *sseSink) Send(ctx context.Context, msg models.Message) error {
	return s.stream.event("message", gin.H{"room": s.roomID, "data": msg})
}

var _ delivery.Sink = (*sseSink)(nil)

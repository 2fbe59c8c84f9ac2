package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"roomchat/internal/chat"
	"roomchat/internal/telemetry"
)

// PresenceSetter records best-effort presence beacons.
type PresenceSetter interface {
	SetPresence(ctx context.Context, userID, roomID string, present bool)
}

// RoomHandler serves room and message endpoints.
type RoomHandler struct {
	svc      *chat.Service
	presence PresenceSetter
	emitter  *telemetry.AuditEmitter
	log      zerolog.Logger
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(svc *chat.Service, presence PresenceSetter, emitter *telemetry.AuditEmitter, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		svc:      svc,
		presence: presence,
		emitter:  emitter,
		log:      logger.With().Str("component", "handlers").Logger(),
	}
}

// CreateRoom creates a room owned by the caller.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Room     string `json:"room"`
		IsPublic bool   `json:"isPublic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, chat.ErrMissingRoom)
		return
	}

	room, err := h.svc.CreateRoom(c.Request.Context(), userIDFromContext(c), req.Room, req.IsPublic)
	if err != nil {
		h.fail(c, err, "")
		return
	}

	emitAudit(c, h.emitter, "INFO", "Room created", room.ID)
	c.JSON(http.StatusCreated, gin.H{"ok": true, "room": room})
}

// ListRooms returns the rooms visible to the caller.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	listing, err := h.svc.ListRooms(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		h.fail(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"userRooms":   listing.UserRooms,
		"globalRooms": listing.GlobalRooms,
		"publicRooms": listing.PublicRooms,
	})
}

// EnterRoom checks access to a room and marks the caller present in it.
func (h *RoomHandler) EnterRoom(c *gin.Context) {
	var req struct {
		Room string `json:"room"`
	}
	_ = c.ShouldBindJSON(&req)

	userID := userIDFromContext(c)
	room, err := h.svc.Authorize(c.Request.Context(), userID, req.Room)
	if err != nil {
		h.fail(c, err, req.Room)
		return
	}

	h.presence.SetPresence(c.Request.Context(), userID, room.ID, true)
	c.JSON(http.StatusOK, gin.H{"ok": true, "room": room})
}

// Beacon records a presence beacon. It always answers 202.
func (h *RoomHandler) Beacon(c *gin.Context) {
	var req struct {
		Room    string `json:"room"`
		Present bool   `json:"present"`
	}
	if err := c.ShouldBindJSON(&req); err == nil && req.Room != "" {
		userID := userIDFromContext(c)
		if _, err := h.svc.Authorize(c.Request.Context(), userID, req.Room); err == nil {
			h.presence.SetPresence(context.WithoutCancel(c.Request.Context()), userID, req.Room, req.Present)
		}
	}
	c.Status(http.StatusAccepted)
}

// History returns the full ordered message log of a room.
func (h *RoomHandler) History(c *gin.Context) {
	roomID := c.Query("room")
	msgs, err := h.svc.GetChannelHistory(c.Request.Context(), userIDFromContext(c), roomID)
	if err != nil {
		h.fail(c, err, roomID)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// PostMessage appends a message to a room.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	roomID := c.Query("room")
	var req struct {
		Payload string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, chat.ErrInvalidPayload)
		return
	}

	msg, err := h.svc.PostMessage(c.Request.Context(), userIDFromContext(c), roomID, req.Payload)
	if err != nil {
		h.fail(c, err, roomID)
		return
	}

	emitAudit(c, h.emitter, "INFO", "Message posted", roomID)
	c.JSON(http.StatusCreated, msg)
}

func (h *RoomHandler) fail(c *gin.Context, err error, roomID string) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		emitAudit(c, h.emitter, "WARN", "Room access denied", roomID)
	case chat.HTTPStatus(err) >= http.StatusInternalServerError:
		h.log.Error().Err(err).Str("path", c.FullPath()).Str("room", roomID).Msg("request failed")
	}
	respondError(c, err)
}

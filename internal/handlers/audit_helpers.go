package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"roomchat/internal/chat"
	"roomchat/internal/middleware"
	"roomchat/internal/telemetry"
)

func requestIDFromContext(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}

func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, level, text, roomID string) {
	emitter.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c), roomID)
}

func respondError(c *gin.Context, err error) {
	c.JSON(chat.HTTPStatus(err), gin.H{"ok": false, "reason": chat.Reason(err)})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"roomchat/internal/telemetry"
	"roomchat/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, hub *ws.Hub, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(c, emitter, "INFO", "audit test", c.Query("room"))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/streams", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": hub.Rooms()})
	})
}

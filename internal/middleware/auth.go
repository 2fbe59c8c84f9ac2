package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the resolved user id.
const UserIDKey = "userID"

// IdentityResolver resolves the caller of a request.
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) (string, bool)
}

// AuthMiddleware resolves the caller once per request and rejects anonymous requests.
func AuthMiddleware(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := resolver.ResolveIdentity(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "reason": "UNAUTHORIZED"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

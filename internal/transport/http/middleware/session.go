package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lumenauth/magiclink-service/internal/core/port"
)

const sessionCookieName = "magic_session"

// RequireSession resolves the caller's session against the external identity
// provider and rejects the request when no valid session is presented.
func RequireSession(sessions port.SessionProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessions == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session provider unavailable"})
			return
		}

		sessionID := extractSessionID(c)
		if sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		userID, err := sessions.CurrentUser(c.Request.Context(), sessionID)
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(SessionIDKey, sessionID)
		c.Set(UserIDKey, userID)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = userID
		}

		c.Next()
	}
}

// GetUserID returns the authenticated user ID placed by RequireSession.
func GetUserID(c *gin.Context) string {
	if raw, exists := c.Get(UserIDKey); exists {
		if id, ok := raw.(string); ok {
			return id
		}
	}
	return ""
}

func extractSessionID(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if cookie, err := c.Cookie(sessionCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}

	return ""
}

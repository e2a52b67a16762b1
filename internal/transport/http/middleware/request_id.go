package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumenauth/magiclink-service/internal/infra/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns every request a correlation identifier, reusing the one a
// proxy already set. The identifier rides the request context so log lines
// from the login flow can be stitched together.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		c.Writer.Header().Set(requestIDHeader, reqID)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

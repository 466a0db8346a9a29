// Package middleware holds the cross-cutting gin middleware chain: request
// identifiers, rate limiting, CSRF enforcement, and security headers.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/rustygpt/rustygpt/internal/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID accepts a caller-provided request id or generates one, echoes it
// on the response, and threads it through the logging context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = logger.GenerateRequestID()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

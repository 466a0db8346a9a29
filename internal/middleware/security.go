package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/rustygpt/rustygpt/internal/config"
)

// SecurityHeaders applies the standard response hardening set. The CSP value
// comes from config so deployments embedding the web client can extend it.
func SecurityHeaders(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if cfg.CookieSecure {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		if cfg.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
		}
		c.Next()
	}
}

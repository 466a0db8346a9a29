package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RateLimitError represents a standardized 429 Too Many Requests response.
type RateLimitError struct {
	Code   string `json:"code"`
	Error  string `json:"error"`
	Bucket string `json:"bucket"`
}

// AbortWithRateLimit sends a 429 response and aborts the request.
func AbortWithRateLimit(c *gin.Context, bucket string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, &RateLimitError{
		Code:   CodeRateLimited,
		Error:  "rate limit exceeded for " + bucket + " requests",
		Bucket: bucket,
	})
}

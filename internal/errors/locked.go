package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithLocked sends a 423 Locked response and aborts the request.
// Used for disabled accounts.
func AbortWithLocked(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusLocked, NewAPIError(CodeDisabledUser, message, details))
}

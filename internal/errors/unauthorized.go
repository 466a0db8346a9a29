package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithUnauthorized sends a 401 Unauthorized response and aborts the request.
func AbortWithUnauthorized(c *gin.Context, code, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, NewAPIError(code, message, details))
}

// AbortWithRefreshRequired sends a 401 carrying a WWW-Authenticate: refresh
// challenge. Reserved for the suspicious-activity heuristics.
func AbortWithRefreshRequired(c *gin.Context, code, message string) {
	c.Header("WWW-Authenticate", "refresh")
	c.AbortWithStatusJSON(http.StatusUnauthorized, NewAPIError(code, message, nil))
}

package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithBadRequest sends a 400 Bad Request response and aborts the request.
func AbortWithBadRequest(c *gin.Context, code, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, NewAPIError(code, message, details))
}

// AbortWithValidation sends a 400 response with the generic validation code.
func AbortWithValidation(c *gin.Context, message string, details map[string]interface{}) {
	AbortWithBadRequest(c, CodeValidation, message, details)
}

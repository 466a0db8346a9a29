package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ForbiddenReason represents machine-readable reason codes for 403 errors.
type ForbiddenReason string

const (
	ReasonNotParticipant   ForbiddenReason = "not_participant"
	ReasonInsufficientRole ForbiddenReason = "insufficient_role"
	ReasonCSRFMismatch     ForbiddenReason = "csrf_mismatch"
)

// ForbiddenError represents a standardized 403 Forbidden response.
type ForbiddenError struct {
	Code    string                 `json:"code"`
	Error   string                 `json:"error"`
	Reason  ForbiddenReason        `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// AbortWithForbidden sends a 403 response with the ForbiddenError and aborts the request.
func AbortWithForbidden(c *gin.Context, err *ForbiddenError) {
	c.AbortWithStatusJSON(http.StatusForbidden, err)
}

// NotParticipant creates a ForbiddenError for conversation access denial.
func NotParticipant(conversationID string) *ForbiddenError {
	return &ForbiddenError{
		Code:   CodeForbidden,
		Error:  "not an active participant of this conversation",
		Reason: ReasonNotParticipant,
		Details: map[string]interface{}{
			"conversation_id": conversationID,
		},
	}
}

// InsufficientRole creates a ForbiddenError for role-gated operations.
func InsufficientRole(required string) *ForbiddenError {
	return &ForbiddenError{
		Code:   CodeForbidden,
		Error:  "operation requires the " + required + " role",
		Reason: ReasonInsufficientRole,
		Details: map[string]interface{}{
			"required_role": required,
		},
	}
}

// CSRFMismatch creates a ForbiddenError for the double-submit check failing.
func CSRFMismatch() *ForbiddenError {
	return &ForbiddenError{
		Code:   CodeCSRF,
		Error:  "CSRF token mismatch",
		Reason: ReasonCSRFMismatch,
	}
}

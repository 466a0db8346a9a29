package httpapi

import (
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	apierrors "github.com/rustygpt/rustygpt/internal/errors"
	"github.com/rustygpt/rustygpt/internal/store"
)

// respondStoreError maps the store sentinel taxonomy onto HTTP responses.
// Anything unmapped is a 500 with the cause logged, never leaked.
func (h *handlers) respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrUnauthorized):
		apierrors.AbortWithUnauthorized(c, apierrors.CodeInvalidSession, "Not authenticated", nil)
	case errors.Is(err, store.ErrForbidden):
		apierrors.AbortWithForbidden(c, apierrors.NotParticipant(""))
	case errors.Is(err, store.ErrNotFound):
		apierrors.AbortWithNotFound(c, "Resource not found", nil)
	case errors.Is(err, store.ErrValidation):
		apierrors.AbortWithValidation(c, err.Error(), nil)
	case errors.Is(err, store.ErrRateLimited):
		apierrors.AbortWithRateLimit(c, "write")
	default:
		h.deps.Log.ErrorContext(c.Request.Context(), "Request failed", slog.Any("error", err))
		apierrors.AbortWithInternal(c, "Internal error", nil)
	}
}

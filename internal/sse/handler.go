package sse

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/auth"
	apierrors "github.com/rustygpt/rustygpt/internal/errors"
	"github.com/rustygpt/rustygpt/internal/events"
	"github.com/rustygpt/rustygpt/internal/logger"
)

const pingInterval = 20 * time.Second

// AccessChecker gates stream attachment on conversation membership.
type AccessChecker interface {
	UserCanAccess(ctx context.Context, user, conversation uuid.UUID) (bool, error)
}

type Handler struct {
	hub    *events.Hub
	access AccessChecker
	log    *slog.Logger
}

func NewHandler(hub *events.Hub, access AccessChecker, log *slog.Logger) *Handler {
	return &Handler{hub: hub, access: access, log: logger.WithComponent(log, "sse")}
}

// Stream handles GET /api/stream/conversations/:id. A Last-Event-ID header
// (or last_event_id query parameter for EventSource polyfills) resumes the
// stream: everything retained after that sequence replays before live events.
func (h *Handler) Stream(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, apierrors.CodeInvalidSession, "Authentication required", nil)
		return
	}

	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.AbortWithValidation(c, "Invalid conversation id", nil)
		return
	}

	ctx := logger.WithConversationID(c.Request.Context(), conversationID.String())

	allowed, err := h.access.UserCanAccess(ctx, userID, conversationID)
	if err != nil {
		h.log.ErrorContext(ctx, "Membership check failed", slog.Any("error", err))
		apierrors.AbortWithInternal(c, "Could not verify conversation access", nil)
		return
	}
	if !allowed {
		apierrors.AbortWithForbidden(c, apierrors.NotParticipant(conversationID.String()))
		return
	}

	// Without a resume point the whole retained window replays.
	after := int64(0)
	lastID := c.GetHeader("Last-Event-ID")
	if lastID == "" {
		lastID = c.Query("last_event_id")
	}
	if seq, ok := events.ParseLastEventID(lastID); ok {
		after = seq
	}

	sub, backlog, err := h.hub.Subscribe(ctx, conversationID, after)
	if err != nil {
		h.log.ErrorContext(ctx, "Subscribe failed", slog.Any("error", err))
		apierrors.AbortWithInternal(c, "Could not attach event stream", nil)
		return
	}
	defer sub.Close()

	PrepareHeaders(c.Writer)
	c.Writer.WriteHeaderNow()

	sw, err := NewWriter(c.Writer)
	if err != nil {
		return
	}

	h.log.InfoContext(ctx, "Stream attached",
		slog.String("user_id", userID.String()),
		slog.Int64("resume_after", after),
		slog.Int("backlog", len(backlog)))

	for _, e := range backlog {
		if err := sw.WriteEvent(e.EventID(), e.Type, e.Payload); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := sw.WritePing(); err != nil {
				return
			}
		case e, open := <-sub.C():
			if !open {
				return
			}
			if err := sw.WriteEvent(e.EventID(), e.Type, e.Payload); err != nil {
				return
			}
			// A lagged subscriber keeps receiving what fits; the dropped
			// events are recoverable via Last-Event-ID replay.
			if n := sub.Lagged(); n > 0 {
				h.log.WarnContext(ctx, "Subscriber lagging, events dropped", slog.Int64("dropped", n))
			}
		}
	}
}

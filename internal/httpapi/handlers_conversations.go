package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/auth"
	apierrors "github.com/rustygpt/rustygpt/internal/errors"
)

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		apierrors.AbortWithValidation(c, "invalid "+name+" identifier", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) createConversation(c *gin.Context) {
	actor, _ := auth.UserID(c)
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithValidation(c, "title is required", nil)
		return
	}

	conv, err := h.deps.Conversation.Create(c.Request.Context(), actor, req.Title)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *handlers) listThreads(c *gin.Context) {
	actor, _ := auth.UserID(c)
	conv, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	threads, err := h.deps.Conversation.ListThreads(c.Request.Context(), actor, conv, limit, offset)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (h *handlers) unreadSummary(c *gin.Context) {
	actor, _ := auth.UserID(c)
	conv, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	summary, err := h.deps.Conversation.UnreadSummary(c.Request.Context(), actor, conv)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": summary})
}

func (h *handlers) addParticipant(c *gin.Context) {
	actor, _ := auth.UserID(c)
	conv, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID uuid.UUID `json:"user_id" binding:"required"`
		Role   string    `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithValidation(c, "user_id is required", nil)
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}

	if err := h.deps.Conversation.AddParticipant(c.Request.Context(), actor, conv, req.UserID, req.Role); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (h *handlers) removeParticipant(c *gin.Context) {
	actor, _ := auth.UserID(c)
	conv, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	user, err := uuid.Parse(c.Param("user"))
	if err != nil {
		apierrors.AbortWithValidation(c, "invalid user identifier", nil)
		return
	}

	if err := h.deps.Conversation.RemoveParticipant(c.Request.Context(), actor, conv, user); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (h *handlers) createInvite(c *gin.Context) {
	actor, _ := auth.UserID(c)
	conv, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		InvitedUser *uuid.UUID `json:"invited_user,omitempty"`
	}
	_ = c.ShouldBindJSON(&req)

	invite, err := h.deps.Conversation.CreateInvite(c.Request.Context(), actor, conv, req.InvitedUser)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invite)
}

func (h *handlers) acceptInvite(c *gin.Context) {
	actor, _ := auth.UserID(c)
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithValidation(c, "code is required", nil)
		return
	}

	conv, err := h.deps.Conversation.AcceptInvite(c.Request.Context(), actor, req.Code)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conv})
}

func (h *handlers) revokeInvite(c *gin.Context) {
	actor, _ := auth.UserID(c)
	invite, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.deps.Conversation.RevokeInvite(c.Request.Context(), actor, invite); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

func (h *handlers) typing(c *gin.Context) {
	actor, _ := auth.UserID(c)
	var req struct {
		ConversationID uuid.UUID `json:"conversation_id" binding:"required"`
		RootID         uuid.UUID `json:"root_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithValidation(c, "conversation_id and root_id are required", nil)
		return
	}

	if err := h.deps.Conversation.SetTyping(c.Request.Context(), actor, req.ConversationID, req.RootID); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "typing"})
}

func (h *handlers) heartbeat(c *gin.Context) {
	actor, _ := auth.UserID(c)
	var req struct {
		Status string `json:"status"`
		// The conversation the client currently has open; presence fans out
		// to its stream.
		ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Status == "" {
		req.Status = "online"
	}

	conv := uuid.NullUUID{}
	if req.ConversationID != nil {
		conv = uuid.NullUUID{UUID: *req.ConversationID, Valid: true}
	}

	if err := h.deps.Conversation.Heartbeat(c.Request.Context(), actor, req.Status, conv); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func queryInt(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rustygpt/rustygpt/internal/auth"
	"github.com/rustygpt/rustygpt/internal/conversation"
	apierrors "github.com/rustygpt/rustygpt/internal/errors"
	"github.com/rustygpt/rustygpt/internal/supervisor"
)

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
	// Model selects the assistant backend; empty means the default. Set
	// assistant_reply to false to post without spawning a generation.
	Model          string `json:"model,omitempty"`
	AssistantReply *bool  `json:"assistant_reply,omitempty"`
}

func (r *postMessageRequest) wantsAssistant() bool {
	return r.AssistantReply == nil || *r.AssistantReply
}

// postRoot starts a thread and, unless disabled, spawns an assistant reply to
// the new root in the background.
func (h *handlers) postRoot(c *gin.Context) {
	actor, _ := auth.UserID(c)
	conv, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithValidation(c, "content is required", nil)
		return
	}

	msg, err := h.deps.Conversation.PostRoot(c.Request.Context(), actor, conv, req.Content)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	resp := gin.H{"message": conversation.NewMessageView(msg)}
	if req.wantsAssistant() {
		assistantID, err := h.deps.Pipeline.GenerateReply(c.Request.Context(), actor, msg, req.Model)
		if err != nil {
			apierrors.AbortWithBadRequest(c, apierrors.CodeValidation, err.Error(), nil)
			return
		}
		resp["assistant_message_id"] = assistantID
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *handlers) reply(c *gin.Context) {
	actor, _ := auth.UserID(c)
	parent, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithValidation(c, "content is required", nil)
		return
	}

	msg, err := h.deps.Conversation.Reply(c.Request.Context(), actor, parent, req.Content)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	resp := gin.H{"message": conversation.NewMessageView(msg)}
	if req.wantsAssistant() {
		assistantID, err := h.deps.Pipeline.GenerateReply(c.Request.Context(), actor, msg, req.Model)
		if err != nil {
			apierrors.AbortWithBadRequest(c, apierrors.CodeValidation, err.Error(), nil)
			return
		}
		resp["assistant_message_id"] = assistantID
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *handlers) threadSummary(c *gin.Context) {
	actor, _ := auth.UserID(c)
	root, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	summary, err := h.deps.Conversation.GetThreadSummary(c.Request.Context(), actor, root)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) threadTree(c *gin.Context) {
	actor, _ := auth.UserID(c)
	root, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	afterPath := c.Query("after_path")
	limit := queryInt(c, "limit", 200)

	msgs, err := h.deps.Conversation.GetThreadSubtree(c.Request.Context(), actor, root, afterPath, limit)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	resp := gin.H{"messages": msgs}
	if len(msgs) > 0 {
		resp["next_after_path"] = msgs[len(msgs)-1].Path
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) markRead(c *gin.Context) {
	actor, _ := auth.UserID(c)
	root, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.deps.Conversation.MarkRead(c.Request.Context(), actor, root); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func (h *handlers) editMessage(c *gin.Context) {
	actor, _ := auth.UserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithValidation(c, "content is required", nil)
		return
	}

	if err := h.deps.Conversation.Edit(c.Request.Context(), actor, id, req.Content, req.Reason); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "edited"})
}

func (h *handlers) deleteMessage(c *gin.Context) {
	actor, _ := auth.UserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.deps.Conversation.SoftDelete(c.Request.Context(), actor, id, req.Reason); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *handlers) restoreMessage(c *gin.Context) {
	actor, _ := auth.UserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.deps.Conversation.Restore(c.Request.Context(), actor, id); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restored"})
}

func (h *handlers) messageChunks(c *gin.Context) {
	actor, _ := auth.UserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	chunks, err := h.deps.Conversation.ListMessageChunks(c.Request.Context(), actor, id)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": id, "chunks": chunks})
}

// cancelGeneration stops a running assistant stream. When the generation is
// not local and NATS is configured, the cancel is relayed to the owning
// instance.
func (h *handlers) cancelGeneration(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if h.deps.Pipeline.Cancel(id) {
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "message_id": id})
		return
	}

	if h.deps.Distributed != nil {
		found, err := h.deps.Distributed.RequestCancel(c.Request.Context(), id, supervisor.ReasonCancelled)
		if err != nil {
			h.respondStoreError(c, err)
			return
		}
		if found {
			c.JSON(http.StatusOK, gin.H{"status": "cancelled", "message_id": id})
			return
		}
	}

	apierrors.AbortWithNotFound(c, "No running generation for this message", map[string]interface{}{
		"message_id": id.String(),
	})
}

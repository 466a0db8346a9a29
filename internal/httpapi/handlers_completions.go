package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/assistant"
	"github.com/rustygpt/rustygpt/internal/auth"
	apierrors "github.com/rustygpt/rustygpt/internal/errors"
	"github.com/rustygpt/rustygpt/internal/provider"
	"github.com/rustygpt/rustygpt/internal/sse"
	"github.com/rustygpt/rustygpt/internal/store"
)

// chatCompletions serves /v1/chat/completions in both modes. Without a
// metadata binding the request is stateless: nothing is persisted and the
// reply only lands in the response. With metadata.rustygpt the user turn is
// written into the thread and the assistant reply grows the tree while being
// teed into the response.
func (h *handlers) chatCompletions(c *gin.Context) {
	var req assistant.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, assistant.ErrInvalidStop) {
			apierrors.AbortWithBadRequest(c, apierrors.CodeInvalidStop, err.Error(), nil)
			return
		}
		apierrors.AbortWithValidation(c, "malformed request body", nil)
		return
	}
	if err := req.Validate(); err != nil {
		apierrors.AbortWithValidation(c, err.Error(), nil)
		return
	}

	if req.Metadata == nil || req.Metadata.RustyGPT == nil {
		h.statelessCompletion(c, &req)
		return
	}
	h.statefulCompletion(c, &req, req.Metadata.RustyGPT)
}

func (h *handlers) statelessCompletion(c *gin.Context, req *assistant.CompletionRequest) {
	if !req.Stream {
		resp, err := h.deps.Pipeline.Complete(c.Request.Context(), req)
		if err != nil {
			h.completionError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		apierrors.AbortWithInternal(c, "Streaming is not supported on this connection", nil)
		return
	}
	sse.PrepareHeaders(c.Writer)
	c.Status(http.StatusOK)

	streamErr := h.deps.Pipeline.StreamCompletion(c.Request.Context(), req, func(chunk *assistant.CompletionChunk) error {
		return writeChunk(writer, chunk)
	})
	if streamErr != nil {
		// Headers are gone; all we can do is end the stream and log.
		h.deps.Log.WarnContext(c.Request.Context(), "Stateless completion stream ended early",
			"error", streamErr)
		return
	}
	_ = writer.WriteEvent("", "", []byte("[DONE]"))
}

func (h *handlers) statefulCompletion(c *gin.Context, req *assistant.CompletionRequest, binding *assistant.ConversationBinding) {
	actor, ok := auth.UserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, apierrors.CodeInvalidSession, "Stateful completions require authentication", nil)
		return
	}

	content, ok := req.LastUserContent()
	if !ok {
		apierrors.AbortWithValidation(c, "stateful requests need at least one user message", nil)
		return
	}

	// Resolve the model before the user turn lands in the tree, so a bad
	// model name does not leave a stray message behind.
	if err := h.deps.Pipeline.CheckModel(req.Model); err != nil {
		apierrors.AbortWithValidation(c, err.Error(), nil)
		return
	}

	userMsg, err := h.writeUserTurn(c, actor, binding, content)
	if err != nil {
		return // writeUserTurn already responded
	}

	if !req.Stream {
		result, err := h.deps.Pipeline.GenerateInThread(c.Request.Context(), actor, userMsg, req, nil)
		if err != nil {
			h.completionError(c, err)
			return
		}
		c.JSON(http.StatusOK, statefulResponse(req.Model, userMsg.ID, result))
		return
	}

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		apierrors.AbortWithInternal(c, "Streaming is not supported on this connection", nil)
		return
	}
	sse.PrepareHeaders(c.Writer)
	c.Status(http.StatusOK)

	enc := assistant.NewChunkEncoder(req.Model)
	result, err := h.deps.Pipeline.GenerateInThread(c.Request.Context(), actor, userMsg, req, func(chunk provider.StreamChunk) error {
		frame := enc.Delta(chunk.TextDelta)
		if frame == nil {
			return nil
		}
		return writeChunk(writer, frame)
	})
	if err != nil {
		h.deps.Log.WarnContext(c.Request.Context(), "Stateful completion stream ended early",
			"error", err)
		return
	}

	if err := writeChunk(writer, enc.Final(result.FinishReason, result.Usage)); err == nil {
		_ = writer.WriteEvent("", "", []byte("[DONE]"))
	}
}

// writeUserTurn records the latest user message in the thread, either as a
// new root or as a child of the bound parent. It responds on error.
func (h *handlers) writeUserTurn(c *gin.Context, actor uuid.UUID, binding *assistant.ConversationBinding, content string) (*store.Message, error) {
	if binding.ParentMessageID != "" {
		parent, err := uuid.Parse(binding.ParentMessageID)
		if err != nil {
			apierrors.AbortWithValidation(c, "metadata.rustygpt.parent_message_id is not a valid uuid", nil)
			return nil, err
		}
		msg, err := h.deps.Conversation.Reply(c.Request.Context(), actor, parent, content)
		if err != nil {
			h.respondStoreError(c, err)
			return nil, err
		}
		return msg, nil
	}

	conv, err := uuid.Parse(binding.ConversationID)
	if err != nil {
		apierrors.AbortWithValidation(c, "metadata.rustygpt.conversation_id is not a valid uuid", nil)
		return nil, err
	}
	msg, err := h.deps.Conversation.PostRoot(c.Request.Context(), actor, conv, content)
	if err != nil {
		h.respondStoreError(c, err)
		return nil, err
	}
	return msg, nil
}

func statefulResponse(model string, userMessageID uuid.UUID, result *assistant.Result) gin.H {
	warnings := []string{}
	if result.Warning != "" {
		warnings = append(warnings, result.Warning)
	}
	return gin.H{
		"id":      "chatcmpl-" + result.MessageID.String(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []gin.H{{
			"index":         0,
			"message":       gin.H{"role": "assistant", "content": result.Content},
			"finish_reason": result.FinishReason,
		}},
		"usage":    result.Usage,
		"warnings": warnings,
		"metadata": gin.H{"rustygpt": gin.H{
			"user_message_id":      userMessageID,
			"assistant_message_id": result.MessageID,
		}},
	}
}

func (h *handlers) completionError(c *gin.Context, err error) {
	if errors.Is(err, assistant.ErrInvalidStop) {
		apierrors.AbortWithBadRequest(c, apierrors.CodeInvalidStop, err.Error(), nil)
		return
	}
	if errors.Is(err, provider.ErrUnknownModel) {
		apierrors.AbortWithValidation(c, err.Error(), nil)
		return
	}
	h.deps.Log.ErrorContext(c.Request.Context(), "Completion failed", "error", err)
	apierrors.AbortWithInternal(c, "Completion backend failed", nil)
}

func writeChunk(w *sse.Writer, chunk *assistant.CompletionChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return w.WriteEvent("", "", data)
}

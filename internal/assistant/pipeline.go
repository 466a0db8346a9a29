// Package assistant drives reply generation: it renders conversation context
// into a prompt, streams the backend's deltas onto the event bus, persists
// the growing reply, and finalizes the assistant message exactly once no
// matter how the stream ends.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/conversation"
	"github.com/rustygpt/rustygpt/internal/events"
	"github.com/rustygpt/rustygpt/internal/logger"
	"github.com/rustygpt/rustygpt/internal/provider"
	"github.com/rustygpt/rustygpt/internal/store"
	"github.com/rustygpt/rustygpt/internal/supervisor"
)

const (
	cancelledPlaceholder = "Assistant response cancelled."
	timedOutPlaceholder  = "Assistant response timed out before completion."
	emptyPlaceholder     = "Assistant returned an empty response."

	warnStreamError = "⚠️ assistant generation failed before completion."
	warnTimeout     = "⚠️ assistant generation timed out before completion."
)

// Error codes carried on bus error events.
const (
	errCodeStream  = "assistant_stream_error"
	errCodeTimeout = "assistant_timeout"
)

type Pipeline struct {
	convo    *conversation.Service
	hub      *events.Hub
	sup      *supervisor.Supervisor
	registry *provider.Registry
	log      *slog.Logger
}

func NewPipeline(convo *conversation.Service, hub *events.Hub, sup *supervisor.Supervisor, registry *provider.Registry, log *slog.Logger) *Pipeline {
	return &Pipeline{
		convo:    convo,
		hub:      hub,
		sup:      sup,
		registry: registry,
		log:      logger.WithComponent(log, "assistant"),
	}
}

// CheckModel verifies a model name resolves before any side effects happen.
func (p *Pipeline) CheckModel(name string) error {
	_, err := p.registry.Resolve(name)
	return err
}

// Result summarizes a finished in-thread generation.
type Result struct {
	MessageID    uuid.UUID
	Content      string
	FinishReason string
	Usage        *events.Usage
	Warning      string
}

// GenerateReply spawns a supervised background generation answering parent.
// It returns the pre-allocated assistant message id immediately; the message
// row itself appears once the backend produces text.
func (p *Pipeline) GenerateReply(ctx context.Context, actor uuid.UUID, parent *store.Message, modelName string) (uuid.UUID, error) {
	model, err := p.registry.Resolve(modelName)
	if err != nil {
		return uuid.Nil, err
	}

	gr, err := p.threadRequest(ctx, model, actor, parent, nil)
	if err != nil {
		return uuid.Nil, err
	}

	assistantID := uuid.New()
	gen := p.sup.Register(context.Background(), assistantID, parent.ConversationID, parent.RootID)
	go func() {
		defer p.sup.Unregister(assistantID)
		p.generate(gen, model, actor, parent, assistantID, gr, nil)
	}()
	return assistantID, nil
}

// GenerateInThread runs a stateful generation inside the caller's request,
// teeing every chunk to sink (for the chat-completions response) while the
// usual persistence and bus publication happen. Client disconnection cancels
// the generation through the request context.
func (p *Pipeline) GenerateInThread(ctx context.Context, actor uuid.UUID, parent *store.Message, req *CompletionRequest, sink func(provider.StreamChunk) error) (*Result, error) {
	model, err := p.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	gr, err := p.threadRequest(ctx, model, actor, parent, req)
	if err != nil {
		return nil, err
	}

	assistantID := uuid.New()
	gen := p.sup.Register(ctx, assistantID, parent.ConversationID, parent.RootID)
	defer p.sup.Unregister(assistantID)

	return p.generate(gen, model, actor, parent, assistantID, gr, sink), nil
}

// threadRequest builds the provider request from the true ancestor chain,
// with the completion request's overrides applied when present.
func (p *Pipeline) threadRequest(ctx context.Context, model *provider.Model, actor uuid.UUID, parent *store.Message, req *CompletionRequest) (provider.GenerationRequest, error) {
	chain, err := p.convo.AncestorChain(ctx, actor, parent.ID)
	if err != nil {
		return provider.GenerationRequest{}, err
	}

	messages := ChainToMessages(chain)
	if len(messages) == 0 {
		messages = []ChatMessage{{Role: "user", Content: parent.Content}}
	}
	messages = TrimToContextWindow(messages, model.Config.ContextWindow, model.Config.MaxTokens)

	gr := provider.GenerationRequest{
		Model:       model.Config.Name,
		Prompt:      RenderPrompt(messages),
		Temperature: model.Config.Temperature,
		TopP:        model.Config.TopP,
		MaxTokens:   model.Config.MaxTokens,
	}
	if req != nil {
		gr.Stop = []string(req.Stop)
		if req.Temperature != nil {
			gr.Temperature = *req.Temperature
		}
		if req.TopP != nil {
			gr.TopP = *req.TopP
		}
		if req.MaxTokens > 0 {
			gr.MaxTokens = req.MaxTokens
		}
	}
	return gr, nil
}

func (p *Pipeline) generate(gen *supervisor.Generation, model *provider.Model, actor uuid.UUID, parent *store.Message, assistantID uuid.UUID, gr provider.GenerationRequest, sink func(provider.StreamChunk) error) *Result {
	ctrl := &streamController{
		pipeline:    p,
		model:       model,
		actor:       actor,
		parent:      parent,
		assistantID: assistantID,
		prompt:      gr.Prompt,
		// DB writes survive cancellation so the partial reply is not lost.
		persistCtx: context.WithoutCancel(gen.Context()),
	}

	err := model.Provider.StreamReply(gen.Context(), gr, func(chunk provider.StreamChunk) error {
		if err := ctrl.emit(chunk); err != nil {
			return err
		}
		if sink != nil {
			return sink(chunk)
		}
		return nil
	})

	return ctrl.finalize(err, gen.Reason())
}

// streamController accumulates one assistant reply. The provider calls emit
// sequentially, so no locking is needed; finalize runs after the stream ends.
type streamController struct {
	pipeline    *Pipeline
	model       *provider.Model
	actor       uuid.UUID
	parent      *store.Message
	assistantID uuid.UUID
	prompt      string
	persistCtx  context.Context

	row        *store.Message
	content    strings.Builder
	chunkIndex int
	finish     string
	usage      *events.Usage
}

func (c *streamController) emit(chunk provider.StreamChunk) error {
	if chunk.IsFinal {
		c.finish = chunk.FinishReason
		c.usage = chunk.Usage
	}
	if chunk.TextDelta == "" {
		return nil
	}
	return c.appendDelta(chunk.TextDelta)
}

func (c *streamController) appendDelta(delta string) error {
	// The assistant row is created lazily on the first real text, so aborted
	// generations never leave an empty node behind mid-stream.
	if c.row == nil {
		if strings.TrimSpace(delta) == "" {
			return nil
		}
		row, err := c.pipeline.convo.ReplyAsAssistant(c.persistCtx, c.actor, c.parent.ID, delta, c.assistantID)
		if err != nil {
			return err
		}
		c.row = row
	}

	c.content.WriteString(delta)

	if c.model.Config.PersistChunks {
		if err := c.pipeline.convo.Store().AppendMessageChunk(c.persistCtx, c.actor, c.assistantID, c.chunkIndex, delta); err != nil {
			c.pipeline.log.Warn("Chunk persistence failed",
				slog.String("message_id", c.assistantID.String()),
				slog.Any("error", err))
		}
	}

	c.publish(events.TypeMessageDelta, events.MessageDeltaPayload{
		RootID:     c.parent.RootID,
		MessageID:  c.assistantID,
		ChunkIndex: c.chunkIndex,
		Delta:      delta,
	})
	c.chunkIndex++
	return nil
}

// finalize settles the reply exactly once: resolve the finish reason, ensure
// a message row exists, write the full content, and announce completion.
func (c *streamController) finalize(streamErr error, reason supervisor.StopReason) *Result {
	finish := c.resolveFinish(streamErr, reason)
	content := c.content.String()

	warning := ""
	switch finish {
	case "error":
		warning = warnStreamError
	case "timeout":
		warning = warnTimeout
	}

	switch {
	case content == "":
		content = placeholderFor(finish)
	case warning != "":
		content += "\n\n" + warning
	}

	if c.row == nil {
		row, err := c.pipeline.convo.ReplyAsAssistant(c.persistCtx, c.actor, c.parent.ID, content, c.assistantID)
		if err != nil {
			c.pipeline.log.Error("Assistant row creation failed at finalize",
				slog.String("parent_id", c.parent.ID.String()),
				slog.Any("error", err))
			c.publishError(finish, streamErr)
			return &Result{MessageID: c.assistantID, Content: content, FinishReason: finish, Warning: warning}
		}
		c.row = row
	} else if err := c.pipeline.convo.Store().UpdateMessageContent(c.persistCtx, c.actor, c.assistantID, content); err != nil {
		c.pipeline.log.Error("Assistant content update failed",
			slog.String("message_id", c.assistantID.String()),
			slog.Any("error", err))
	}

	usage := c.usage
	if usage == nil || usage.TotalTokens == 0 {
		prompt := EstimateTokens(c.prompt)
		completion := EstimateTokens(content)
		usage = &events.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	}

	if warning != "" {
		c.publishError(finish, streamErr)
	}

	c.publish(events.TypeMessageDone, events.MessageDonePayload{
		RootID:       c.parent.RootID,
		MessageID:    c.assistantID,
		FinishReason: finish,
		Content:      content,
		Usage:        usage,
	})

	c.row.Content = content
	c.pipeline.convo.PublishActivity(c.persistCtx, c.row)

	c.pipeline.log.Info("Generation finished",
		slog.String("message_id", c.assistantID.String()),
		slog.String("finish_reason", finish),
		slog.Int("chunks", c.chunkIndex))

	return &Result{
		MessageID:    c.assistantID,
		Content:      content,
		FinishReason: finish,
		Usage:        usage,
		Warning:      warning,
	}
}

func (c *streamController) resolveFinish(streamErr error, reason supervisor.StopReason) string {
	switch reason {
	case supervisor.ReasonCancelled:
		return "cancelled"
	case supervisor.ReasonTimedOut:
		return "timeout"
	}
	if streamErr != nil {
		if errors.Is(streamErr, context.DeadlineExceeded) {
			return "timeout"
		}
		if errors.Is(streamErr, context.Canceled) {
			return "cancelled"
		}
		return "error"
	}
	if c.finish != "" {
		return c.finish
	}
	return "stop"
}

func placeholderFor(finish string) string {
	switch finish {
	case "cancelled":
		return cancelledPlaceholder
	case "timeout":
		return timedOutPlaceholder
	default:
		return emptyPlaceholder
	}
}

func (c *streamController) publishError(finish string, streamErr error) {
	code := errCodeStream
	message := "The assistant stream failed."
	if finish == "timeout" {
		code = errCodeTimeout
		message = "The assistant timed out before completing its reply."
	}
	if streamErr != nil && finish != "timeout" {
		c.pipeline.log.Error("Assistant stream error",
			slog.String("message_id", c.assistantID.String()),
			slog.Any("error", streamErr))
	}
	c.publish(events.TypeError, events.ErrorPayload{
		Code:      code,
		Message:   message,
		MessageID: uuid.NullUUID{UUID: c.assistantID, Valid: true},
	})
}

func (c *streamController) publish(eventType string, payload any) {
	root := uuid.NullUUID{UUID: c.parent.RootID, Valid: true}
	msg := uuid.NullUUID{UUID: c.assistantID, Valid: true}
	if _, err := c.pipeline.hub.Publish(c.persistCtx, c.parent.ConversationID, eventType, payload, root, msg); err != nil {
		c.pipeline.log.Error("Event publish failed",
			slog.String("event_type", eventType),
			slog.Any("error", err))
	}
}

// Cancel stops a running generation for the given assistant message.
func (p *Pipeline) Cancel(messageID uuid.UUID) bool {
	return p.sup.Cancel(messageID, supervisor.ReasonCancelled)
}

// Package provider abstracts the model backends that produce assistant
// replies as incremental text deltas.
package provider

import (
	"context"

	"github.com/rustygpt/rustygpt/internal/events"
)

// GenerationRequest is a fully resolved sampling request. The prompt already
// contains the rendered conversation context.
type GenerationRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stop        []string
}

// StreamChunk is one increment of a streamed reply. Exactly one chunk per
// stream has IsFinal set; it carries the finish reason and, when the backend
// reports it, token usage.
type StreamChunk struct {
	TextDelta    string
	FinishReason string
	Usage        *events.Usage
	IsFinal      bool
}

// Provider streams a reply, invoking emit for every chunk in order. A non-nil
// error from emit aborts the stream. Implementations must respect ctx
// cancellation between chunks.
type Provider interface {
	Name() string
	StreamReply(ctx context.Context, req GenerationRequest, emit func(StreamChunk) error) error
}

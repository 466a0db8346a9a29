package provider

import (
	"context"

	"github.com/rustygpt/rustygpt/internal/events"
)

const fallbackReply = "No model backend is configured. An administrator needs to register a model before the assistant can reply."

// Fallback answers every request with a fixed notice. It keeps the pipeline
// exercisable on installs that have no runtime configured yet.
type Fallback struct{}

func NewFallback() *Fallback { return &Fallback{} }

func (p *Fallback) Name() string { return "fallback" }

func (p *Fallback) StreamReply(ctx context.Context, _ GenerationRequest, emit func(StreamChunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := emit(StreamChunk{TextDelta: fallbackReply}); err != nil {
		return err
	}
	return emit(StreamChunk{
		FinishReason: "stop",
		Usage:        &events.Usage{CompletionTokens: len(fallbackReply) / 4, TotalTokens: len(fallbackReply) / 4},
		IsFinal:      true,
	})
}

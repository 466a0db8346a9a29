package assistant

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/events"
	"github.com/rustygpt/rustygpt/internal/provider"
)

// Chat-completions wire types, compatible with the common client libraries.

type CompletionResponse struct {
	ID       string             `json:"id"`
	Object   string             `json:"object"`
	Created  int64              `json:"created"`
	Model    string             `json:"model"`
	Choices  []CompletionChoice `json:"choices"`
	Usage    *events.Usage      `json:"usage,omitempty"`
	Warnings []string           `json:"warnings"`
}

type CompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type CompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *events.Usage `json:"usage,omitempty"`
}

type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason,omitempty"`
}

type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func newCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (p *Pipeline) buildRequest(model *provider.Model, req *CompletionRequest) provider.GenerationRequest {
	gr := provider.GenerationRequest{
		Model:       model.Config.Name,
		Prompt:      RenderPrompt(TrimToContextWindow(req.Messages, model.Config.ContextWindow, model.Config.MaxTokens)),
		Temperature: model.Config.Temperature,
		TopP:        model.Config.TopP,
		MaxTokens:   model.Config.MaxTokens,
		Stop:        []string(req.Stop),
	}
	if req.Temperature != nil {
		gr.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		gr.TopP = *req.TopP
	}
	if req.MaxTokens > 0 {
		gr.MaxTokens = req.MaxTokens
	}
	return gr
}

// Complete runs a stateless, non-streaming completion.
func (p *Pipeline) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	model, err := p.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	gr := p.buildRequest(model, req)

	var content strings.Builder
	finish := "stop"
	var usage *events.Usage

	err = model.Provider.StreamReply(ctx, gr, func(chunk provider.StreamChunk) error {
		content.WriteString(chunk.TextDelta)
		if chunk.IsFinal {
			if chunk.FinishReason != "" {
				finish = chunk.FinishReason
			}
			usage = chunk.Usage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if usage == nil || usage.TotalTokens == 0 {
		prompt := EstimateTokens(gr.Prompt)
		completion := EstimateTokens(content.String())
		usage = &events.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	}

	return &CompletionResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model.Config.Name,
		Choices: []CompletionChoice{{
			Message:      ChatMessage{Role: "assistant", Content: content.String()},
			FinishReason: finish,
		}},
		Usage:    usage,
		Warnings: []string{},
	}, nil
}

// ChunkEncoder frames provider deltas as chat.completion.chunk payloads for
// stateful streams, where the pipeline owns the provider loop and the handler
// only sees teed chunks.
type ChunkEncoder struct {
	id      string
	created int64
	model   string
	first   bool
}

func NewChunkEncoder(model string) *ChunkEncoder {
	return &ChunkEncoder{id: newCompletionID(), created: time.Now().Unix(), model: model, first: true}
}

// Delta returns the wire chunk for a text delta, or nil when there is nothing
// to send. Only the first chunk carries the assistant role.
func (e *ChunkEncoder) Delta(text string) *CompletionChunk {
	if text == "" {
		return nil
	}
	delta := ChunkDelta{Content: text}
	if e.first {
		delta.Role = "assistant"
		e.first = false
	}
	return &CompletionChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []ChunkChoice{{Delta: delta}},
	}
}

// Final returns the terminal chunk carrying the finish reason and usage.
func (e *ChunkEncoder) Final(finish string, usage *events.Usage) *CompletionChunk {
	return &CompletionChunk{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []ChunkChoice{{Delta: ChunkDelta{}, FinishReason: &finish}},
		Usage:   usage,
	}
}

// StreamCompletion runs a stateless streaming completion, invoking emit for
// every wire chunk. The final chunk carries the finish reason and usage; the
// caller appends the [DONE] sentinel.
func (p *Pipeline) StreamCompletion(ctx context.Context, req *CompletionRequest, emit func(*CompletionChunk) error) error {
	model, err := p.registry.Resolve(req.Model)
	if err != nil {
		return err
	}
	gr := p.buildRequest(model, req)

	id := newCompletionID()
	created := time.Now().Unix()
	first := true
	var total strings.Builder

	chunkOf := func(delta ChunkDelta, finish *string, usage *events.Usage) *CompletionChunk {
		return &CompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model.Config.Name,
			Choices: []ChunkChoice{{Delta: delta, FinishReason: finish}},
			Usage:   usage,
		}
	}

	return model.Provider.StreamReply(ctx, gr, func(chunk provider.StreamChunk) error {
		if chunk.TextDelta != "" {
			total.WriteString(chunk.TextDelta)
			delta := ChunkDelta{Content: chunk.TextDelta}
			if first {
				delta.Role = "assistant"
				first = false
			}
			if err := emit(chunkOf(delta, nil, nil)); err != nil {
				return err
			}
		}
		if chunk.IsFinal {
			finish := chunk.FinishReason
			if finish == "" {
				finish = "stop"
			}
			usage := chunk.Usage
			if usage == nil || usage.TotalTokens == 0 {
				prompt := EstimateTokens(gr.Prompt)
				completion := EstimateTokens(total.String())
				usage = &events.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
			}
			return emit(chunkOf(ChunkDelta{}, &finish, usage))
		}
		return nil
	})
}

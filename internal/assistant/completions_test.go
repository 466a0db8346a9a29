package assistant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustygpt/rustygpt/internal/events"
)

func TestCompleteNonStreaming(t *testing.T) {
	h := newHarness(t, sseBody(
		`data: {"content":"The answer","stop":false}`,
		`data: {"content":" is 42.","stop":false}`,
		`data: {"content":"","stop":true,"stopped_eos":true,"tokens_evaluated":8,"tokens_predicted":4}`,
	), time.Minute, false)

	resp, err := h.pipeline.Complete(context.Background(), &CompletionRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "what is the answer?"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "chat.completion", resp.Object)
	assert.True(t, len(resp.ID) > len("chatcmpl-"))
	assert.Equal(t, "test-model", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "The answer is 42.", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	require.NotNil(t, resp.Warnings)
	assert.Empty(t, resp.Warnings)
}

func TestCompleteEstimatesUsageWhenBackendOmitsIt(t *testing.T) {
	h := newHarness(t, sseBody(
		`data: {"content":"short","stop":false}`,
		`data: {"content":"","stop":true,"stopped_eos":true}`,
	), time.Minute, false)

	resp, err := h.pipeline.Complete(context.Background(), &CompletionRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Usage)
	assert.Positive(t, resp.Usage.TotalTokens)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

func TestStreamCompletionEstimatesUsageWhenBackendOmitsIt(t *testing.T) {
	h := newHarness(t, sseBody(
		`data: {"content":"short","stop":false}`,
		`data: {"content":"","stop":true,"stopped_eos":true}`,
	), time.Minute, false)

	var final *CompletionChunk
	err := h.pipeline.StreamCompletion(context.Background(), &CompletionRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(c *CompletionChunk) error {
		if c.Choices[0].FinishReason != nil {
			final = c
		}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, final)
	require.NotNil(t, final.Usage)
	assert.Positive(t, final.Usage.TotalTokens)
	assert.Equal(t, final.Usage.PromptTokens+final.Usage.CompletionTokens, final.Usage.TotalTokens)
}

func TestStreamCompletionWireShape(t *testing.T) {
	h := newHarness(t, sseBody(
		`data: {"content":"a","stop":false}`,
		`data: {"content":"b","stop":false}`,
		`data: {"content":"","stop":true,"stopped_limit":true,"tokens_evaluated":3,"tokens_predicted":2}`,
	), time.Minute, false)

	var chunks []*CompletionChunk
	err := h.pipeline.StreamCompletion(context.Background(), &CompletionRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "go"}},
	}, func(c *CompletionChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for _, c := range chunks {
		assert.Equal(t, "chat.completion.chunk", c.Object)
		assert.Equal(t, chunks[0].ID, c.ID)
		assert.Equal(t, "test-model", c.Model)
	}

	// Only the first delta announces the role.
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "a", chunks[0].Choices[0].Delta.Content)
	assert.Empty(t, chunks[1].Choices[0].Delta.Role)
	assert.Equal(t, "b", chunks[1].Choices[0].Delta.Content)
	assert.Nil(t, chunks[0].Choices[0].FinishReason)

	final := chunks[2]
	require.NotNil(t, final.Choices[0].FinishReason)
	assert.Equal(t, "length", *final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 5, final.Usage.TotalTokens)
}

func TestStreamCompletionUnknownModel(t *testing.T) {
	h := newHarness(t, sseBody(), time.Minute, false)

	err := h.pipeline.StreamCompletion(context.Background(), &CompletionRequest{Model: "nope"}, func(*CompletionChunk) error {
		t.Fatal("emit called for unknown model")
		return nil
	})
	require.Error(t, err)
}

func TestChunkEncoder(t *testing.T) {
	enc := NewChunkEncoder("test-model")

	assert.Nil(t, enc.Delta(""))

	first := enc.Delta("one")
	require.NotNil(t, first)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Equal(t, "one", first.Choices[0].Delta.Content)

	second := enc.Delta("two")
	require.NotNil(t, second)
	assert.Empty(t, second.Choices[0].Delta.Role)
	assert.Equal(t, first.ID, second.ID)

	usage := &events.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	final := enc.Final("stop", usage)
	require.NotNil(t, final.Choices[0].FinishReason)
	assert.Equal(t, "stop", *final.Choices[0].FinishReason)
	assert.Equal(t, usage, final.Usage)
	assert.Empty(t, final.Choices[0].Delta.Content)
}

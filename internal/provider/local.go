package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rustygpt/rustygpt/internal/events"
	"github.com/rustygpt/rustygpt/internal/logger"
)

// Local streams completions from a llama-server style runtime hosting a GGUF
// model. The runtime speaks SSE on /completion with one JSON object per data
// line.
type Local struct {
	name    string
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

func NewLocal(name, baseURL string, log *slog.Logger) *Local {
	return &Local{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall client timeout: generations are bounded by the caller's
		// context, and a fixed timeout would sever long healthy streams.
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          4,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		log: logger.WithComponent(log, "provider_local"),
	}
}

func (p *Local) Name() string { return p.name }

type localRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
	NThreads    int      `json:"n_threads,omitempty"`
}

type localChunk struct {
	Content         string `json:"content"`
	Stop            bool   `json:"stop"`
	StoppedEOS      bool   `json:"stopped_eos"`
	StoppedWord     bool   `json:"stopped_word"`
	StoppedLimit    bool   `json:"stopped_limit"`
	TokensEvaluated int    `json:"tokens_evaluated"`
	TokensPredicted int    `json:"tokens_predicted"`
}

func (p *Local) StreamReply(ctx context.Context, req GenerationRequest, emit func(StreamChunk) error) error {
	body, err := json.Marshal(localRequest{
		Prompt:      req.Prompt,
		NPredict:    req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      true,
		NThreads:    InferenceThreads(),
	})
	if err != nil {
		return fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("runtime request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runtime returned %d: %s", resp.StatusCode, string(snippet))
	}

	return p.readStream(ctx, resp.Body, emit)
}

// readStream walks the SSE body line by line. The runtime terminates the
// stream with a chunk whose stop flag is set; some builds also send [DONE].
func (p *Local) readStream(ctx context.Context, body io.Reader, emit func(StreamChunk) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawFinal := false
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk localChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.log.Warn("Unparseable runtime chunk", slog.String("data", truncate(data, 200)))
			continue
		}

		if chunk.Stop {
			sawFinal = true
			if err := emit(StreamChunk{
				TextDelta:    chunk.Content,
				FinishReason: finishReason(chunk),
				Usage: &events.Usage{
					PromptTokens:     chunk.TokensEvaluated,
					CompletionTokens: chunk.TokensPredicted,
					TotalTokens:      chunk.TokensEvaluated + chunk.TokensPredicted,
				},
				IsFinal: true,
			}); err != nil {
				return err
			}
			break
		}

		if chunk.Content == "" {
			continue
		}
		if err := emit(StreamChunk{TextDelta: chunk.Content}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read runtime stream: %w", err)
	}

	if !sawFinal {
		// Upstream closed without a stop chunk; synthesize the terminator so
		// downstream finalization still runs once.
		return emit(StreamChunk{FinishReason: "stop", IsFinal: true})
	}
	return nil
}

func finishReason(c localChunk) string {
	switch {
	case c.StoppedLimit:
		return "length"
	case c.StoppedWord:
		return "stop"
	case c.StoppedEOS:
		return "stop"
	default:
		return "stop"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidStop marks a stop field that is neither a string nor an array of
// strings.
var ErrInvalidStop = errors.New("stop must be a string or an array of strings")

const maxStopSequences = 8

// StopField accepts "stop" as either a bare string or an array of strings,
// the two encodings clients send for chat completions.
type StopField []string

func (s *StopField) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StopField{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		if len(many) > maxStopSequences {
			return fmt.Errorf("%w (max %d sequences)", ErrInvalidStop, maxStopSequences)
		}
		*s = StopField(many)
		return nil
	}
	return ErrInvalidStop
}

// CompletionRequest is the /v1/chat/completions request body. When
// Metadata.RustyGPT carries a conversation binding the request runs stateful:
// the exchange is recorded as thread messages.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        StopField     `json:"stop,omitempty"`
	Metadata    *Metadata     `json:"metadata,omitempty"`
}

type Metadata struct {
	RustyGPT *ConversationBinding `json:"rustygpt,omitempty"`
}

// ConversationBinding ties a completion request into the threaded store.
// ConversationID with no ParentMessageID starts a new thread; with
// ParentMessageID the exchange extends that branch.
type ConversationBinding struct {
	ConversationID  string `json:"conversation_id"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "user", "assistant", "tool":
		default:
			return fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP <= 0 || *r.TopP > 1) {
		return errors.New("top_p must be in (0, 1]")
	}
	if r.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}
	return nil
}

// LastUserContent returns the newest user turn, the message recorded as the
// thread node in stateful mode.
func (r *CompletionRequest) LastUserContent() (string, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content, true
		}
	}
	return "", false
}

package assistant

import (
	"strings"

	"github.com/rustygpt/rustygpt/internal/store"
)

// ChatMessage is one turn of rendered context, ordered oldest first.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RenderPrompt flattens a conversation into the text prompt handed to a
// completion backend. System messages are concatenated up front, each turn is
// rendered as "Role: content", and the trailing "Assistant:" invites the
// model to continue. Deleted messages are skipped.
func RenderPrompt(messages []ChatMessage) string {
	var system []string
	var turns []string

	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if m.Role == "system" {
			system = append(system, content)
			continue
		}
		turns = append(turns, roleLabel(m.Role)+": "+content)
	}

	var b strings.Builder
	if len(system) > 0 {
		b.WriteString(strings.Join(system, "\n\n"))
		b.WriteString("\n\n")
	}
	for _, t := range turns {
		b.WriteString(t)
		b.WriteString("\n")
	}
	if len(turns) == 0 || !strings.HasPrefix(turns[len(turns)-1], "Assistant:") {
		b.WriteString("Assistant:")
	}
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case "assistant":
		return "Assistant"
	case "tool":
		return "Tool"
	default:
		return "User"
	}
}

// ChainToMessages converts a stored ancestor chain into prompt turns,
// dropping deleted nodes.
func ChainToMessages(chain []*store.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(chain))
	for _, m := range chain {
		if m.Deleted() {
			continue
		}
		out = append(out, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// TrimToContextWindow drops the oldest non-system turns until a rough token
// estimate (four bytes per token) fits the window, leaving headroom for the
// completion.
func TrimToContextWindow(messages []ChatMessage, contextWindow, maxTokens int) []ChatMessage {
	if contextWindow <= 0 {
		return messages
	}
	budget := contextWindow - maxTokens
	if budget <= 0 {
		budget = contextWindow / 2
	}

	for len(messages) > 1 && estimateTokens(messages) > budget {
		dropped := false
		for i, m := range messages {
			if m.Role != "system" {
				messages = append(messages[:i:i], messages[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			break
		}
	}
	return messages
}

func estimateTokens(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)/4 + 4
	}
	return total
}

// EstimateTokens approximates token usage from whitespace-delimited words,
// used when a backend reports no usage of its own.
func EstimateTokens(text string) int {
	return len(strings.Fields(text))
}

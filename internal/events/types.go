// Package events implements the conversation event bus: per-conversation
// monotonic sequencing, a bounded in-memory replay ring backed by optional
// persistence, and fan-out to bounded subscriber queues.
package events

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types carried on the bus. Append-only: clients switch on them.
const (
	TypeThreadNew         = "thread.new"
	TypeThreadActivity    = "thread.activity"
	TypeMessageDelta      = "message.delta"
	TypeMessageDone       = "message.done"
	TypePresenceUpdate    = "presence.update"
	TypeTypingUpdate      = "typing.update"
	TypeUnreadUpdate      = "unread.update"
	TypeMembershipChanged = "membership.changed"
	TypeError             = "error"
)

// Event is one bus entry. Sequence is assigned by the hub at publish time and
// is strictly increasing per conversation.
type Event struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	Sequence       int64           `json:"sequence"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	// RootMessageID and MessageID are set on message-scoped events and drive
	// the richer SSE event-id format.
	RootMessageID uuid.NullUUID `json:"root_message_id,omitempty"`
	MessageID     uuid.NullUUID `json:"message_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// EventID renders the SSE id for this event. Message-scoped events carry
// root and message ids so clients can resume mid-stream with context:
//
//	{root_id}:{message_id}:{sequence}
//
// Everything else is just the sequence.
func (e *Event) EventID() string {
	if e.RootMessageID.Valid && e.MessageID.Valid {
		return e.RootMessageID.UUID.String() + ":" + e.MessageID.UUID.String() + ":" + strconv.FormatInt(e.Sequence, 10)
	}
	return strconv.FormatInt(e.Sequence, 10)
}

// ParseLastEventID extracts the sequence from a Last-Event-ID header. The
// sequence is always the final colon-separated component, so both the bare
// and the message-scoped formats parse; IPv6-ish garbage just fails.
func ParseLastEventID(header string) (int64, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	last := header
	if i := strings.LastIndexByte(header, ':'); i >= 0 {
		last = header[i+1:]
	}
	seq, err := strconv.ParseInt(last, 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// Payload shapes. Handlers marshal these into Event.Payload.

type ThreadNewPayload struct {
	RootID   uuid.UUID     `json:"root_id"`
	AuthorID uuid.NullUUID `json:"author_id"`
	Role     string        `json:"role"`
	Preview  string        `json:"preview"`
}

type ThreadActivityPayload struct {
	RootID     uuid.UUID `json:"root_id"`
	MessageID  uuid.UUID `json:"message_id"`
	ReplyCount int64     `json:"reply_count,omitempty"`
}

type MessageDeltaPayload struct {
	RootID     uuid.UUID `json:"root_id"`
	MessageID  uuid.UUID `json:"message_id"`
	ChunkIndex int       `json:"chunk_index"`
	Delta      string    `json:"delta"`
}

type MessageDonePayload struct {
	RootID       uuid.UUID `json:"root_id"`
	MessageID    uuid.UUID `json:"message_id"`
	FinishReason string    `json:"finish_reason"`
	Content      string    `json:"content"`
	Usage        *Usage    `json:"usage,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type PresencePayload struct {
	UserID uuid.UUID `json:"user_id"`
	Status string    `json:"status"`
}

type TypingPayload struct {
	UserID uuid.UUID `json:"user_id"`
	RootID uuid.UUID `json:"root_id"`
	Active bool      `json:"active"`
}

type UnreadPayload struct {
	UserID uuid.UUID `json:"user_id"`
	RootID uuid.UUID `json:"root_id"`
	Count  int64     `json:"unread_count"`
}

type MembershipPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Change string    `json:"change"`
	Role   string    `json:"role,omitempty"`
}

type ErrorPayload struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	MessageID uuid.NullUUID `json:"message_id,omitempty"`
}

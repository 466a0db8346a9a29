package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/store"
)

// MessageView is the API shape of a message. Deleted messages keep their
// place in the tree but carry no content.
type MessageView struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	RootID         uuid.UUID  `json:"root_id"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty"`
	Path           string     `json:"path"`
	Depth          int        `json:"depth"`
	AuthorID       *uuid.UUID `json:"author_id,omitempty"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at,omitempty"`
	Deleted        bool       `json:"deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func NewMessageView(m *store.Message) *MessageView {
	v := &MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		RootID:         m.RootID,
		Path:           m.Path,
		Depth:          m.Depth,
		Role:           m.Role,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Deleted:        m.Deleted(),
	}
	if m.ParentID.Valid {
		id := m.ParentID.UUID
		v.ParentID = &id
	}
	if m.AuthorID.Valid {
		id := m.AuthorID.UUID
		v.AuthorID = &id
	}
	if m.EditedAt.Valid {
		t := m.EditedAt.Time
		v.EditedAt = &t
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		v.DeletedAt = &t
		v.Content = ""
	}
	return v
}

func NewMessageViews(msgs []*store.Message) []*MessageView {
	out := make([]*MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = NewMessageView(m)
	}
	return out
}

type ThreadView struct {
	RootID         uuid.UUID  `json:"root_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	AuthorID       *uuid.UUID `json:"author_id,omitempty"`
	Role           string     `json:"role,omitempty"`
	Preview        string     `json:"preview"`
	CreatedAt      time.Time  `json:"created_at"`
	Deleted        bool       `json:"deleted"`
	ReplyCount     int64      `json:"reply_count"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

const previewLength = 160

func NewThreadView(s *store.ThreadSummary) *ThreadView {
	v := &ThreadView{
		RootID:         s.RootID,
		ConversationID: s.ConversationID,
		Role:           s.Role,
		Preview:        truncateRunes(s.Content, previewLength),
		CreatedAt:      s.CreatedAt,
		Deleted:        s.DeletedAt.Valid,
		ReplyCount:     s.ReplyCount,
	}
	if s.AuthorID.Valid {
		id := s.AuthorID.UUID
		v.AuthorID = &id
	}
	if s.LastActivityAt.Valid {
		t := s.LastActivityAt.Time
		v.LastActivityAt = &t
	}
	if v.Deleted {
		v.Preview = ""
	}
	return v
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

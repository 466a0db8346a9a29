package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	Disabled     bool
	Roles        []string
}

type Session struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TokenHash         []byte
	CSRFToken         string
	Roles             []string
	IssuedAt          time.Time
	IdleExpiresAt     time.Time
	AbsoluteExpiresAt time.Time
	LastSeenAt        time.Time
	RequiresRotation  bool
	RevokedAt         sql.NullTime
	RevokeReason      sql.NullString
	RotatedFrom       uuid.NullUUID
	UserAgent         sql.NullString
	IP                sql.NullString
	ClientMeta        json.RawMessage
}

func (s *Session) Revoked() bool { return s.RevokedAt.Valid }

type Conversation struct {
	ID        uuid.UUID
	Title     string
	CreatedBy uuid.UUID
	CreatedAt time.Time
}

type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	RootID         uuid.UUID
	ParentID       uuid.NullUUID
	Path           string
	Depth          int
	AuthorID       uuid.NullUUID
	Role           string
	Content        string
	CreatedAt      time.Time
	EditedAt       sql.NullTime
	EditReason     sql.NullString
	DeletedAt      sql.NullTime
	DeleteReason   sql.NullString
}

func (m *Message) Deleted() bool { return m.DeletedAt.Valid }
func (m *Message) IsRoot() bool  { return !m.ParentID.Valid }

type ThreadSummary struct {
	RootID         uuid.UUID
	ConversationID uuid.UUID
	AuthorID       uuid.NullUUID
	Role           string
	Content        string
	CreatedAt      time.Time
	DeletedAt      sql.NullTime
	ReplyCount     int64
	LastActivityAt sql.NullTime
}

type MessageChunk struct {
	ChunkIndex int
	Delta      string
	CreatedAt  time.Time
}

type UnreadSummary struct {
	RootID      uuid.UUID
	UnreadCount int64
}

type Invite struct {
	ID        uuid.UUID
	Code      string
	CreatedAt time.Time
}

type ConversationEvent struct {
	ConversationID uuid.UUID
	Sequence       int64
	EventID        string
	EventType      string
	Payload        json.RawMessage
	RootMessageID  uuid.NullUUID
	CreatedAt      time.Time
}

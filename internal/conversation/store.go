package conversation

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/store"
)

// Store is the conversation-facing slice of the database. Every method runs
// its procedure inside an actor-bound transaction so row-level security and
// the procedure-side authorization checks see the right user. Tests swap in
// a fake.
type Store interface {
	CreateConversation(ctx context.Context, actor uuid.UUID, title string) (*store.Conversation, error)
	AddParticipant(ctx context.Context, actor, conversation, user uuid.UUID, role string) error
	RemoveParticipant(ctx context.Context, actor, conversation, user uuid.UUID) error
	CreateInvite(ctx context.Context, actor, conversation uuid.UUID, invited uuid.NullUUID) (*store.Invite, error)
	AcceptInvite(ctx context.Context, actor uuid.UUID, code string) (uuid.UUID, error)
	RevokeInvite(ctx context.Context, actor, invite uuid.UUID) error

	ListThreads(ctx context.Context, actor, conversation uuid.UUID, limit, offset int) ([]*store.ThreadSummary, error)
	GetThreadSummary(ctx context.Context, actor, root uuid.UUID) (*store.ThreadSummary, error)
	GetThreadSubtree(ctx context.Context, actor, root uuid.UUID, afterPath string, limit int) ([]*store.Message, error)
	AncestorChain(ctx context.Context, actor, message uuid.UUID) ([]*store.Message, error)

	PostRootMessage(ctx context.Context, actor, conversation uuid.UUID, content, role string) (*store.Message, error)
	ReplyMessage(ctx context.Context, actor uuid.UUID, author uuid.NullUUID, parent uuid.UUID, content, role string, id uuid.NullUUID) (*store.Message, error)
	AppendMessageChunk(ctx context.Context, actor, message uuid.UUID, index int, delta string) error
	ListMessageChunks(ctx context.Context, actor, message uuid.UUID) ([]*store.MessageChunk, error)
	UpdateMessageContent(ctx context.Context, actor, message uuid.UUID, content string) error

	MarkThreadRead(ctx context.Context, actor, root uuid.UUID) error
	GetUnreadSummary(ctx context.Context, actor, conversation uuid.UUID) ([]*store.UnreadSummary, error)
	SetTyping(ctx context.Context, actor, conversation, root uuid.UUID, ttlSeconds int) error
	Heartbeat(ctx context.Context, actor uuid.UUID, status string) error

	SoftDeleteMessage(ctx context.Context, actor, message uuid.UUID, reason string) error
	RestoreMessage(ctx context.Context, actor, message uuid.UUID) error
	EditMessage(ctx context.Context, actor, message uuid.UUID, content, reason string) error

	UserCanAccess(ctx context.Context, user, conversation uuid.UUID) (bool, error)
}

// dbStore adapts *store.Database to the Store interface.
type dbStore struct {
	db *store.Database
}

func NewStore(db *store.Database) Store { return &dbStore{db: db} }

func actorTx[T any](ctx context.Context, s *dbStore, actor uuid.UUID, fn func(q store.Querier) (T, error)) (T, error) {
	var out T
	err := s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

func (s *dbStore) CreateConversation(ctx context.Context, actor uuid.UUID, title string) (*store.Conversation, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) (*store.Conversation, error) {
		return store.CreateConversation(ctx, q, actor, title)
	})
}

func (s *dbStore) AddParticipant(ctx context.Context, actor, conversation, user uuid.UUID, role string) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.AddParticipant(ctx, tx, actor, conversation, user, role)
	})
}

func (s *dbStore) RemoveParticipant(ctx context.Context, actor, conversation, user uuid.UUID) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.RemoveParticipant(ctx, tx, actor, conversation, user)
	})
}

func (s *dbStore) CreateInvite(ctx context.Context, actor, conversation uuid.UUID, invited uuid.NullUUID) (*store.Invite, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) (*store.Invite, error) {
		return store.CreateInvite(ctx, q, actor, conversation, invited)
	})
}

func (s *dbStore) AcceptInvite(ctx context.Context, actor uuid.UUID, code string) (uuid.UUID, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) (uuid.UUID, error) {
		return store.AcceptInvite(ctx, q, actor, code)
	})
}

func (s *dbStore) RevokeInvite(ctx context.Context, actor, invite uuid.UUID) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.RevokeInvite(ctx, tx, actor, invite)
	})
}

func (s *dbStore) ListThreads(ctx context.Context, actor, conversation uuid.UUID, limit, offset int) ([]*store.ThreadSummary, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) ([]*store.ThreadSummary, error) {
		return store.ListThreads(ctx, q, actor, conversation, limit, offset)
	})
}

func (s *dbStore) GetThreadSummary(ctx context.Context, actor, root uuid.UUID) (*store.ThreadSummary, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) (*store.ThreadSummary, error) {
		return store.GetThreadSummary(ctx, q, actor, root)
	})
}

func (s *dbStore) GetThreadSubtree(ctx context.Context, actor, root uuid.UUID, afterPath string, limit int) ([]*store.Message, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) ([]*store.Message, error) {
		return store.GetThreadSubtree(ctx, q, actor, root, afterPath, limit)
	})
}

func (s *dbStore) AncestorChain(ctx context.Context, actor, message uuid.UUID) ([]*store.Message, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) ([]*store.Message, error) {
		return store.AncestorChain(ctx, q, actor, message)
	})
}

func (s *dbStore) PostRootMessage(ctx context.Context, actor, conversation uuid.UUID, content, role string) (*store.Message, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) (*store.Message, error) {
		return store.PostRootMessage(ctx, q, actor, conversation, content, role)
	})
}

func (s *dbStore) ReplyMessage(ctx context.Context, actor uuid.UUID, author uuid.NullUUID, parent uuid.UUID, content, role string, id uuid.NullUUID) (*store.Message, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) (*store.Message, error) {
		return store.ReplyMessage(ctx, q, author, parent, content, role, id)
	})
}

func (s *dbStore) AppendMessageChunk(ctx context.Context, actor, message uuid.UUID, index int, delta string) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.AppendMessageChunk(ctx, tx, message, index, delta)
	})
}

func (s *dbStore) ListMessageChunks(ctx context.Context, actor, message uuid.UUID) ([]*store.MessageChunk, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) ([]*store.MessageChunk, error) {
		return store.ListMessageChunks(ctx, q, actor, message)
	})
}

func (s *dbStore) UpdateMessageContent(ctx context.Context, actor, message uuid.UUID, content string) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.UpdateMessageContent(ctx, tx, message, content)
	})
}

func (s *dbStore) MarkThreadRead(ctx context.Context, actor, root uuid.UUID) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.MarkThreadRead(ctx, tx, actor, root)
	})
}

func (s *dbStore) GetUnreadSummary(ctx context.Context, actor, conversation uuid.UUID) ([]*store.UnreadSummary, error) {
	return actorTx(ctx, s, actor, func(q store.Querier) ([]*store.UnreadSummary, error) {
		return store.GetUnreadSummary(ctx, q, actor, conversation)
	})
}

func (s *dbStore) SetTyping(ctx context.Context, actor, conversation, root uuid.UUID, ttlSeconds int) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.SetTyping(ctx, tx, actor, conversation, root, ttlSeconds)
	})
}

func (s *dbStore) Heartbeat(ctx context.Context, actor uuid.UUID, status string) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.Heartbeat(ctx, tx, actor, status)
	})
}

func (s *dbStore) SoftDeleteMessage(ctx context.Context, actor, message uuid.UUID, reason string) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.SoftDeleteMessage(ctx, tx, actor, message, reason)
	})
}

func (s *dbStore) RestoreMessage(ctx context.Context, actor, message uuid.UUID) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.RestoreMessage(ctx, tx, actor, message)
	})
}

func (s *dbStore) EditMessage(ctx context.Context, actor, message uuid.UUID, content, reason string) error {
	return s.db.WithActorTx(ctx, actor, func(tx *sql.Tx) error {
		return store.EditMessage(ctx, tx, actor, message, content, reason)
	})
}

func (s *dbStore) UserCanAccess(ctx context.Context, user, conversation uuid.UUID) (bool, error) {
	return s.db.UserCanAccess(ctx, user, conversation)
}

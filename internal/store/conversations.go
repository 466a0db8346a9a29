package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Querier is satisfied by *sql.DB and *sql.Tx. Conversation reads and writes
// go through the sp_* functions, so the wrappers here are thin.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanMessage(scanner interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := scanner.Scan(
		&m.ID, &m.ConversationID, &m.RootID, &m.ParentID, &m.Path, &m.Depth,
		&m.AuthorID, &m.Role, &m.Content, &m.CreatedAt,
		&m.EditedAt, &m.EditReason, &m.DeletedAt, &m.DeleteReason,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func CreateConversation(ctx context.Context, q Querier, actor uuid.UUID, title string) (*Conversation, error) {
	var c Conversation
	err := q.QueryRowContext(ctx,
		"SELECT id, title, created_by, created_at FROM sp_create_conversation($1, $2)",
		actor, title,
	).Scan(&c.ID, &c.Title, &c.CreatedBy, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("sp_create_conversation: %w", err)
	}
	return &c, nil
}

func AddParticipant(ctx context.Context, q Querier, actor, conversation, user uuid.UUID, role string) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_add_participant($1, $2, $3, $4)", actor, conversation, user, role); err != nil {
		return fmt.Errorf("sp_add_participant: %w", err)
	}
	return nil
}

func RemoveParticipant(ctx context.Context, q Querier, actor, conversation, user uuid.UUID) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_remove_participant($1, $2, $3)", actor, conversation, user); err != nil {
		return fmt.Errorf("sp_remove_participant: %w", err)
	}
	return nil
}

func CreateInvite(ctx context.Context, q Querier, actor, conversation uuid.UUID, invited uuid.NullUUID) (*Invite, error) {
	var inv Invite
	err := q.QueryRowContext(ctx,
		"SELECT id, code, created_at FROM sp_create_invite($1, $2, $3)",
		actor, conversation, invited,
	).Scan(&inv.ID, &inv.Code, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("sp_create_invite: %w", err)
	}
	return &inv, nil
}

func AcceptInvite(ctx context.Context, q Querier, actor uuid.UUID, code string) (uuid.UUID, error) {
	var conversation uuid.UUID
	err := q.QueryRowContext(ctx, "SELECT sp_accept_invite($1, $2)", actor, code).Scan(&conversation)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sp_accept_invite: %w", err)
	}
	return conversation, nil
}

func RevokeInvite(ctx context.Context, q Querier, actor, invite uuid.UUID) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_revoke_invite($1, $2)", actor, invite); err != nil {
		return fmt.Errorf("sp_revoke_invite: %w", err)
	}
	return nil
}

func ListThreads(ctx context.Context, q Querier, actor, conversation uuid.UUID, limit, offset int) ([]*ThreadSummary, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT root_id, author_id, role, content, created_at, deleted_at, reply_count, last_activity_at FROM sp_list_threads($1, $2, $3, $4)",
		actor, conversation, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sp_list_threads: %w", err)
	}
	defer rows.Close()

	var out []*ThreadSummary
	for rows.Next() {
		s := &ThreadSummary{ConversationID: conversation}
		if err := rows.Scan(&s.RootID, &s.AuthorID, &s.Role, &s.Content, &s.CreatedAt, &s.DeletedAt, &s.ReplyCount, &s.LastActivityAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func GetThreadSummary(ctx context.Context, q Querier, actor, root uuid.UUID) (*ThreadSummary, error) {
	s := &ThreadSummary{Role: "user"}
	err := q.QueryRowContext(ctx,
		"SELECT root_id, conversation_id, author_id, content, created_at, reply_count, last_activity_at FROM sp_get_thread_summary($1, $2)",
		actor, root,
	).Scan(&s.RootID, &s.ConversationID, &s.AuthorID, &s.Content, &s.CreatedAt, &s.ReplyCount, &s.LastActivityAt)
	if err != nil {
		return nil, fmt.Errorf("sp_get_thread_summary: %w", err)
	}
	return s, nil
}

func GetThreadSubtree(ctx context.Context, q Querier, actor, root uuid.UUID, afterPath string, limit int) ([]*Message, error) {
	var after any
	if afterPath != "" {
		after = afterPath
	}
	rows, err := q.QueryContext(ctx, "SELECT * FROM sp_get_thread_subtree($1, $2, $3, $4)", actor, root, after, limit)
	if err != nil {
		return nil, fmt.Errorf("sp_get_thread_subtree: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func AncestorChain(ctx context.Context, q Querier, actor, message uuid.UUID) ([]*Message, error) {
	rows, err := q.QueryContext(ctx, "SELECT * FROM sp_get_ancestor_chain($1, $2)", actor, message)
	if err != nil {
		return nil, fmt.Errorf("sp_get_ancestor_chain: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func PostRootMessage(ctx context.Context, q Querier, actor, conversation uuid.UUID, content, role string) (*Message, error) {
	row := q.QueryRowContext(ctx, "SELECT * FROM sp_post_root_message($1, $2, $3, $4)", actor, conversation, content, role)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("sp_post_root_message: %w", err)
	}
	return m, nil
}

// ReplyMessage posts a reply under parent. A null author marks the message as
// written by the assistant; the procedure authorizes against the transaction
// actor in that case. A non-null id pins the new row's identity, which the
// assistant pipeline uses to supervise a generation before its row exists.
func ReplyMessage(ctx context.Context, q Querier, author uuid.NullUUID, parent uuid.UUID, content, role string, id uuid.NullUUID) (*Message, error) {
	row := q.QueryRowContext(ctx, "SELECT * FROM sp_reply_message($1, $2, $3, $4, $5)", author, parent, content, role, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("sp_reply_message: %w", err)
	}
	return m, nil
}

func AppendMessageChunk(ctx context.Context, q Querier, message uuid.UUID, index int, delta string) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_append_message_chunk($1, $2, $3)", message, index, delta); err != nil {
		return fmt.Errorf("sp_append_message_chunk: %w", err)
	}
	return nil
}

func ListMessageChunks(ctx context.Context, q Querier, actor, message uuid.UUID) ([]*MessageChunk, error) {
	rows, err := q.QueryContext(ctx, "SELECT chunk_index, delta, created_at FROM sp_list_message_chunks($1, $2)", actor, message)
	if err != nil {
		return nil, fmt.Errorf("sp_list_message_chunks: %w", err)
	}
	defer rows.Close()

	var out []*MessageChunk
	for rows.Next() {
		var c MessageChunk
		if err := rows.Scan(&c.ChunkIndex, &c.Delta, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func UpdateMessageContent(ctx context.Context, q Querier, message uuid.UUID, content string) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_update_message_content($1, $2)", message, content); err != nil {
		return fmt.Errorf("sp_update_message_content: %w", err)
	}
	return nil
}

func MarkThreadRead(ctx context.Context, q Querier, actor, root uuid.UUID) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_mark_thread_read($1, $2)", actor, root); err != nil {
		return fmt.Errorf("sp_mark_thread_read: %w", err)
	}
	return nil
}

func GetUnreadSummary(ctx context.Context, q Querier, actor, conversation uuid.UUID) ([]*UnreadSummary, error) {
	rows, err := q.QueryContext(ctx, "SELECT root_id, unread_count FROM sp_get_unread_summary($1, $2)", actor, conversation)
	if err != nil {
		return nil, fmt.Errorf("sp_get_unread_summary: %w", err)
	}
	defer rows.Close()

	var out []*UnreadSummary
	for rows.Next() {
		var u UnreadSummary
		if err := rows.Scan(&u.RootID, &u.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func SetTyping(ctx context.Context, q Querier, actor, conversation, root uuid.UUID, ttlSeconds int) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_set_typing($1, $2, $3, $4)", actor, conversation, root, ttlSeconds); err != nil {
		return fmt.Errorf("sp_set_typing: %w", err)
	}
	return nil
}

func Heartbeat(ctx context.Context, q Querier, actor uuid.UUID, status string) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_heartbeat($1, $2)", actor, status); err != nil {
		return fmt.Errorf("sp_heartbeat: %w", err)
	}
	return nil
}

func SoftDeleteMessage(ctx context.Context, q Querier, actor, message uuid.UUID, reason string) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_soft_delete_message($1, $2, $3)", actor, message, reason); err != nil {
		return fmt.Errorf("sp_soft_delete_message: %w", err)
	}
	return nil
}

func RestoreMessage(ctx context.Context, q Querier, actor, message uuid.UUID) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_restore_message($1, $2)", actor, message); err != nil {
		return fmt.Errorf("sp_restore_message: %w", err)
	}
	return nil
}

func EditMessage(ctx context.Context, q Querier, actor, message uuid.UUID, content, reason string) error {
	if _, err := q.ExecContext(ctx, "SELECT sp_edit_message($1, $2, $3, $4)", actor, message, content, reason); err != nil {
		return fmt.Errorf("sp_edit_message: %w", err)
	}
	return nil
}

// UserCanAccess reports whether user is an active participant of conversation.
// Used by the SSE attach path, which runs outside an actor transaction.
func (d *Database) UserCanAccess(ctx context.Context, user, conversation uuid.UUID) (bool, error) {
	var ok bool
	err := d.DB.QueryRowContext(ctx, "SELECT sp_user_can_access($1, $2)", user, conversation).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("sp_user_can_access: %w", err)
	}
	return ok, nil
}

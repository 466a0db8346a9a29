// Package conversation implements the threaded-conversation core: thread
// trees, participants, invites, read cursors, typing, and presence. All data
// access goes through the sp_* procedures under an actor-bound transaction;
// this layer adds input validation and event publication.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/events"
	"github.com/rustygpt/rustygpt/internal/logger"
	"github.com/rustygpt/rustygpt/internal/store"
)

const (
	maxTitleLength   = 200
	maxContentLength = 32_000
	typingTTLSeconds = 5
)

type Service struct {
	store Store
	hub   *events.Hub
	log   *slog.Logger
}

func NewService(st Store, hub *events.Hub, log *slog.Logger) *Service {
	return &Service{store: st, hub: hub, log: logger.WithComponent(log, "conversation")}
}

// Store exposes the underlying data access for collaborators (the assistant
// pipeline shares it).
func (s *Service) Store() Store { return s.store }

func (s *Service) Create(ctx context.Context, actor uuid.UUID, title string) (*store.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title must be 1-%d characters", store.ErrValidation, maxTitleLength)
	}
	return s.store.CreateConversation(ctx, actor, title)
}

func (s *Service) AddParticipant(ctx context.Context, actor, conversation, user uuid.UUID, role string) error {
	if err := s.store.AddParticipant(ctx, actor, conversation, user, role); err != nil {
		return err
	}
	s.publish(ctx, conversation, events.TypeMembershipChanged,
		events.MembershipPayload{UserID: user, Change: "added", Role: role}, uuid.NullUUID{}, uuid.NullUUID{})
	return nil
}

func (s *Service) RemoveParticipant(ctx context.Context, actor, conversation, user uuid.UUID) error {
	if err := s.store.RemoveParticipant(ctx, actor, conversation, user); err != nil {
		return err
	}
	s.publish(ctx, conversation, events.TypeMembershipChanged,
		events.MembershipPayload{UserID: user, Change: "removed"}, uuid.NullUUID{}, uuid.NullUUID{})
	return nil
}

func (s *Service) CreateInvite(ctx context.Context, actor, conversation uuid.UUID, invited *uuid.UUID) (*store.Invite, error) {
	var nullable uuid.NullUUID
	if invited != nil {
		nullable = uuid.NullUUID{UUID: *invited, Valid: true}
	}
	return s.store.CreateInvite(ctx, actor, conversation, nullable)
}

func (s *Service) AcceptInvite(ctx context.Context, actor uuid.UUID, code string) (uuid.UUID, error) {
	conversation, err := s.store.AcceptInvite(ctx, actor, code)
	if err != nil {
		return uuid.Nil, err
	}
	s.publish(ctx, conversation, events.TypeMembershipChanged,
		events.MembershipPayload{UserID: actor, Change: "joined", Role: "member"}, uuid.NullUUID{}, uuid.NullUUID{})
	return conversation, nil
}

func (s *Service) RevokeInvite(ctx context.Context, actor, invite uuid.UUID) error {
	return s.store.RevokeInvite(ctx, actor, invite)
}

func (s *Service) ListThreads(ctx context.Context, actor, conversation uuid.UUID, limit, offset int) ([]*ThreadView, error) {
	summaries, err := s.store.ListThreads(ctx, actor, conversation, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*ThreadView, len(summaries))
	for i, sum := range summaries {
		sum.ConversationID = conversation
		out[i] = NewThreadView(sum)
	}
	return out, nil
}

func (s *Service) GetThreadSummary(ctx context.Context, actor, root uuid.UUID) (*ThreadView, error) {
	sum, err := s.store.GetThreadSummary(ctx, actor, root)
	if err != nil {
		return nil, err
	}
	return NewThreadView(sum), nil
}

// GetThreadSubtree pages through a thread in path order, which is creation
// order within each sibling group. afterPath resumes a previous page.
func (s *Service) GetThreadSubtree(ctx context.Context, actor, root uuid.UUID, afterPath string, limit int) ([]*MessageView, error) {
	msgs, err := s.store.GetThreadSubtree(ctx, actor, root, afterPath, limit)
	if err != nil {
		return nil, err
	}
	return NewMessageViews(msgs), nil
}

// AncestorChain returns the root-to-message path, the context window source
// for assistant generation.
func (s *Service) AncestorChain(ctx context.Context, actor, message uuid.UUID) ([]*store.Message, error) {
	return s.store.AncestorChain(ctx, actor, message)
}

// PostRoot starts a thread and publishes thread.new.
func (s *Service) PostRoot(ctx context.Context, actor, conversation uuid.UUID, content string) (*store.Message, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	msg, err := s.store.PostRootMessage(ctx, actor, conversation, content, "user")
	if err != nil {
		return nil, err
	}

	root := uuid.NullUUID{UUID: msg.RootID, Valid: true}
	s.publish(ctx, conversation, events.TypeThreadNew, events.ThreadNewPayload{
		RootID:   msg.RootID,
		AuthorID: msg.AuthorID,
		Role:     msg.Role,
		Preview:  truncateRunes(msg.Content, previewLength),
	}, root, uuid.NullUUID{UUID: msg.ID, Valid: true})
	return msg, nil
}

// Reply posts a user reply and publishes thread.activity.
func (s *Service) Reply(ctx context.Context, actor, parent uuid.UUID, content string) (*store.Message, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	msg, err := s.store.ReplyMessage(ctx, actor, uuid.NullUUID{UUID: actor, Valid: true}, parent, content, "user", uuid.NullUUID{})
	if err != nil {
		return nil, err
	}
	s.publishActivity(ctx, msg)
	return msg, nil
}

// ReplyAsAssistant inserts an assistant-authored node under the caller's
// pre-allocated id. The author is NULL; the acting user still scopes the
// transaction.
func (s *Service) ReplyAsAssistant(ctx context.Context, actor, parent uuid.UUID, content string, id uuid.UUID) (*store.Message, error) {
	return s.store.ReplyMessage(ctx, actor, uuid.NullUUID{}, parent, content, "assistant", uuid.NullUUID{UUID: id, Valid: true})
}

func (s *Service) publishActivity(ctx context.Context, msg *store.Message) {
	s.publish(ctx, msg.ConversationID, events.TypeThreadActivity, events.ThreadActivityPayload{
		RootID:    msg.RootID,
		MessageID: msg.ID,
	}, uuid.NullUUID{UUID: msg.RootID, Valid: true}, uuid.NullUUID{UUID: msg.ID, Valid: true})
}

// PublishActivity re-announces a message on the bus, used after assistant
// finalization.
func (s *Service) PublishActivity(ctx context.Context, msg *store.Message) {
	s.publishActivity(ctx, msg)
}

func (s *Service) ListMessageChunks(ctx context.Context, actor, message uuid.UUID) ([]*store.MessageChunk, error) {
	return s.store.ListMessageChunks(ctx, actor, message)
}

// MarkRead advances the actor's cursor to the thread tip and publishes the
// refreshed unread count for that thread (always zero right after).
func (s *Service) MarkRead(ctx context.Context, actor, root uuid.UUID) error {
	if err := s.store.MarkThreadRead(ctx, actor, root); err != nil {
		return err
	}
	sum, err := s.store.GetThreadSummary(ctx, actor, root)
	if err == nil {
		s.publish(ctx, sum.ConversationID, events.TypeUnreadUpdate,
			events.UnreadPayload{UserID: actor, RootID: root, Count: 0},
			uuid.NullUUID{UUID: root, Valid: true}, uuid.NullUUID{})
	}
	return nil
}

func (s *Service) UnreadSummary(ctx context.Context, actor, conversation uuid.UUID) ([]*store.UnreadSummary, error) {
	return s.store.GetUnreadSummary(ctx, actor, conversation)
}

func (s *Service) SetTyping(ctx context.Context, actor, conversation, root uuid.UUID) error {
	if err := s.store.SetTyping(ctx, actor, conversation, root, typingTTLSeconds); err != nil {
		return err
	}
	s.publish(ctx, conversation, events.TypeTypingUpdate,
		events.TypingPayload{UserID: actor, RootID: root, Active: true},
		uuid.NullUUID{UUID: root, Valid: true}, uuid.NullUUID{})
	return nil
}

// Heartbeat records presence. Fanning every status change out to all of the
// user's conversations would be noisy, so presence.update goes only to the
// conversation the client names as active, when it names one.
func (s *Service) Heartbeat(ctx context.Context, actor uuid.UUID, status string, conversation uuid.NullUUID) error {
	if err := s.store.Heartbeat(ctx, actor, status); err != nil {
		return err
	}
	if conversation.Valid {
		ok, err := s.store.UserCanAccess(ctx, actor, conversation.UUID)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrForbidden
		}
		s.PublishPresence(ctx, conversation.UUID, actor, status)
	}
	return nil
}

// PublishPresence announces a presence change on one conversation's stream.
func (s *Service) PublishPresence(ctx context.Context, conversation, user uuid.UUID, status string) {
	s.publish(ctx, conversation, events.TypePresenceUpdate,
		events.PresencePayload{UserID: user, Status: status}, uuid.NullUUID{}, uuid.NullUUID{})
}

func (s *Service) SoftDelete(ctx context.Context, actor, message uuid.UUID, reason string) error {
	return s.store.SoftDeleteMessage(ctx, actor, message, reason)
}

func (s *Service) Restore(ctx context.Context, actor, message uuid.UUID) error {
	return s.store.RestoreMessage(ctx, actor, message)
}

func (s *Service) Edit(ctx context.Context, actor, message uuid.UUID, content, reason string) error {
	if err := validateContent(content); err != nil {
		return err
	}
	return s.store.EditMessage(ctx, actor, message, content, reason)
}

func (s *Service) UserCanAccess(ctx context.Context, user, conversation uuid.UUID) (bool, error) {
	return s.store.UserCanAccess(ctx, user, conversation)
}

func (s *Service) publish(ctx context.Context, conversation uuid.UUID, eventType string, payload any, root, message uuid.NullUUID) {
	if _, err := s.hub.Publish(ctx, conversation, eventType, payload, root, message); err != nil {
		s.log.ErrorContext(ctx, "Event publish failed",
			slog.String("event_type", eventType),
			slog.String("conversation_id", conversation.String()),
			slog.Any("error", err))
	}
}

func validateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("%w: content must not be empty", store.ErrValidation)
	}
	if len(content) > maxContentLength {
		return fmt.Errorf("%w: content exceeds %d bytes", store.ErrValidation, maxContentLength)
	}
	return nil
}

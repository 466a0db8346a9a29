package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustygpt/rustygpt/internal/config"
	"github.com/rustygpt/rustygpt/internal/conversation"
	"github.com/rustygpt/rustygpt/internal/events"
	"github.com/rustygpt/rustygpt/internal/provider"
	"github.com/rustygpt/rustygpt/internal/store"
	"github.com/rustygpt/rustygpt/internal/supervisor"
)

// treeStore is an in-memory conversation.Store covering what the pipeline
// touches: the ancestor chain, assistant row writes, and chunk appends.
type treeStore struct {
	mu      sync.Mutex
	chain   []*store.Message
	rows    map[uuid.UUID]*store.Message
	chunks  map[uuid.UUID][]string
	updates int
}

func newTreeStore(chain ...*store.Message) *treeStore {
	return &treeStore{
		chain:  chain,
		rows:   make(map[uuid.UUID]*store.Message),
		chunks: make(map[uuid.UUID][]string),
	}
}

func (s *treeStore) row(id uuid.UUID) *store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

func (s *treeStore) AncestorChain(context.Context, uuid.UUID, uuid.UUID) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain, nil
}

func (s *treeStore) ReplyMessage(_ context.Context, _ uuid.UUID, author uuid.NullUUID, parent uuid.UUID, content, role string, id uuid.NullUUID) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgID := id.UUID
	if !id.Valid {
		msgID = uuid.New()
	}
	// The SQL layer inherits the conversation from the parent row.
	conv := uuid.Nil
	if row, ok := s.rows[parent]; ok {
		conv = row.ConversationID
	} else {
		for _, m := range s.chain {
			if m.ID == parent {
				conv = m.ConversationID
				break
			}
		}
	}
	msg := &store.Message{
		ID:             msgID,
		ConversationID: conv,
		RootID:         parent,
		ParentID:       uuid.NullUUID{UUID: parent, Valid: true},
		AuthorID:       author,
		Role:           role,
		Content:        content,
	}
	s.rows[msgID] = msg
	return msg, nil
}

func (s *treeStore) AppendMessageChunk(_ context.Context, _, message uuid.UUID, _ int, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[message] = append(s.chunks[message], delta)
	return nil
}

func (s *treeStore) UpdateMessageContent(_ context.Context, _, message uuid.UUID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if row, ok := s.rows[message]; ok {
		row.Content = content
	}
	return nil
}

func (s *treeStore) CreateConversation(context.Context, uuid.UUID, string) (*store.Conversation, error) {
	return nil, nil
}

func (s *treeStore) AddParticipant(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, string) error {
	return nil
}

func (s *treeStore) RemoveParticipant(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return nil
}

func (s *treeStore) CreateInvite(context.Context, uuid.UUID, uuid.UUID, uuid.NullUUID) (*store.Invite, error) {
	return nil, nil
}

func (s *treeStore) AcceptInvite(context.Context, uuid.UUID, string) (uuid.UUID, error) {
	return uuid.Nil, nil
}

func (s *treeStore) RevokeInvite(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (s *treeStore) ListThreads(context.Context, uuid.UUID, uuid.UUID, int, int) ([]*store.ThreadSummary, error) {
	return nil, nil
}

func (s *treeStore) GetThreadSummary(context.Context, uuid.UUID, uuid.UUID) (*store.ThreadSummary, error) {
	return nil, store.ErrNotFound
}

func (s *treeStore) GetThreadSubtree(context.Context, uuid.UUID, uuid.UUID, string, int) ([]*store.Message, error) {
	return nil, nil
}

func (s *treeStore) PostRootMessage(context.Context, uuid.UUID, uuid.UUID, string, string) (*store.Message, error) {
	return nil, nil
}

func (s *treeStore) ListMessageChunks(context.Context, uuid.UUID, uuid.UUID) ([]*store.MessageChunk, error) {
	return nil, nil
}

func (s *treeStore) MarkThreadRead(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (s *treeStore) GetUnreadSummary(context.Context, uuid.UUID, uuid.UUID) ([]*store.UnreadSummary, error) {
	return nil, nil
}

func (s *treeStore) SetTyping(context.Context, uuid.UUID, uuid.UUID, uuid.UUID, int) error {
	return nil
}

func (s *treeStore) Heartbeat(context.Context, uuid.UUID, string) error { return nil }

func (s *treeStore) SoftDeleteMessage(context.Context, uuid.UUID, uuid.UUID, string) error {
	return nil
}

func (s *treeStore) RestoreMessage(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (s *treeStore) EditMessage(context.Context, uuid.UUID, uuid.UUID, string, string) error {
	return nil
}

func (s *treeStore) UserCanAccess(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return true, nil
}

type harness struct {
	pipeline *Pipeline
	hub      *events.Hub
	store    *treeStore
	parent   *store.Message
	actor    uuid.UUID
}

// newHarness wires a pipeline against a llama-server stub. persistChunks
// toggles per-delta durability on the test model.
func newHarness(t *testing.T, backend http.HandlerFunc, timeout time.Duration, persistChunks bool) *harness {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	registry, err := provider.NewRegistry(&config.LLMConfig{
		DefaultModel: "test-model",
		Models: []config.ModelConfig{{
			Name:          "test-model",
			Provider:      "local",
			Path:          srv.URL,
			PersistChunks: persistChunks,
		}},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	actor := uuid.New()
	conv := uuid.New()
	parentID := uuid.New()
	parent := &store.Message{
		ID:             parentID,
		ConversationID: conv,
		RootID:         parentID,
		AuthorID:       uuid.NullUUID{UUID: actor, Valid: true},
		Role:           "user",
		Content:        "hello",
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := newTreeStore(parent)
	hub := events.NewHub(nil, log, events.HubOptions{})
	convo := conversation.NewService(st, hub, log)
	sup := supervisor.New(timeout, log)

	return &harness{
		pipeline: NewPipeline(convo, hub, sup, registry, log),
		hub:      hub,
		store:    st,
		parent:   parent,
		actor:    actor,
	}
}

func sseBody(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n\n"))
		}
	}
}

func drain(t *testing.T, sub *events.Subscription, want int) []*events.Event {
	t.Helper()
	out := make([]*events.Event, 0, want)
	deadline := time.After(2 * time.Second)
	for len(out) < want {
		select {
		case ev := <-sub.C():
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("got %d events, want %d", len(out), want)
		}
	}
	return out
}

func TestGenerateInThreadStreamsAndFinalizes(t *testing.T) {
	h := newHarness(t, sseBody(
		`data: {"content":"Hel","stop":false}`,
		`data: {"content":"lo","stop":false}`,
		`data: {"content":"","stop":true,"stopped_eos":true,"tokens_evaluated":10,"tokens_predicted":2}`,
	), time.Minute, true)

	sub, _, err := h.hub.Subscribe(context.Background(), h.parent.ConversationID, -1)
	require.NoError(t, err)
	defer sub.Close()

	var teed []provider.StreamChunk
	result, err := h.pipeline.GenerateInThread(context.Background(), h.actor, h.parent, &CompletionRequest{Model: "test-model"}, func(c provider.StreamChunk) error {
		teed = append(teed, c)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", result.Content)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Empty(t, result.Warning)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 12, result.Usage.TotalTokens)
	assert.Len(t, teed, 3)

	row := h.store.row(result.MessageID)
	require.NotNil(t, row)
	assert.Equal(t, "Hello", row.Content)
	assert.Equal(t, "assistant", row.Role)
	assert.False(t, row.AuthorID.Valid)
	assert.Equal(t, []string{"Hel", "lo"}, h.store.chunks[result.MessageID])

	// Two deltas, the done marker, and the thread.activity re-announcement.
	evts := drain(t, sub, 4)
	assert.Equal(t, events.TypeMessageDelta, evts[0].Type)
	assert.Equal(t, events.TypeMessageDelta, evts[1].Type)
	assert.Equal(t, events.TypeMessageDone, evts[2].Type)
	assert.Equal(t, events.TypeThreadActivity, evts[3].Type)

	var done events.MessageDonePayload
	require.NoError(t, json.Unmarshal(evts[2].Payload, &done))
	assert.Equal(t, result.MessageID, done.MessageID)
	assert.Equal(t, "Hello", done.Content)
	assert.Equal(t, "stop", done.FinishReason)
}

func TestGenerateInThreadEmptyReplyPlaceholder(t *testing.T) {
	h := newHarness(t, sseBody(
		`data: {"content":"","stop":true,"stopped_eos":true}`,
	), time.Minute, false)

	result, err := h.pipeline.GenerateInThread(context.Background(), h.actor, h.parent, &CompletionRequest{Model: "test-model"}, nil)
	require.NoError(t, err)

	assert.Equal(t, emptyPlaceholder, result.Content)
	assert.Equal(t, "stop", result.FinishReason)

	// The row is created at finalize so the placeholder lands in the tree.
	row := h.store.row(result.MessageID)
	require.NotNil(t, row)
	assert.Equal(t, emptyPlaceholder, row.Content)
	assert.Zero(t, h.store.updates)
}

func TestGenerateInThreadSinkErrorAppendsWarning(t *testing.T) {
	h := newHarness(t, sseBody(
		`data: {"content":"Hel","stop":false}`,
		`data: {"content":"lo","stop":false}`,
	), time.Minute, false)

	sub, _, err := h.hub.Subscribe(context.Background(), h.parent.ConversationID, -1)
	require.NoError(t, err)
	defer sub.Close()

	boom := errors.New("client gone")
	result, err := h.pipeline.GenerateInThread(context.Background(), h.actor, h.parent, &CompletionRequest{Model: "test-model"}, func(provider.StreamChunk) error {
		return boom
	})
	require.NoError(t, err)

	assert.Equal(t, "error", result.FinishReason)
	assert.Equal(t, warnStreamError, result.Warning)
	assert.Equal(t, "Hel\n\n"+warnStreamError, result.Content)

	// delta, the error event, done, thread.activity
	evts := drain(t, sub, 4)
	assert.Equal(t, events.TypeError, evts[1].Type)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(evts[1].Payload, &payload))
	assert.Equal(t, "assistant_stream_error", payload.Code)
}

func TestGenerateInThreadTimeoutAppendsWarning(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	backend := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"content":"partial","stop":false}` + "\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}

	h := newHarness(t, backend, 100*time.Millisecond, false)
	result, err := h.pipeline.GenerateInThread(context.Background(), h.actor, h.parent, &CompletionRequest{Model: "test-model"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "timeout", result.FinishReason)
	assert.Equal(t, warnTimeout, result.Warning)
	assert.Equal(t, "partial\n\n"+warnTimeout, result.Content)

	row := h.store.row(result.MessageID)
	require.NotNil(t, row)
	assert.Equal(t, result.Content, row.Content)
}

func TestGenerateInThreadCancelPreservesPartial(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	backend := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"content":"so far","stop":false}` + "\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}

	h := newHarness(t, backend, time.Minute, false)
	sink := func(provider.StreamChunk) error {
		// First delta observed; the running generation can be cancelled now.
		select {
		case started <- struct{}{}:
		default:
		}
		return nil
	}

	done := make(chan *Result, 1)
	go func() {
		result, err := h.pipeline.GenerateInThread(context.Background(), h.actor, h.parent, &CompletionRequest{Model: "test-model"}, sink)
		if err != nil {
			t.Errorf("GenerateInThread: %v", err)
		}
		done <- result
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never started")
	}

	// The lazily created row carries the supervised generation's id.
	var msgID uuid.UUID
	require.Eventually(t, func() bool {
		h.store.mu.Lock()
		defer h.store.mu.Unlock()
		for id := range h.store.rows {
			msgID = id
			return true
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, h.pipeline.Cancel(msgID))

	select {
	case result := <-done:
		assert.Equal(t, "cancelled", result.FinishReason)
		assert.Empty(t, result.Warning)
		assert.Equal(t, "so far", result.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not stop after cancel")
	}
}

func TestGenerateReplyRunsInBackground(t *testing.T) {
	h := newHarness(t, sseBody(
		`data: {"content":"background","stop":false}`,
		`data: {"content":"","stop":true,"stopped_eos":true}`,
	), time.Minute, false)

	sub, _, err := h.hub.Subscribe(context.Background(), h.parent.ConversationID, -1)
	require.NoError(t, err)
	defer sub.Close()

	id, err := h.pipeline.GenerateReply(context.Background(), h.actor, h.parent, "")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	evts := drain(t, sub, 3)
	var done events.MessageDonePayload
	require.NoError(t, json.Unmarshal(evts[1].Payload, &done))
	assert.Equal(t, id, done.MessageID)
	assert.Equal(t, "background", done.Content)

	row := h.store.row(id)
	require.NotNil(t, row)
	assert.Equal(t, "background", row.Content)
}

func TestGenerateReplyUnknownModel(t *testing.T) {
	h := newHarness(t, sseBody(), time.Minute, false)

	_, err := h.pipeline.GenerateReply(context.Background(), h.actor, h.parent, "nope")
	require.ErrorIs(t, err, provider.ErrUnknownModel)
	assert.Empty(t, h.store.rows)
}

func TestCheckModel(t *testing.T) {
	h := newHarness(t, sseBody(), time.Minute, false)

	require.NoError(t, h.pipeline.CheckModel("test-model"))
	require.NoError(t, h.pipeline.CheckModel(""))
	require.ErrorIs(t, h.pipeline.CheckModel("nope"), provider.ErrUnknownModel)
}

func TestPlaceholderFor(t *testing.T) {
	assert.Equal(t, cancelledPlaceholder, placeholderFor("cancelled"))
	assert.Equal(t, timedOutPlaceholder, placeholderFor("timeout"))
	assert.Equal(t, emptyPlaceholder, placeholderFor("error"))
	assert.Equal(t, emptyPlaceholder, placeholderFor("stop"))
}

var _ conversation.Store = (*treeStore)(nil)

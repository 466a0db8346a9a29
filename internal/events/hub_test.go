package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/store"
)

// memStore is an in-memory EventStore for exercising the persistence and
// replay paths without a database.
type memStore struct {
	mu       sync.Mutex
	events   map[uuid.UUID][]store.ConversationEvent
	failNext bool
	appends  int
}

func newMemStore() *memStore {
	return &memStore{events: make(map[uuid.UUID][]store.ConversationEvent)}
}

func (m *memStore) AppendEvent(_ context.Context, e store.ConversationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.failNext {
		m.failNext = false
		return errors.New("append refused")
	}
	m.events[e.ConversationID] = append(m.events[e.ConversationID], e)
	return nil
}

func (m *memStore) EventsAfter(_ context.Context, conv uuid.UUID, after int64, limit int) ([]*store.ConversationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ConversationEvent
	for i := range m.events[conv] {
		e := m.events[conv][i]
		if e.Sequence > after && len(out) < limit {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *memStore) LastSequence(_ context.Context, conv uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := m.events[conv]
	if len(evs) == 0 {
		return 0, nil
	}
	return evs[len(evs)-1].Sequence, nil
}

func (m *memStore) PruneEvents(context.Context, uuid.UUID, int, int, int) (int64, error) {
	return 0, nil
}

func testHub(st EventStore, opts HubOptions) *Hub {
	return NewHub(st, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func TestPublishAssignsMonotonicSequences(t *testing.T) {
	hub := testHub(nil, HubOptions{})
	conv := uuid.New()

	for want := int64(1); want <= 5; want++ {
		e, err := hub.Publish(context.Background(), conv, TypeThreadActivity,
			ThreadActivityPayload{RootID: uuid.New()}, uuid.NullUUID{}, uuid.NullUUID{})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if e.Sequence != want {
			t.Errorf("expected sequence %d, got %d", want, e.Sequence)
		}
	}
}

func TestSubscribeLiveOnly(t *testing.T) {
	hub := testHub(nil, HubOptions{})
	conv := uuid.New()

	if _, err := hub.Publish(context.Background(), conv, TypeThreadNew, ThreadNewPayload{}, uuid.NullUUID{}, uuid.NullUUID{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// A negative cursor means no Last-Event-ID: no replay at all.
	sub, backlog, err := hub.Subscribe(context.Background(), conv, -1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d events", len(backlog))
	}

	e, err := hub.Publish(context.Background(), conv, TypeTypingUpdate, TypingPayload{Active: true}, uuid.NullUUID{}, uuid.NullUUID{})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := <-sub.C()
	if got.Sequence != e.Sequence || got.Type != TypeTypingUpdate {
		t.Errorf("expected live event seq=%d type=%s, got seq=%d type=%s",
			e.Sequence, TypeTypingUpdate, got.Sequence, got.Type)
	}
}

func TestSubscribeReplaysRing(t *testing.T) {
	hub := testHub(nil, HubOptions{})
	conv := uuid.New()

	for i := 0; i < 4; i++ {
		if _, err := hub.Publish(context.Background(), conv, TypeThreadActivity, ThreadActivityPayload{}, uuid.NullUUID{}, uuid.NullUUID{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	sub, backlog, err := hub.Subscribe(context.Background(), conv, 2)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if len(backlog) != 2 {
		t.Fatalf("expected 2 backlog events after seq 2, got %d", len(backlog))
	}
	if backlog[0].Sequence != 3 || backlog[1].Sequence != 4 {
		t.Errorf("expected sequences [3 4], got [%d %d]", backlog[0].Sequence, backlog[1].Sequence)
	}
}

func TestSubscribeMergesStoreAndRingWithoutDuplicates(t *testing.T) {
	st := newMemStore()
	hub := testHub(st, HubOptions{Persist: true, RingCapacity: 16})
	conv := uuid.New()

	for i := 0; i < 6; i++ {
		if _, err := hub.Publish(context.Background(), conv, TypeThreadActivity, ThreadActivityPayload{}, uuid.NullUUID{}, uuid.NullUUID{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	sub, backlog, err := hub.Subscribe(context.Background(), conv, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if len(backlog) != 6 {
		t.Fatalf("expected 6 backlog events, got %d", len(backlog))
	}
	for i, e := range backlog {
		if e.Sequence != int64(i+1) {
			t.Errorf("backlog[%d]: expected sequence %d, got %d", i, i+1, e.Sequence)
		}
	}
}

func TestPublishSurvivesPersistenceFailure(t *testing.T) {
	st := newMemStore()
	hub := testHub(st, HubOptions{Persist: true})
	conv := uuid.New()

	st.failNext = true
	e, err := hub.Publish(context.Background(), conv, TypeThreadNew, ThreadNewPayload{}, uuid.NullUUID{}, uuid.NullUUID{})
	if err != nil {
		t.Fatalf("publish should survive a failed append, got %v", err)
	}
	if e.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", e.Sequence)
	}

	// The next publish still advances the sequence past the lost event.
	e2, err := hub.Publish(context.Background(), conv, TypeThreadNew, ThreadNewPayload{}, uuid.NullUUID{}, uuid.NullUUID{})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if e2.Sequence != 2 {
		t.Errorf("expected sequence 2, got %d", e2.Sequence)
	}
	if st.appends != 2 {
		t.Errorf("expected 2 append attempts, got %d", st.appends)
	}
}

func TestSequenceSeedsFromStore(t *testing.T) {
	st := newMemStore()
	conv := uuid.New()
	st.events[conv] = []store.ConversationEvent{{ConversationID: conv, Sequence: 41}}

	hub := testHub(st, HubOptions{Persist: true})
	e, err := hub.Publish(context.Background(), conv, TypeThreadNew, ThreadNewPayload{}, uuid.NullUUID{}, uuid.NullUUID{})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if e.Sequence != 42 {
		t.Errorf("expected sequence 42 after durable 41, got %d", e.Sequence)
	}
}

func TestRingEviction(t *testing.T) {
	hub := testHub(nil, HubOptions{RingCapacity: minRingCapacity})
	conv := uuid.New()

	total := minRingCapacity + 10
	for i := 0; i < total; i++ {
		if _, err := hub.Publish(context.Background(), conv, TypeThreadActivity, ThreadActivityPayload{}, uuid.NullUUID{}, uuid.NullUUID{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	sub, backlog, err := hub.Subscribe(context.Background(), conv, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if len(backlog) != minRingCapacity {
		t.Fatalf("expected ring-capped backlog of %d, got %d", minRingCapacity, len(backlog))
	}
	if backlog[0].Sequence != int64(total-minRingCapacity+1) {
		t.Errorf("expected oldest retained sequence %d, got %d", total-minRingCapacity+1, backlog[0].Sequence)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := testHub(nil, HubOptions{SubscriberCapacity: 2})
	conv := uuid.New()

	sub, _, err := hub.Subscribe(context.Background(), conv, -1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		if _, err := hub.Publish(context.Background(), conv, TypeThreadActivity, ThreadActivityPayload{}, uuid.NullUUID{}, uuid.NullUUID{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if got := sub.Lagged(); got != 3 {
		t.Errorf("expected 3 dropped events, got %d", got)
	}
	if got := sub.Lagged(); got != 0 {
		t.Errorf("Lagged should reset, got %d", got)
	}
}

func TestEventID(t *testing.T) {
	root := uuid.New()
	msg := uuid.New()

	scoped := &Event{
		Sequence:      7,
		RootMessageID: uuid.NullUUID{UUID: root, Valid: true},
		MessageID:     uuid.NullUUID{UUID: msg, Valid: true},
	}
	want := root.String() + ":" + msg.String() + ":7"
	if got := scoped.EventID(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	bare := &Event{Sequence: 12}
	if got := bare.EventID(); got != "12" {
		t.Errorf("expected %q, got %q", "12", got)
	}
}

func TestParseLastEventID(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"42", 42, true},
		{" 42 ", 42, true},
		{uuid.NewString() + ":" + uuid.NewString() + ":99", 99, true},
		{"", 0, false},
		{"abc", 0, false},
		{"a:b:c", 0, false},
		{"-5", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseLastEventID(tt.header)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseLastEventID(%q) = (%d, %v), expected (%d, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

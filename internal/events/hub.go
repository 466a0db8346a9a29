package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/logger"
	"github.com/rustygpt/rustygpt/internal/metrics"
	"github.com/rustygpt/rustygpt/internal/store"
)

const minRingCapacity = 64

// EventStore is the persistence slice of the bus. *store.Database satisfies
// it; the hub also runs fine with persistence disabled.
type EventStore interface {
	AppendEvent(ctx context.Context, e store.ConversationEvent) error
	EventsAfter(ctx context.Context, conversation uuid.UUID, after int64, limit int) ([]*store.ConversationEvent, error)
	LastSequence(ctx context.Context, conversation uuid.UUID) (int64, error)
	PruneEvents(ctx context.Context, conversation uuid.UUID, keep, retentionHours, batch int) (int64, error)
}

type HubOptions struct {
	RingCapacity       int
	SubscriberCapacity int
	Persist            bool
	MaxPerConversation int
	PruneBatch         int
	RetentionHours     int
}

// Hub owns one room per active conversation. Rooms are created lazily and
// torn down when the last subscriber leaves and the ring is cold.
type Hub struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*room

	store EventStore
	log   *slog.Logger
	opts  HubOptions
}

type room struct {
	mu             sync.Mutex
	seq            int64
	seeded         bool
	ring           []*Event
	subs           map[*Subscription]struct{}
	pubsSincePrune int
}

// Subscription is a bounded live feed. The hub never blocks on a subscriber:
// when the queue is full the event is dropped and Lagged reports it, so the
// client can reconnect with Last-Event-ID and replay the gap.
type Subscription struct {
	ch      chan *Event
	hub     *Hub
	conv    uuid.UUID
	room    *room
	dropped int64
	once    sync.Once
}

func (s *Subscription) C() <-chan *Event { return s.ch }

// Lagged reports how many events were dropped since the last call.
func (s *Subscription) Lagged() int64 {
	s.room.mu.Lock()
	defer s.room.mu.Unlock()
	n := s.dropped
	s.dropped = 0
	return n
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.room.mu.Lock()
		delete(s.room.subs, s)
		s.room.mu.Unlock()
		close(s.ch)
		metrics.SSESubscribers.Dec()
	})
}

func NewHub(st EventStore, log *slog.Logger, opts HubOptions) *Hub {
	if opts.RingCapacity < minRingCapacity {
		opts.RingCapacity = minRingCapacity
	}
	if opts.SubscriberCapacity <= 0 {
		opts.SubscriberCapacity = 256
	}
	if opts.PruneBatch <= 0 {
		opts.PruneBatch = 500
	}
	return &Hub{
		rooms: make(map[uuid.UUID]*room),
		store: st,
		log:   logger.WithComponent(log, "event_hub"),
		opts:  opts,
	}
}

func (h *Hub) getRoom(conv uuid.UUID) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[conv]
	if !ok {
		r = &room{subs: make(map[*Subscription]struct{})}
		h.rooms[conv] = r
	}
	return r
}

// Publish assigns the next sequence, persists the event (when enabled), then
// fans it out to every subscriber without blocking.
func (h *Hub) Publish(ctx context.Context, conv uuid.UUID, eventType string, payload any, rootID, messageID uuid.NullUUID) (*Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	r := h.getRoom(conv)
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seeded {
		if h.opts.Persist {
			last, err := h.store.LastSequence(ctx, conv)
			if err != nil {
				return nil, fmt.Errorf("seed sequence: %w", err)
			}
			r.seq = last
		}
		r.seeded = true
	}

	e := &Event{
		ConversationID: conv,
		Sequence:       r.seq + 1,
		Type:           eventType,
		Payload:        body,
		RootMessageID:  rootID,
		MessageID:      messageID,
		CreatedAt:      time.Now().UTC(),
	}

	// Persistence is synchronous but non-fatal: a failed append loses replay
	// for this event, not delivery to live subscribers.
	if h.opts.Persist {
		err := h.store.AppendEvent(ctx, store.ConversationEvent{
			ConversationID: conv,
			Sequence:       e.Sequence,
			EventID:        e.EventID(),
			EventType:      e.Type,
			Payload:        e.Payload,
			RootMessageID:  rootID,
		})
		if err != nil {
			h.log.Warn("Event persistence failed",
				slog.String("conversation_id", conv.String()),
				slog.String("event_type", eventType),
				slog.Any("error", err))
		}
	}

	r.seq = e.Sequence
	r.ring = append(r.ring, e)
	if len(r.ring) > h.opts.RingCapacity {
		r.ring = r.ring[len(r.ring)-h.opts.RingCapacity:]
	}

	for sub := range r.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
			metrics.EventsDropped.Inc()
		}
	}

	metrics.EventsPublished.WithLabelValues(eventType).Inc()

	if h.opts.Persist && h.opts.MaxPerConversation > 0 {
		r.pubsSincePrune++
		if r.pubsSincePrune >= h.opts.PruneBatch {
			r.pubsSincePrune = 0
			go h.prune(conv)
		}
	}
	return e, nil
}

func (h *Hub) prune(conv uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		n, err := h.store.PruneEvents(ctx, conv, h.opts.MaxPerConversation, h.opts.RetentionHours, h.opts.PruneBatch)
		if err != nil {
			h.log.Warn("Event prune failed", slog.String("conversation_id", conv.String()), slog.Any("error", err))
			return
		}
		if n < int64(h.opts.PruneBatch) {
			return
		}
	}
}

// Subscribe attaches a live feed and returns any backlog newer than after,
// merged from the durable log and the in-memory ring, ascending and without
// duplicates. Pass after=0 to replay everything retained; pass a negative
// value for live-only when the caller sent no Last-Event-ID.
func (h *Hub) Subscribe(ctx context.Context, conv uuid.UUID, after int64) (*Subscription, []*Event, error) {
	var backlog []*Event
	if h.opts.Persist && after >= 0 {
		stored, err := h.store.EventsAfter(ctx, conv, after, h.opts.MaxPerConversation)
		if err != nil {
			return nil, nil, fmt.Errorf("load backlog: %w", err)
		}
		for _, se := range stored {
			backlog = append(backlog, fromStored(se))
		}
	}

	r := h.getRoom(conv)
	r.mu.Lock()
	defer r.mu.Unlock()

	if after >= 0 {
		highest := after
		if n := len(backlog); n > 0 {
			highest = backlog[n-1].Sequence
		}
		for _, e := range r.ring {
			if e.Sequence > highest {
				backlog = append(backlog, e)
			}
		}
	}

	sub := &Subscription{
		ch:   make(chan *Event, h.opts.SubscriberCapacity),
		hub:  h,
		conv: conv,
		room: r,
	}
	r.subs[sub] = struct{}{}
	metrics.SSESubscribers.Inc()
	return sub, backlog, nil
}

func fromStored(se *store.ConversationEvent) *Event {
	e := &Event{
		ConversationID: se.ConversationID,
		Sequence:       se.Sequence,
		Type:           se.EventType,
		Payload:        se.Payload,
		RootMessageID:  se.RootMessageID,
		CreatedAt:      se.CreatedAt,
	}
	// The message id only matters for the SSE id string, which was rendered
	// at publish time; recover it so replayed frames keep their ids.
	if se.EventID != "" && se.RootMessageID.Valid {
		e.MessageID = parseMessageID(se.EventID)
	}
	return e
}

func parseMessageID(eventID string) uuid.NullUUID {
	// {root}:{message}:{seq}
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(eventID); i++ {
		if eventID[i] == ':' {
			parts = append(parts, eventID[start:i])
			start = i + 1
		}
	}
	parts = append(parts, eventID[start:])
	if len(parts) < 3 {
		return uuid.NullUUID{}
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: id, Valid: true}
}

// Package supervisor tracks in-flight assistant generations and provides
// cancellation, both locally and across instances via NATS.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rustygpt/rustygpt/internal/logger"
	"github.com/rustygpt/rustygpt/internal/metrics"
)

// StopReason says why a generation ended early.
type StopReason string

const (
	ReasonCancelled StopReason = "cancelled"
	ReasonTimedOut  StopReason = "timed_out"
)

// Generation is one supervised assistant stream, keyed by the assistant
// message id it is producing.
type Generation struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	RootID         uuid.UUID
	StartedAt      time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reason StopReason
}

// Context carries the generation deadline and cancellation.
func (g *Generation) Context() context.Context { return g.ctx }

// Reason reports why the generation stopped, empty while it is healthy.
func (g *Generation) Reason() StopReason {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reason == "" && g.ctx.Err() == context.DeadlineExceeded {
		return ReasonTimedOut
	}
	return g.reason
}

func (g *Generation) stop(reason StopReason) {
	g.mu.Lock()
	if g.reason == "" {
		g.reason = reason
	}
	g.mu.Unlock()
	g.cancel()
}

// Supervisor registers generations and fans cancellation out to them. At most
// one generation per assistant message can exist.
type Supervisor struct {
	mu          sync.Mutex
	generations map[uuid.UUID]*Generation

	timeout time.Duration
	log     *slog.Logger
}

func New(timeout time.Duration, log *slog.Logger) *Supervisor {
	return &Supervisor{
		generations: make(map[uuid.UUID]*Generation),
		timeout:     timeout,
		log:         logger.WithComponent(log, "supervisor"),
	}
}

// Register creates and tracks a generation. The returned context expires at
// the generation timeout.
func (s *Supervisor) Register(parent context.Context, messageID, conversationID, rootID uuid.UUID) *Generation {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	g := &Generation{
		MessageID:      messageID,
		ConversationID: conversationID,
		RootID:         rootID,
		StartedAt:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}

	s.mu.Lock()
	if old, ok := s.generations[messageID]; ok {
		old.stop(ReasonCancelled)
	}
	s.generations[messageID] = g
	s.mu.Unlock()

	metrics.ActiveGenerations.Inc()
	s.log.Info("Generation registered",
		slog.String("message_id", messageID.String()),
		slog.String("conversation_id", conversationID.String()))
	return g
}

// Cancel stops a local generation. Returns false when it is not running here.
func (s *Supervisor) Cancel(messageID uuid.UUID, reason StopReason) bool {
	s.mu.Lock()
	g, ok := s.generations[messageID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	g.stop(reason)
	s.log.Info("Generation cancelled",
		slog.String("message_id", messageID.String()),
		slog.String("reason", string(reason)))
	return true
}

// Unregister removes a finished generation and releases its context.
func (s *Supervisor) Unregister(messageID uuid.UUID) {
	s.mu.Lock()
	g, ok := s.generations[messageID]
	if ok {
		delete(s.generations, messageID)
	}
	s.mu.Unlock()
	if ok {
		g.cancel()
		metrics.ActiveGenerations.Dec()
	}
}

// Active reports whether a generation for the message is running locally.
func (s *Supervisor) Active(messageID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.generations[messageID]
	return ok
}

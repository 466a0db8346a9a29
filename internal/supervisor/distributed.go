package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/rustygpt/rustygpt/internal/logger"
)

const (
	generationCancelSubject  = "generation.cancel"
	distributedCancelTimeout = 5 * time.Second
)

// CancelRequest asks whichever instance owns the generation to stop it.
type CancelRequest struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// CancelResponse is the owning instance's answer.
type CancelResponse struct {
	Found      bool   `json:"found"`
	InstanceID string `json:"instance_id"`
}

// DistributedCancel relays cancellation across instances. Generations live
// in memory on the instance that spawned them; when a cancel arrives
// somewhere else, NATS request/reply locates the owner. Instances that do not
// own the generation stay silent so only the owner answers.
type DistributedCancel struct {
	nc           *nats.Conn
	supervisor   *Supervisor
	log          *slog.Logger
	instanceID   string
	subscription *nats.Subscription
}

// NewDistributedCancel returns nil when NATS is not configured; callers treat
// a nil service as single-instance mode.
func NewDistributedCancel(nc *nats.Conn, sup *Supervisor, log *slog.Logger, instanceID string) *DistributedCancel {
	if nc == nil {
		return nil
	}
	return &DistributedCancel{
		nc:         nc,
		supervisor: sup,
		log:        logger.WithComponent(log, "distributed_cancel"),
		instanceID: instanceID,
	}
}

func (s *DistributedCancel) Start() error {
	sub, err := s.nc.Subscribe(generationCancelSubject, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", generationCancelSubject, err)
	}
	s.subscription = sub
	s.log.Info("Distributed cancel listening",
		slog.String("subject", generationCancelSubject),
		slog.String("instance_id", s.instanceID))
	return nil
}

func (s *DistributedCancel) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Drain(); err != nil {
			return fmt.Errorf("drain subscription: %w", err)
		}
	}
	return nil
}

// RequestCancel broadcasts a cancel and waits for the owner. A silent timeout
// means no instance owns the generation anymore.
func (s *DistributedCancel) RequestCancel(ctx context.Context, messageID uuid.UUID, reason StopReason) (bool, error) {
	data, err := json.Marshal(CancelRequest{MessageID: messageID.String(), Reason: string(reason)})
	if err != nil {
		return false, fmt.Errorf("marshal cancel request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, distributedCancelTimeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(reqCtx, generationCancelSubject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return false, fmt.Errorf("cancel request: %w", err)
	}

	var resp CancelResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return false, fmt.Errorf("unmarshal cancel response: %w", err)
	}
	return resp.Found, nil
}

func (s *DistributedCancel) handle(msg *nats.Msg) {
	var req CancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("Invalid cancel request", slog.Any("error", err))
		return
	}

	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		return
	}

	reason := StopReason(req.Reason)
	if reason != ReasonTimedOut {
		reason = ReasonCancelled
	}

	if !s.supervisor.Cancel(messageID, reason) {
		// Not ours, let the owning instance reply.
		return
	}

	data, err := json.Marshal(CancelResponse{Found: true, InstanceID: s.instanceID})
	if err != nil {
		s.log.Error("Marshal cancel response failed", slog.Any("error", err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Error("Cancel response failed", slog.Any("error", err))
	}
}

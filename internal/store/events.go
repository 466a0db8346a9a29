package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AppendEvent persists one bus event in the same call that assigned its
// sequence. The (conversation_id, sequence) primary key rejects duplicates.
func (d *Database) AppendEvent(ctx context.Context, e ConversationEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO conversation_events (conversation_id, sequence, event_id, event_type, payload, root_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ConversationID, e.Sequence, e.EventID, e.EventType, e.Payload, e.RootMessageID,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// EventsAfter returns persisted events with sequence > after, oldest first.
func (d *Database) EventsAfter(ctx context.Context, conversation uuid.UUID, after int64, limit int) ([]*ConversationEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT conversation_id, sequence, event_id, event_type, payload, root_message_id, created_at
		FROM conversation_events
		WHERE conversation_id = $1 AND sequence > $2
		ORDER BY sequence
		LIMIT $3`,
		conversation, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []*ConversationEvent
	for rows.Next() {
		var e ConversationEvent
		if err := rows.Scan(&e.ConversationID, &e.Sequence, &e.EventID, &e.EventType, &e.Payload, &e.RootMessageID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LastSequence returns the highest persisted sequence for a conversation,
// zero when none exist. Used to seed the hub counter after a restart.
func (d *Database) LastSequence(ctx context.Context, conversation uuid.UUID) (int64, error) {
	var seq int64
	err := d.DB.QueryRowContext(ctx,
		"SELECT COALESCE(max(sequence), 0) FROM conversation_events WHERE conversation_id = $1",
		conversation,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq, nil
}

// PruneEvents deletes up to batch events older than the retention cutoff or
// beyond the per-conversation cap, oldest first. Returns rows deleted so the
// caller can loop until the backlog drains.
func (d *Database) PruneEvents(ctx context.Context, conversation uuid.UUID, keep int, retentionHours, batch int) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		DELETE FROM conversation_events
		WHERE (conversation_id, sequence) IN (
			SELECT conversation_id, sequence FROM conversation_events
			WHERE conversation_id = $1
			  AND (created_at < now() - make_interval(hours => $3)
			       OR sequence <= (SELECT COALESCE(max(sequence), 0) - $2 FROM conversation_events WHERE conversation_id = $1))
			ORDER BY sequence
			LIMIT $4
		)`,
		conversation, keep, retentionHours, batch,
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

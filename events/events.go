// Package events provides the transactional outbox every component writes
// its externally visible transitions to. One row per transition, inserted in
// the same transaction as the state change, so indexers never observe an
// event without its state or vice versa.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox topics, one per observable transition.
const (
	TopicProductListed     = "product.listed"
	TopicPurchaseInitiated = "purchase.initiated"
	TopicDeliveryConfirmed = "purchase.delivery_confirmed"
	TopicPurchaseCompleted = "purchase.completed"
	TopicPurchaseRefunded  = "purchase.refunded"
	TopicDisputeOpened     = "dispute.opened"
	TopicStaked            = "jury.staked"
	TopicUnstaked          = "jury.unstaked"
	TopicVoteCast          = "jury.vote_cast"
	TopicDisputeResolved   = "dispute.resolved"
	TopicDisputeCancelled  = "dispute.cancelled"
	TopicReputationUpdated = "reputation.updated"
)

// Writer appends outbox messages inside a caller-owned transaction.
type Writer interface {
	Emit(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// OutboxWriter is the PostgreSQL-backed Writer.
type OutboxWriter struct{}

func NewOutboxWriter() *OutboxWriter {
	return &OutboxWriter{}
}

// Emit inserts a single outbox row. The insert participates in tx, so an
// aborted transition emits nothing. Message ids are generated client-side so
// a consumer can be handed the id before the transaction commits.
func (w *OutboxWriter) Emit(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("events: empty topic")
	}
	if payload == nil {
		payload = map[string]any{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO outbox (id, topic, payload) VALUES ($1, $2, $3::jsonb)
    `, uuid.NewString(), topic, body); err != nil {
		return fmt.Errorf("events: insert outbox: %w", err)
	}

	return nil
}

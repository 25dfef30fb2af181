package reconciler

import (
	"context"
	"log"

	"github.com/zoff-tech/cart-service/pkg/store"
)

// AckReconciler applies broker publish confirmations to the outbox table.
type AckReconciler struct {
	repo store.OutboxRepository
}

// NewAckReconciler creates a new instance of AckReconciler.
func NewAckReconciler(repo store.OutboxRepository) *AckReconciler {
	return &AckReconciler{repo: repo}
}

// HandleAck is registered with the connection manager as the ack handler.
// With multiple set, every row with a sequence number up to and including
// sequenceNumber is completed in one update.
func (r *AckReconciler) HandleAck(ctx context.Context, sequenceNumber uint64, acked bool, multiple bool) {
	if !acked {
		// A nack leaves the rows EVENT_ACK_PENDING; the publisher resends
		// them on the next cycle.
		log.Printf("Broker rejected sequence number %d (multiple=%v)", sequenceNumber, multiple)
		return
	}

	if err := r.repo.MarkAckCompleted(ctx, sequenceNumber, multiple); err != nil {
		// The rows stay pending and get republished, which the consumer
		// deduplicates on message id.
		log.Printf("Failed to complete acknowledgment for sequence number %d: %v", sequenceNumber, err)
	}
}

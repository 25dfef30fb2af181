package publisher

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/cart-service/pkg/broker"
	"github.com/zoff-tech/cart-service/pkg/event"
	"github.com/zoff-tech/cart-service/pkg/store"
)

// OutboxPublisher drains pending outbox rows to the message broker on a
// fixed interval.
type OutboxPublisher struct {
	repo     store.OutboxRepository
	manager  broker.ConnectionManager
	tracer   trace.Tracer
	interval time.Duration
}

// NewOutboxPublisher creates a new instance of OutboxPublisher.
func NewOutboxPublisher(repo store.OutboxRepository, manager broker.ConnectionManager, interval time.Duration) *OutboxPublisher {
	return &OutboxPublisher{
		repo:     repo,
		manager:  manager,
		tracer:   otel.Tracer("cart-service"),
		interval: interval,
	}
}

// Run polls for pending messages until the context is cancelled. Every cycle
// ends with a connection rotation so the next cycle acquires a fresh handle.
func (p *OutboxPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishPending(ctx)
			p.manager.Rotate()
		}
	}
}

func (p *OutboxPublisher) publishPending(ctx context.Context) {
	handle, err := p.manager.Acquire(ctx)
	if err != nil {
		// Rows stay EVENT_ACK_PENDING and are retried next cycle.
		log.Printf("Failed to acquire broker connection: %v", err)
		return
	}

	messages, err := p.repo.FetchPendingOutbox(ctx)
	if err != nil {
		log.Printf("Failed to fetch pending outbox messages: %v", err)
		return
	}

	for _, msg := range messages {
		ctx, span := p.tracer.Start(ctx, "PublishOutboxMessage", trace.WithAttributes(
			attribute.Int64("message.id", msg.ID),
			attribute.String("message.event_type", msg.EventType),
			attribute.String("message.state", msg.State),
		))

		seq := handle.NextSequence()
		body, err := (&event.Message{
			ID:             msg.ID,
			EventType:      msg.EventType,
			Payload:        msg.Payload,
			SequenceNumber: seq,
			State:          msg.State,
		}).Encode()
		if err != nil {
			log.Printf("Failed to encode message %d: %v", msg.ID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			continue
		}

		if err := handle.Publish(ctx, body); err != nil {
			// The handle is suspect after a publish failure; abort the cycle
			// and let the next one reconnect.
			log.Printf("Failed to publish message %d: %v", msg.ID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return
		}

		if err := p.repo.SetSequenceNumber(ctx, msg.ID, seq); err != nil {
			// The broker already has the message. The row keeps its old
			// sequence number and is republished next cycle, which is safe
			// because the consumer deduplicates on message id.
			log.Printf("Failed to record sequence number for message %d: %v", msg.ID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return
		}

		span.End()
	}
}

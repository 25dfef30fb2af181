package consumer

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

// ConsumerID is the fixed dedup identity of this service. It names the
// instance class, not the process.
const ConsumerID = "cart-service"

// MessageConsumer drains the service queue and applies domain effects at
// most once per message.
type MessageConsumer struct {
	repo          store.Repository
	manager       broker.ConnectionManager
	applier       *EffectApplier
	tracer        trace.Tracer
	instance      int
	retryInterval time.Duration
}

// NewMessageConsumer creates a new instance of MessageConsumer. The instance
// number distinguishes concurrent consumers in log output.
func NewMessageConsumer(repo store.Repository, manager broker.ConnectionManager, applier *EffectApplier, instance int, retryInterval time.Duration) *MessageConsumer {
	return &MessageConsumer{
		repo:          repo,
		manager:       manager,
		applier:       applier,
		tracer:        otel.Tracer("cart-service"),
		instance:      instance,
		retryInterval: retryInterval,
	}
}

// Run subscribes and processes deliveries until the context is cancelled.
// When the subscription drops it re-acquires a connection after a short wait.
func (c *MessageConsumer) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil {
			log.Printf("Consumer %d lost its subscription: %v", c.instance, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryInterval):
		}
	}
}

func (c *MessageConsumer) consume(ctx context.Context) error {
	handle, err := c.manager.Acquire(ctx)
	if err != nil {
		return err
	}

	deliveries, err := handle.Consume(ctx)
	if err != nil {
		return err
	}

	log.Printf("Consumer %d subscribed as %s", c.instance, ConsumerID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return broker.ErrChannelClosed
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *MessageConsumer) handleDelivery(ctx context.Context, d broker.Delivery) {
	msg, err := event.Decode(d.Body)
	if err != nil {
		// Left unacknowledged so the broker redelivers; the body might be
		// recoverable after a deploy.
		log.Printf("Consumer %d dropped malformed delivery %d: %v", c.instance, d.Tag, err)
		return
	}

	ctx, span := c.tracer.Start(ctx, "ConsumeMessage", trace.WithAttributes(
		attribute.Int64("message.id", msg.ID),
		attribute.String("message.event_type", msg.EventType),
		attribute.Int("consumer.instance", c.instance),
	))
	defer span.End()

	if !event.Recognized(msg.EventType) {
		span.SetAttributes(attribute.String("message.outcome", OutcomeUnrecognized.String()))
		if err := d.Ack(); err != nil {
			log.Printf("Consumer %d failed to ack message %d: %v", c.instance, msg.ID, err)
		}
		return
	}

	outcome, err := c.process(ctx, msg)
	if err != nil {
		// Nothing committed, nothing acked. The broker redelivers and the
		// retry starts from a clean slate.
		log.Printf("Consumer %d failed to process message %d: %v", c.instance, msg.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetAttributes(attribute.String("message.outcome", outcome.String()))
	if outcome == OutcomeNotFound {
		log.Printf("Consumer %d applied no effect for message %d: target entity absent", c.instance, msg.ID)
	}

	if err := d.Ack(); err != nil {
		log.Printf("Consumer %d failed to ack message %d: %v", c.instance, msg.ID, err)
	}
}

// process commits the dedup record and the domain effect in one transaction.
func (c *MessageConsumer) process(ctx context.Context, msg *event.Message) (Outcome, error) {
	outcome := OutcomeAlreadyProcessed

	err := c.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		inserted, err := c.repo.MarkConsumed(ctx, msg.ID, ConsumerID)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		outcome, err = c.applier.Apply(ctx, msg)
		return err
	})
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

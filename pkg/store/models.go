package store

import (
	"time"

	"github.com/zoff-tech/cart-service/pkg/event"
)

// OutboxMessage is a row in the outbox table: an outgoing event awaiting
// broker acknowledgment. SequenceNumber is zero until the publisher transmits
// the row and stamps the broker-assigned number on it.
type OutboxMessage struct {
	ID             int64
	EventType      string
	Payload        string
	SequenceNumber uint64
	State          string
	CreatedAt      time.Time
}

// NewOutboxMessage creates a pending outbox row for the given event.
func NewOutboxMessage(eventType, payload string) *OutboxMessage {
	return &OutboxMessage{
		EventType: eventType,
		Payload:   payload,
		State:     event.StateAckPending,
		CreatedAt: time.Now(),
	}
}

// ConsumedMessage records that an inbound event id has been processed by a
// consumer identity. (MessageID, ConsumerID) is unique.
type ConsumedMessage struct {
	ID         int64
	MessageID  int64
	ConsumerID string
	CreatedAt  time.Time
}

// Cart is the domain entity mutated by inbound user events.
type Cart struct {
	ID        int64
	UserID    int64
	CreatedAt time.Time
}

// CartItem is a pending order inside a cart.
type CartItem struct {
	ID        int64
	CartID    int64
	OrderID   int64
	CreatedAt time.Time
}

package broker

import (
	"context"
	"errors"
)

var (
	// ErrBrokerUnreachable means no connection or channel could be
	// established. The current loop cycle no-ops and retries next interval.
	ErrBrokerUnreachable = errors.New("message broker unreachable")
	// ErrChannelClosed means the live handle was invalidated mid-use; the
	// next Acquire reconnects lazily.
	ErrChannelClosed = errors.New("broker channel closed")
)

// AckHandler is invoked asynchronously for every publisher confirmation.
// With multiple set, the confirmation covers every sequence number up to and
// including sequenceNumber.
type AckHandler func(ctx context.Context, sequenceNumber uint64, acked bool, multiple bool)

// Delivery is one inbound message pending manual acknowledgment.
type Delivery struct {
	Body []byte
	Tag  uint64
	// AckFunc acknowledges the delivery to the broker. A delivery that is
	// never acknowledged is redelivered.
	AckFunc func() error
}

func (d Delivery) Ack() error {
	if d.AckFunc == nil {
		return nil
	}
	return d.AckFunc()
}

// Handle is a live channel to the broker for one connection generation.
// Callers obtain it from a ConnectionManager and never hold it across
// generations.
type Handle interface {
	// NextSequence returns the sequence number the next Publish on this
	// handle will be confirmed under.
	NextSequence() uint64
	// Publish transmits a message body to the service queue.
	Publish(ctx context.Context, body []byte) error
	// Consume returns the delivery stream of the service queue. The channel
	// closes when the underlying broker channel closes.
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// ConnState is the connection manager's lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// ConnectionManager owns the live broker handle and its reconnection
// lifecycle. It keeps exactly one handle per generation key; a closure
// notification invalidates the cached handle and rotates the key, so the
// next Acquire reconnects. Reconnection is never attempted synchronously
// inside a failing call.
type ConnectionManager interface {
	Acquire(ctx context.Context) (Handle, error)
	// Rotate retires the current generation key. A still-healthy handle is
	// re-keyed; a dead one is dropped so the next Acquire reconnects.
	Rotate()
	// NotifyAcks registers the handler for publisher confirmations.
	NotifyAcks(handler AckHandler)
	Close() error
}

package store

import (
	"context"
	"errors"
)

// ErrCartNotFound is returned when a cart lookup or delete matches no row.
var ErrCartNotFound = errors.New("cart not found")

// OutboxRepository defines the database operations of the outbound path.
type OutboxRepository interface {
	// InsertOutbox writes a pending outbox row, assigning its id.
	// Participates in a surrounding transaction when one is on the context.
	InsertOutbox(ctx context.Context, msg *OutboxMessage) error
	// FetchPendingOutbox retrieves all rows still awaiting acknowledgment,
	// in insertion order.
	FetchPendingOutbox(ctx context.Context) ([]OutboxMessage, error)
	// SetSequenceNumber stamps the broker-assigned sequence number on a row.
	SetSequenceNumber(ctx context.Context, id int64, seq uint64) error
	// MarkAckCompleted moves rows to the completed state. With multiple set,
	// every row with a sequence number up to and including seq is completed
	// in one update; otherwise only the exact match. Unmatched sequence
	// numbers are not an error.
	MarkAckCompleted(ctx context.Context, seq uint64, multiple bool) error
}

// InboxRepository defines the dedup operations of the inbound path.
type InboxRepository interface {
	// MarkConsumed records (messageID, consumerID) if absent. It reports
	// whether the row was inserted; false means the event was already
	// processed. The insert is atomic against concurrent duplicates.
	MarkConsumed(ctx context.Context, messageID int64, consumerID string) (bool, error)
}

// CartRepository defines the domain operations on carts and cart items.
type CartRepository interface {
	CreateCart(ctx context.Context, cart *Cart) error
	GetCart(ctx context.Context, id int64) (*Cart, error)
	ListCarts(ctx context.Context) ([]Cart, error)
	DeleteCart(ctx context.Context, id int64) error
	// DeleteCartByUserID removes the cart owned by userID, returning
	// ErrCartNotFound when none exists.
	DeleteCartByUserID(ctx context.Context, userID int64) error
	AddCartItem(ctx context.Context, item *CartItem) error
	ListCartItemsByUserID(ctx context.Context, userID int64) ([]CartItem, error)
}

// Repository is the full store surface. WithinTransaction runs fn inside a
// single transaction; repository calls made with the ctx passed to fn join
// that transaction.
type Repository interface {
	OutboxRepository
	InboxRepository
	CartRepository
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}

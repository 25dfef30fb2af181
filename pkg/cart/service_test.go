package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/cart-service/pkg/event"
	"github.com/zoff-tech/cart-service/pkg/store"
)

type fakeRepository struct {
	store.Repository

	items    []store.CartItem
	itemsErr error

	outbox    []store.OutboxMessage
	outboxErr error
	txCommits int
	txAborts  int
}

func (r *fakeRepository) ListCartItemsByUserID(ctx context.Context, userID int64) ([]store.CartItem, error) {
	if r.itemsErr != nil {
		return nil, r.itemsErr
	}
	return r.items, nil
}

func (r *fakeRepository) InsertOutbox(ctx context.Context, msg *store.OutboxMessage) error {
	if r.outboxErr != nil {
		return r.outboxErr
	}
	msg.ID = int64(len(r.outbox) + 1)
	r.outbox = append(r.outbox, *msg)
	return nil
}

func (r *fakeRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		r.txAborts++
		r.outbox = nil
		return err
	}
	r.txCommits++
	return nil
}

func TestCheckout(t *testing.T) {
	repo := &fakeRepository{
		items: []store.CartItem{
			{ID: 1, CartID: 10, OrderID: 100},
			{ID: 2, CartID: 10, OrderID: 200},
		},
	}
	svc := NewService(repo)

	initiated, err := svc.Checkout(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, 2, initiated)
	assert.Equal(t, 1, repo.txCommits)

	require.Len(t, repo.outbox, 2)
	for i, msg := range repo.outbox {
		assert.Equal(t, event.TypePaymentInitiated, msg.EventType)
		assert.Equal(t, event.StateAckPending, msg.State)

		payload, err := event.DecodePayload(msg.EventType, msg.Payload)
		require.NoError(t, err)
		cartPayload := payload.(event.CartPayload)
		assert.Equal(t, int64(10), cartPayload.CartID)
		assert.Equal(t, repo.items[i].OrderID, cartPayload.OrderID)
		assert.Equal(t, int64(42), cartPayload.UserID)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewService(repo)

	initiated, err := svc.Checkout(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, 0, initiated)
	assert.Empty(t, repo.outbox)
}

func TestCheckout_RollsBackOnOutboxFailure(t *testing.T) {
	repo := &fakeRepository{
		items:     []store.CartItem{{ID: 1, CartID: 10, OrderID: 100}},
		outboxErr: errors.New("db down"),
	}
	svc := NewService(repo)

	_, err := svc.Checkout(context.Background(), 42)

	assert.Error(t, err)
	assert.Equal(t, 1, repo.txAborts)
	assert.Empty(t, repo.outbox)
}

// TestCheckout_SingleTransaction drives Checkout through the real Postgres
// repository to pin down that the cart read and the outbox writes share one
// transaction.
func TestCheckout_SingleTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := store.NewPostgresRepository(db)
	svc := NewService(repo)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT i.id, i.cart_id, i.order_id, i.created_at FROM cart_items").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cart_id", "order_id", "created_at"}).
			AddRow(1, 10, 100, time.Now()))
	mock.ExpectQuery("INSERT INTO outbox").
		WithArgs(event.TypePaymentInitiated, `{"cartId":10,"orderId":100,"userId":42}`, event.StateAckPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectCommit()

	initiated, err := svc.Checkout(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, 1, initiated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCart(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewService(store.NewPostgresRepository(db))

	mock.ExpectQuery("INSERT INTO carts").
		WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	cart, err := svc.CreateCart(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, int64(7), cart.ID)
	assert.Equal(t, int64(42), cart.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/zoff-tech/cart-service/pkg/event"
)

func TestFetchPendingOutbox(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "event_type", "payload", "sequence_number", "state", "created_at"}).
		AddRow(1, event.TypePaymentInitiated, `{"cartId":1}`, 0, event.StateAckPending, now).
		AddRow(2, event.TypePaymentInitiated, `{"cartId":2}`, 7, event.StateAckPending, now)

	mock.ExpectQuery(`SELECT id, event_type, payload, COALESCE\(sequence_number, 0\), state, created_at`).
		WithArgs(event.StateAckPending).
		WillReturnRows(rows)

	ctx := context.Background()
	messages, err := repo.FetchPendingOutbox(ctx)
	assert.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, int64(1), messages[0].ID)
	assert.Equal(t, uint64(0), messages[0].SequenceNumber)
	assert.Equal(t, int64(2), messages[1].ID)
	assert.Equal(t, uint64(7), messages[1].SequenceNumber)
	assert.Equal(t, event.StateAckPending, messages[1].State)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOutbox(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	msg := NewOutboxMessage(event.TypePaymentInitiated, `{"cartId":1,"orderId":2,"userId":3}`)

	mock.ExpectQuery(`INSERT INTO outbox \(event_type, payload, state, created_at\)`).
		WithArgs(msg.EventType, msg.Payload, event.StateAckPending, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	ctx := context.Background()
	err = repo.InsertOutbox(ctx, msg)
	assert.NoError(t, err)
	assert.Equal(t, int64(9), msg.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSequenceNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec(`UPDATE outbox SET sequence_number=\$1 WHERE id=\$2`).
		WithArgs(int64(12), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	err = repo.SetSequenceNumber(ctx, 3, 12)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAckCompleted_Multiple(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec(`UPDATE outbox SET state=\$1 WHERE sequence_number IS NOT NULL AND sequence_number <= \$2`).
		WithArgs(event.StateAckCompleted, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	ctx := context.Background()
	err = repo.MarkAckCompleted(ctx, 11, true)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAckCompleted_Single(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec(`UPDATE outbox SET state=\$1 WHERE sequence_number = \$2`).
		WithArgs(event.StateAckCompleted, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 0)) // already completed: no-op

	ctx := context.Background()
	err = repo.MarkAckCompleted(ctx, 11, false)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConsumed_Inserted(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec(`INSERT INTO consumed_messages \(message_id, consumer_id, created_at\)`).
		WithArgs(int64(42), "cart-service", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	inserted, err := repo.MarkConsumed(ctx, 42, "cart-service")
	assert.NoError(t, err)
	assert.True(t, inserted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkConsumed_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	// ON CONFLICT DO NOTHING affects zero rows for an already-seen id.
	mock.ExpectExec(`INSERT INTO consumed_messages \(message_id, consumer_id, created_at\)`).
		WithArgs(int64(42), "cart-service", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	inserted, err := repo.MarkConsumed(ctx, 42, "cart-service")
	assert.NoError(t, err)
	assert.False(t, inserted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCart(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	cart := &Cart{UserID: 7, CreatedAt: time.Now()}
	mock.ExpectQuery(`INSERT INTO carts \(user_id, created_at\)`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	ctx := context.Background()
	err = repo.CreateCart(ctx, cart)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), cart.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCartByUserID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectExec(`DELETE FROM carts WHERE user_id=\$1`).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	err = repo.DeleteCartByUserID(ctx, 99)
	assert.ErrorIs(t, err, ErrCartNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTransaction_Commit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO consumed_messages`).
		WithArgs(int64(5), "cart-service", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`INSERT INTO carts`).
		WithArgs(int64(8), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	ctx := context.Background()
	err = repo.WithinTransaction(ctx, func(ctx context.Context) error {
		inserted, err := repo.MarkConsumed(ctx, 5, "cart-service")
		assert.NoError(t, err)
		assert.True(t, inserted)
		return repo.CreateCart(ctx, &Cart{UserID: 8, CreatedAt: time.Now()})
	})
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTransaction_RollbackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO consumed_messages`).
		WithArgs(int64(5), "cart-service", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	boom := errors.New("effect failed")
	ctx := context.Background()
	err = repo.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := repo.MarkConsumed(ctx, 5, "cart-service")
		assert.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

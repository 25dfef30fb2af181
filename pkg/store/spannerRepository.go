package store

import (
	"context"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/zoff-tech/cart-service/pkg/event"
)

// SpannerRepository implements Repository on Cloud Spanner.
type SpannerRepository struct {
	client *spanner.Client
}

func NewSpannerRepository(client *spanner.Client) *SpannerRepository {
	return &SpannerRepository{client: client}
}

type spannerTxKey struct{}

func spannerTx(ctx context.Context) *spanner.ReadWriteTransaction {
	if txn, ok := ctx.Value(spannerTxKey{}).(*spanner.ReadWriteTransaction); ok {
		return txn
	}
	return nil
}

// WithinTransaction runs fn inside one read-write transaction. A nested call
// joins the transaction already on the context.
func (s *SpannerRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if spannerTx(ctx) != nil {
		return fn(ctx)
	}
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		return fn(context.WithValue(ctx, spannerTxKey{}, txn))
	})
	return err
}

func (s *SpannerRepository) update(ctx context.Context, stmt spanner.Statement) (int64, error) {
	if txn := spannerTx(ctx); txn != nil {
		return txn.Update(ctx, stmt)
	}
	var rows int64
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		n, err := txn.Update(ctx, stmt)
		rows = n
		return err
	})
	return rows, err
}

func (s *SpannerRepository) query(ctx context.Context, stmt spanner.Statement) *spanner.RowIterator {
	if txn := spannerTx(ctx); txn != nil {
		return txn.Query(ctx, stmt)
	}
	return s.client.Single().Query(ctx, stmt)
}

// newRowID derives a row id outside of any auto-increment facility; Spanner
// has no serial columns.
func newRowID() int64 {
	return time.Now().UnixNano()
}

func (s *SpannerRepository) InsertOutbox(ctx context.Context, msg *OutboxMessage) error {
	msg.ID = newRowID()
	stmt := spanner.Statement{
		SQL: `INSERT INTO outbox (id, event_type, payload, state, created_at)
              VALUES (@id, @eventType, @payload, @state, @createdAt)`,
		Params: map[string]interface{}{
			"id":        msg.ID,
			"eventType": msg.EventType,
			"payload":   msg.Payload,
			"state":     msg.State,
			"createdAt": msg.CreatedAt,
		},
	}
	_, err := s.update(ctx, stmt)
	return err
}

func (s *SpannerRepository) FetchPendingOutbox(ctx context.Context) ([]OutboxMessage, error) {
	stmt := spanner.Statement{
		SQL: `SELECT id, event_type, payload, COALESCE(sequence_number, 0), state, created_at
              FROM outbox WHERE state = @state ORDER BY id`,
		Params: map[string]interface{}{
			"state": event.StateAckPending,
		},
	}

	iter := s.query(ctx, stmt)
	defer iter.Stop()

	var messages []OutboxMessage
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var msg OutboxMessage
		var seq int64
		if err := row.Columns(&msg.ID, &msg.EventType, &msg.Payload, &seq, &msg.State, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.SequenceNumber = uint64(seq)
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *SpannerRepository) SetSequenceNumber(ctx context.Context, id int64, seq uint64) error {
	stmt := spanner.Statement{
		SQL: `UPDATE outbox SET sequence_number = @seq WHERE id = @id`,
		Params: map[string]interface{}{
			"seq": int64(seq),
			"id":  id,
		},
	}
	_, err := s.update(ctx, stmt)
	return err
}

func (s *SpannerRepository) MarkAckCompleted(ctx context.Context, seq uint64, multiple bool) error {
	sql := `UPDATE outbox SET state = @state WHERE sequence_number = @seq`
	if multiple {
		sql = `UPDATE outbox SET state = @state WHERE sequence_number IS NOT NULL AND sequence_number <= @seq`
	}
	stmt := spanner.Statement{
		SQL: sql,
		Params: map[string]interface{}{
			"state": event.StateAckCompleted,
			"seq":   int64(seq),
		},
	}
	_, err := s.update(ctx, stmt)
	return err
}

func (s *SpannerRepository) MarkConsumed(ctx context.Context, messageID int64, consumerID string) (bool, error) {
	var inserted bool
	// Check-then-insert is atomic here: Spanner read-write transactions are
	// serializable.
	run := func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		check := spanner.Statement{
			SQL: `SELECT id FROM consumed_messages WHERE message_id = @messageID AND consumer_id = @consumerID`,
			Params: map[string]interface{}{
				"messageID":  messageID,
				"consumerID": consumerID,
			},
		}
		iter := txn.Query(ctx, check)
		_, err := iter.Next()
		iter.Stop()
		if err == nil {
			inserted = false
			return nil
		}
		if err != iterator.Done {
			return err
		}

		insert := spanner.Statement{
			SQL: `INSERT INTO consumed_messages (id, message_id, consumer_id, created_at)
                  VALUES (@id, @messageID, @consumerID, CURRENT_TIMESTAMP())`,
			Params: map[string]interface{}{
				"id":         newRowID(),
				"messageID":  messageID,
				"consumerID": consumerID,
			},
		}
		if _, err := txn.Update(ctx, insert); err != nil {
			return err
		}
		inserted = true
		return nil
	}

	if txn := spannerTx(ctx); txn != nil {
		return inserted, run(ctx, txn)
	}
	_, err := s.client.ReadWriteTransaction(ctx, run)
	return inserted, err
}

func (s *SpannerRepository) CreateCart(ctx context.Context, cart *Cart) error {
	cart.ID = newRowID()
	stmt := spanner.Statement{
		SQL: `INSERT INTO carts (id, user_id, created_at) VALUES (@id, @userID, @createdAt)`,
		Params: map[string]interface{}{
			"id":        cart.ID,
			"userID":    cart.UserID,
			"createdAt": cart.CreatedAt,
		},
	}
	_, err := s.update(ctx, stmt)
	return err
}

func (s *SpannerRepository) GetCart(ctx context.Context, id int64) (*Cart, error) {
	stmt := spanner.Statement{
		SQL:    `SELECT id, user_id, created_at FROM carts WHERE id = @id`,
		Params: map[string]interface{}{"id": id},
	}

	iter := s.query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}

	var cart Cart
	if err := row.Columns(&cart.ID, &cart.UserID, &cart.CreatedAt); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (s *SpannerRepository) ListCarts(ctx context.Context) ([]Cart, error) {
	stmt := spanner.Statement{SQL: `SELECT id, user_id, created_at FROM carts ORDER BY id`}

	iter := s.query(ctx, stmt)
	defer iter.Stop()

	var carts []Cart
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var cart Cart
		if err := row.Columns(&cart.ID, &cart.UserID, &cart.CreatedAt); err != nil {
			return nil, err
		}
		carts = append(carts, cart)
	}
	return carts, nil
}

func (s *SpannerRepository) DeleteCart(ctx context.Context, id int64) error {
	stmt := spanner.Statement{
		SQL:    `DELETE FROM carts WHERE id = @id`,
		Params: map[string]interface{}{"id": id},
	}
	rows, err := s.update(ctx, stmt)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (s *SpannerRepository) DeleteCartByUserID(ctx context.Context, userID int64) error {
	stmt := spanner.Statement{
		SQL:    `DELETE FROM carts WHERE user_id = @userID`,
		Params: map[string]interface{}{"userID": userID},
	}
	rows, err := s.update(ctx, stmt)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (s *SpannerRepository) AddCartItem(ctx context.Context, item *CartItem) error {
	item.ID = newRowID()
	stmt := spanner.Statement{
		SQL: `INSERT INTO cart_items (id, cart_id, order_id, created_at)
              VALUES (@id, @cartID, @orderID, @createdAt)`,
		Params: map[string]interface{}{
			"id":        item.ID,
			"cartID":    item.CartID,
			"orderID":   item.OrderID,
			"createdAt": item.CreatedAt,
		},
	}
	_, err := s.update(ctx, stmt)
	return err
}

func (s *SpannerRepository) ListCartItemsByUserID(ctx context.Context, userID int64) ([]CartItem, error) {
	stmt := spanner.Statement{
		SQL: `SELECT i.id, i.cart_id, i.order_id, i.created_at FROM cart_items i
              JOIN carts c ON c.id = i.cart_id WHERE c.user_id = @userID ORDER BY i.id`,
		Params: map[string]interface{}{"userID": userID},
	}

	iter := s.query(ctx, stmt)
	defer iter.Stop()

	var items []CartItem
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var item CartItem
		if err := row.Columns(&item.ID, &item.CartID, &item.OrderID, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *SpannerRepository) Close() error {
	s.client.Close()
	return nil
}

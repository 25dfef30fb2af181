package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zoff-tech/cart-service/pkg/event"
	"go.opentelemetry.io/otel"
)

// PostgresRepository implements Repository on database/sql.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type txKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresRepository) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return p.db
}

// WithinTransaction runs fn in one transaction. A nested call joins the
// transaction already on the context.
func (p *PostgresRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *PostgresRepository) InsertOutbox(ctx context.Context, msg *OutboxMessage) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "InsertOutbox")
	defer span.End()

	start := time.Now()
	const stmt = `INSERT INTO outbox (event_type, payload, state, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	err := p.conn(ctx).QueryRowContext(ctx, stmt,
		msg.EventType, msg.Payload, msg.State, msg.CreatedAt).Scan(&msg.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert outbox row: %w", err)
	}

	addDBStatsToSpan(span, "postgresql", stmt, 1, time.Since(start))
	return nil
}

func (p *PostgresRepository) FetchPendingOutbox(ctx context.Context) ([]OutboxMessage, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FetchPendingOutbox")
	defer span.End()

	start := time.Now()
	const stmt = `SELECT id, event_type, payload, COALESCE(sequence_number, 0), state, created_at
         FROM outbox WHERE state=$1 ORDER BY id`
	rows, err := p.conn(ctx).QueryContext(ctx, stmt, event.StateAckPending)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		var seq int64
		if err := rows.Scan(&msg.ID, &msg.EventType, &msg.Payload, &seq, &msg.State, &msg.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, err
		}
		msg.SequenceNumber = uint64(seq)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", stmt, len(messages), time.Since(start))
	return messages, nil
}

func (p *PostgresRepository) SetSequenceNumber(ctx context.Context, id int64, seq uint64) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "SetSequenceNumber")
	defer span.End()

	start := time.Now()
	const stmt = `UPDATE outbox SET sequence_number=$1 WHERE id=$2`
	_, err := p.conn(ctx).ExecContext(ctx, stmt, int64(seq), id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set sequence number on outbox row %d: %w", id, err)
	}

	addDBStatsToSpan(span, "postgresql", stmt, 1, time.Since(start))
	return nil
}

func (p *PostgresRepository) MarkAckCompleted(ctx context.Context, seq uint64, multiple bool) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "MarkAckCompleted")
	defer span.End()

	start := time.Now()
	var stmt string
	if multiple {
		stmt = `UPDATE outbox SET state=$1 WHERE sequence_number IS NOT NULL AND sequence_number <= $2`
	} else {
		stmt = `UPDATE outbox SET state=$1 WHERE sequence_number = $2`
	}
	res, err := p.conn(ctx).ExecContext(ctx, stmt, event.StateAckCompleted, int64(seq))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark outbox rows acknowledged up to %d: %w", seq, err)
	}

	// Zero matched rows is fine: the ack may race the sequence-number
	// persistence or arrive after an earlier bulk ack already covered it.
	affected, _ := res.RowsAffected()
	addDBStatsToSpan(span, "postgresql", stmt, int(affected), time.Since(start))
	return nil
}

func (p *PostgresRepository) MarkConsumed(ctx context.Context, messageID int64, consumerID string) (bool, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "MarkConsumed")
	defer span.End()

	start := time.Now()
	const stmt = `INSERT INTO consumed_messages (message_id, consumer_id, created_at) VALUES ($1, $2, $3)
         ON CONFLICT (message_id, consumer_id) DO NOTHING`
	res, err := p.conn(ctx).ExecContext(ctx, stmt, messageID, consumerID, time.Now())
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to record consumed message %d: %w", messageID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	addDBStatsToSpan(span, "postgresql", stmt, int(affected), time.Since(start))
	return affected > 0, nil
}

func (p *PostgresRepository) CreateCart(ctx context.Context, cart *Cart) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "CreateCart")
	defer span.End()

	start := time.Now()
	const stmt = `INSERT INTO carts (user_id, created_at) VALUES ($1, $2) RETURNING id`
	err := p.conn(ctx).QueryRowContext(ctx, stmt, cart.UserID, cart.CreatedAt).Scan(&cart.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create cart for user %d: %w", cart.UserID, err)
	}

	addDBStatsToSpan(span, "postgresql", stmt, 1, time.Since(start))
	return nil
}

func (p *PostgresRepository) GetCart(ctx context.Context, id int64) (*Cart, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetCart")
	defer span.End()

	const stmt = `SELECT id, user_id, created_at FROM carts WHERE id=$1`
	var cart Cart
	err := p.conn(ctx).QueryRowContext(ctx, stmt, id).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCartNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &cart, nil
}

func (p *PostgresRepository) ListCarts(ctx context.Context) ([]Cart, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ListCarts")
	defer span.End()

	start := time.Now()
	const stmt = `SELECT id, user_id, created_at FROM carts ORDER BY id`
	rows, err := p.conn(ctx).QueryContext(ctx, stmt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var carts []Cart
	for rows.Next() {
		var cart Cart
		if err := rows.Scan(&cart.ID, &cart.UserID, &cart.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, err
		}
		carts = append(carts, cart)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", stmt, len(carts), time.Since(start))
	return carts, nil
}

func (p *PostgresRepository) DeleteCart(ctx context.Context, id int64) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "DeleteCart")
	defer span.End()

	const stmt = `DELETE FROM carts WHERE id=$1`
	res, err := p.conn(ctx).ExecContext(ctx, stmt, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete cart %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if affected == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (p *PostgresRepository) DeleteCartByUserID(ctx context.Context, userID int64) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "DeleteCartByUserID")
	defer span.End()

	const stmt = `DELETE FROM carts WHERE user_id=$1`
	res, err := p.conn(ctx).ExecContext(ctx, stmt, userID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete cart for user %d: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if affected == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (p *PostgresRepository) AddCartItem(ctx context.Context, item *CartItem) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "AddCartItem")
	defer span.End()

	const stmt = `INSERT INTO cart_items (cart_id, order_id, created_at) VALUES ($1, $2, $3) RETURNING id`
	err := p.conn(ctx).QueryRowContext(ctx, stmt, item.CartID, item.OrderID, item.CreatedAt).Scan(&item.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return nil
}

func (p *PostgresRepository) ListCartItemsByUserID(ctx context.Context, userID int64) ([]CartItem, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ListCartItemsByUserID")
	defer span.End()

	start := time.Now()
	const stmt = `SELECT i.id, i.cart_id, i.order_id, i.created_at FROM cart_items i
         JOIN carts c ON c.id = i.cart_id WHERE c.user_id=$1 ORDER BY i.id`
	rows, err := p.conn(ctx).QueryContext(ctx, stmt, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var items []CartItem
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.OrderID, &item.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", stmt, len(items), time.Since(start))
	return items, nil
}

func (p *PostgresRepository) Close() error {
	return p.db.Close()
}

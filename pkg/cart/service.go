package cart

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/cart-service/pkg/event"
	"github.com/zoff-tech/cart-service/pkg/store"
)

// Service is the transactional business surface over carts. Mutations that
// must be announced downstream write their outbox rows in the same
// transaction as the domain change.
type Service struct {
	repo   store.Repository
	tracer trace.Tracer
}

// NewService creates a new instance of Service.
func NewService(repo store.Repository) *Service {
	return &Service{
		repo:   repo,
		tracer: otel.Tracer("cart-service"),
	}
}

func (s *Service) CreateCart(ctx context.Context, userID int64) (*store.Cart, error) {
	cart := &store.Cart{UserID: userID, CreatedAt: time.Now()}
	if err := s.repo.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("create cart for user %d: %w", userID, err)
	}
	return cart, nil
}

func (s *Service) GetCart(ctx context.Context, id int64) (*store.Cart, error) {
	return s.repo.GetCart(ctx, id)
}

func (s *Service) ListCarts(ctx context.Context) ([]store.Cart, error) {
	return s.repo.ListCarts(ctx)
}

func (s *Service) DeleteCart(ctx context.Context, id int64) error {
	return s.repo.DeleteCart(ctx, id)
}

func (s *Service) AddItem(ctx context.Context, cartID, orderID int64) (*store.CartItem, error) {
	item := &store.CartItem{CartID: cartID, OrderID: orderID, CreatedAt: time.Now()}
	if err := s.repo.AddCartItem(ctx, item); err != nil {
		return nil, fmt.Errorf("add item to cart %d: %w", cartID, err)
	}
	return item, nil
}

// Checkout initiates payment for every item in the user's cart. The outbox
// rows and the read of the cart commit in one transaction, so either all
// payments are announced or none are.
func (s *Service) Checkout(ctx context.Context, userID int64) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout", trace.WithAttributes(
		attribute.Int64("cart.user_id", userID),
	))
	defer span.End()

	initiated := 0
	err := s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		items, err := s.repo.ListCartItemsByUserID(ctx, userID)
		if err != nil {
			return err
		}

		for _, item := range items {
			payload, err := event.EncodePayload(event.CartPayload{
				CartID:  item.CartID,
				OrderID: item.OrderID,
				UserID:  userID,
			})
			if err != nil {
				return err
			}

			msg := store.NewOutboxMessage(event.TypePaymentInitiated, payload)
			if err := s.repo.InsertOutbox(ctx, msg); err != nil {
				return err
			}
			initiated++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("checkout for user %d: %w", userID, err)
	}

	span.SetAttributes(attribute.Int("cart.payments_initiated", initiated))
	return initiated, nil
}

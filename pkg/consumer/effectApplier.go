package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoff-tech/cart-service/pkg/event"
	"github.com/zoff-tech/cart-service/pkg/store"
)

// EffectApplier maps recognized event types onto cart mutations.
type EffectApplier struct {
	carts store.CartRepository
}

// NewEffectApplier creates a new instance of EffectApplier.
func NewEffectApplier(carts store.CartRepository) *EffectApplier {
	return &EffectApplier{carts: carts}
}

// Apply runs the domain effect for msg. It is called inside the same
// transaction as the dedup insert, so a returned error rolls both back.
func (a *EffectApplier) Apply(ctx context.Context, msg *event.Message) (Outcome, error) {
	payload, err := event.DecodePayload(msg.EventType, msg.Payload)
	if err != nil {
		return OutcomeUnrecognized, fmt.Errorf("decode payload for message %d: %w", msg.ID, err)
	}

	switch p := payload.(type) {
	case event.UserPayload:
		switch msg.EventType {
		case event.TypeUserCreated:
			cart := &store.Cart{UserID: p.ID, CreatedAt: time.Now()}
			if err := a.carts.CreateCart(ctx, cart); err != nil {
				return OutcomeUnrecognized, fmt.Errorf("create cart for user %d: %w", p.ID, err)
			}
			return OutcomeApplied, nil
		case event.TypeUserDeleted:
			if err := a.carts.DeleteCartByUserID(ctx, p.ID); err != nil {
				if errors.Is(err, store.ErrCartNotFound) {
					return OutcomeNotFound, nil
				}
				return OutcomeUnrecognized, fmt.Errorf("delete cart for user %d: %w", p.ID, err)
			}
			return OutcomeApplied, nil
		}
	}

	return OutcomeUnrecognized, nil
}

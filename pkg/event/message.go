package event

import (
	"encoding/json"
	"fmt"
)

// Event types carried on the service queue.
const (
	TypeUserCreated      = "USER_CREATED"
	TypeUserDeleted      = "USER_DELETED"
	TypePaymentInitiated = "PAYMENT_INITIATED"
)

// Acknowledgment states of an outbox message. A row only ever moves from
// pending to completed.
const (
	StateAckPending   = "EVENT_ACK_PENDING"
	StateAckCompleted = "EVENT_ACK_COMPLETED"
)

// Message is the wire envelope exchanged over the service queue. Payload is
// a nested serialized domain object; its shape is selected by EventType.
// SequenceNumber and State are only populated on the outbound path.
type Message struct {
	ID             int64  `json:"id"`
	EventType      string `json:"eventType"`
	Payload        string `json:"payload"`
	SequenceNumber uint64 `json:"sequenceNumber,omitempty"`
	State          string `json:"state,omitempty"`
}

// Decode parses a raw queue body into an envelope.
func Decode(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	return &msg, nil
}

// Encode serializes the envelope for transmission.
func (m *Message) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message envelope: %w", err)
	}
	return body, nil
}

// Recognized reports whether the consumer applies a domain effect for the
// given event type. Unrecognized types are acknowledged without action.
func Recognized(eventType string) bool {
	switch eventType {
	case TypeUserCreated, TypeUserDeleted:
		return true
	}
	return false
}

// Payload is the decoded domain object nested inside an envelope, one
// variant per recognized event type.
type Payload interface {
	eventPayload()
}

// UserPayload is carried by USER_CREATED and USER_DELETED events.
type UserPayload struct {
	ID int64 `json:"id"`
}

// CartPayload is carried by PAYMENT_INITIATED events, one per checked-out
// cart item.
type CartPayload struct {
	CartID  int64 `json:"cartId"`
	OrderID int64 `json:"orderId"`
	UserID  int64 `json:"userId"`
}

func (UserPayload) eventPayload() {}
func (CartPayload) eventPayload() {}

// DecodePayload parses the nested payload using the event type as the
// discriminator.
func DecodePayload(eventType, payload string) (Payload, error) {
	switch eventType {
	case TypeUserCreated, TypeUserDeleted:
		var user UserPayload
		if err := json.Unmarshal([]byte(payload), &user); err != nil {
			return nil, fmt.Errorf("failed to decode user payload: %w", err)
		}
		return user, nil
	case TypePaymentInitiated:
		var cart CartPayload
		if err := json.Unmarshal([]byte(payload), &cart); err != nil {
			return nil, fmt.Errorf("failed to decode cart payload: %w", err)
		}
		return cart, nil
	default:
		return nil, fmt.Errorf("no payload shape for event type %q", eventType)
	}
}

// EncodePayload serializes a payload for nesting inside an envelope.
func EncodePayload(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(raw), nil
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/zoff-tech/cart-service/pkg/config"
)

// PubSubManagerCreator defines a function type for creating Pub/Sub managers.
type PubSubManagerCreator func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (ConnectionManager, error)

// NewPubSubManager is the default implementation of PubSubManagerCreator.
// Pub/Sub has no publisher-confirm protocol; sequence numbers are assigned
// locally per handle and confirmed when the publish result resolves.
var NewPubSubManager PubSubManagerCreator = func(ctx context.Context, settings *config.BrokerSettings, opts ...option.ClientOption) (ConnectionManager, error) {
	if settings.ProjectID == "" {
		return nil, errors.New("broker projectID must be set")
	}
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}
	return &pubSubManager{settings: settings, client: client}, nil
}

type pubSubManager struct {
	settings *config.BrokerSettings
	client   *pubsub.Client

	mu      sync.Mutex
	handler AckHandler
	gen     uint64
	handles map[uint64]*pubSubHandle
	closed  bool
}

func (m *pubSubManager) NotifyAcks(handler AckHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *pubSubManager) ackHandler() AckHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

func (m *pubSubManager) Acquire(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrChannelClosed
	}
	if m.handles == nil {
		m.handles = make(map[uint64]*pubSubHandle)
	}
	if h, ok := m.handles[m.gen]; ok {
		return h, nil
	}

	h := &pubSubHandle{
		manager:      m,
		topic:        m.client.Topic(m.settings.Topic),
		subscription: m.client.Subscription(m.settings.Subscription),
	}
	m.handles = map[uint64]*pubSubHandle{m.gen: h}
	return h, nil
}

func (m *pubSubManager) Rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[m.gen]
	delete(m.handles, m.gen)
	m.gen++
	if ok {
		m.handles[m.gen] = h
	}
}

func (m *pubSubManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handles = nil
	return m.client.Close()
}

type pubSubHandle struct {
	manager      *pubSubManager
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
	seq          atomic.Uint64
}

func (h *pubSubHandle) NextSequence() uint64 {
	return h.seq.Load() + 1
}

func (h *pubSubHandle) Publish(ctx context.Context, body []byte) error {
	seq := h.seq.Add(1)
	res := h.topic.Publish(ctx, &pubsub.Message{Data: body})

	// The server acks asynchronously; resolve the result off the publishing
	// path and feed the ack handler like a publisher confirm.
	go func() {
		_, err := res.Get(context.Background())
		if err != nil {
			log.Printf("Pub/Sub publish %d failed: %v", seq, err)
		}
		if handler := h.manager.ackHandler(); handler != nil {
			handler(context.Background(), seq, err == nil, false)
		}
	}()
	return nil
}

func (h *pubSubHandle) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		err := h.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			delivery := Delivery{
				Body: msg.Data,
				AckFunc: func() error {
					msg.Ack()
					return nil
				},
			}
			select {
			case out <- delivery:
			case <-ctx.Done():
				msg.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("Pub/Sub receive stopped: %v", err)
		}
	}()
	return out, nil
}

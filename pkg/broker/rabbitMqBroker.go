package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/streadway/amqp"

	"github.com/zoff-tech/cart-service/pkg/config"
)

type RabbitMQManagerCreator func(ctx context.Context, settings *config.BrokerSettings) (ConnectionManager, error)

// dialAMQP is swapped in tests.
var dialAMQP = amqp.Dial

var NewRabbitMqManager RabbitMQManagerCreator = func(ctx context.Context, settings *config.BrokerSettings) (ConnectionManager, error) {
	if settings.URL == "" {
		return nil, errors.New("broker URL must be set")
	}
	if settings.Queue == "" {
		return nil, errors.New("broker queue must be set")
	}
	// The first connection is established lazily, on the first Acquire; a
	// broker that is down at startup surfaces as ErrBrokerUnreachable on the
	// next poll cycle, not as a startup failure.
	return &rabbitMqManager{
		settings: settings,
		handles:  make(map[uint64]*rabbitHandle),
	}, nil
}

type rabbitMqManager struct {
	settings *config.BrokerSettings

	mu      sync.Mutex
	handler AckHandler
	conn    *amqp.Connection
	gen     uint64
	handles map[uint64]*rabbitHandle
	closed  bool

	state atomic.Int32
}

// State reports the manager lifecycle state.
func (m *rabbitMqManager) State() ConnState {
	return ConnState(m.state.Load())
}

func (m *rabbitMqManager) NotifyAcks(handler AckHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *rabbitMqManager) ackHandler() AckHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

func (m *rabbitMqManager) Acquire(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrChannelClosed
	}
	if h, ok := m.handles[m.gen]; ok {
		return h, nil
	}
	return m.connectLocked()
}

func (m *rabbitMqManager) connectLocked() (Handle, error) {
	m.state.Store(int32(StateConnecting))

	if m.conn == nil || m.conn.IsClosed() {
		conn, err := dialAMQP(m.settings.URL)
		if err != nil {
			m.state.Store(int32(StateDisconnected))
			return nil, fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
		}
		m.conn = conn

		connClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		go func() {
			if err := <-connClose; err != nil {
				log.Printf("RabbitMQ connection closed: %v", err)
			}
		}()
	}

	ch, err := m.conn.Channel()
	if err != nil {
		m.state.Store(int32(StateDisconnected))
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		m.state.Store(int32(StateDisconnected))
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}
	if _, err := ch.QueueDeclare(m.settings.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		m.state.Store(int32(StateDisconnected))
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}

	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 64))
	chClose := ch.NotifyClose(make(chan *amqp.Error, 1))

	h := &rabbitHandle{channel: ch, queue: m.settings.Queue}
	// Replaced wholesale: the previous generation's handle is never reused.
	m.handles = map[uint64]*rabbitHandle{m.gen: h}

	go m.watch(h, confirms, chClose)

	m.state.Store(int32(StateConnected))
	log.Printf("RabbitMQ channel opened for generation %d", m.gen)
	return h, nil
}

// watch forwards publisher confirmations to the registered ack handler and
// invalidates the handle when its channel closes.
func (m *rabbitMqManager) watch(h *rabbitHandle, confirms chan amqp.Confirmation, chClose chan *amqp.Error) {
	for {
		select {
		case conf, ok := <-confirms:
			if !ok {
				confirms = nil
				continue
			}
			// The amqp client expands multiple-acks into one confirmation
			// per tag, so multiple is always false here.
			if handler := m.ackHandler(); handler != nil {
				handler(context.Background(), conf.DeliveryTag, conf.Ack, false)
			}
		case err := <-chClose:
			if err != nil {
				log.Printf("RabbitMQ channel closed: %v", err)
			}
			m.invalidate(h)
			return
		}
	}
}

// invalidate drops a dead handle and rotates the generation key so the next
// Acquire reconnects.
func (m *rabbitMqManager) invalidate(h *rabbitHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, cached := range m.handles {
		if cached == h {
			delete(m.handles, key)
			m.gen++
			m.state.Store(int32(StateDisconnected))
		}
	}
}

func (m *rabbitMqManager) Rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[m.gen]
	delete(m.handles, m.gen)
	m.gen++
	if ok {
		// Still healthy as far as we know: re-key it. A handle whose channel
		// died was already dropped by invalidate.
		m.handles[m.gen] = h
	}
}

func (m *rabbitMqManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, h := range m.handles {
		h.channel.Close()
	}
	m.handles = make(map[uint64]*rabbitHandle)
	m.state.Store(int32(StateDisconnected))

	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn.Close()
	}
	return nil
}

// rabbitHandle is one confirm-mode channel. Sequence numbers restart at 1
// per channel, matching the broker's confirmation tags.
type rabbitHandle struct {
	channel *amqp.Channel
	queue   string
	seq     atomic.Uint64
}

func (h *rabbitHandle) NextSequence() uint64 {
	return h.seq.Load() + 1
}

func (h *rabbitHandle) Publish(ctx context.Context, body []byte) error {
	err := h.channel.Publish("", h.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	h.seq.Add(1)
	return nil
}

func (h *rabbitHandle) Consume(ctx context.Context) (<-chan Delivery, error) {
	deliveries, err := h.channel.Consume(h.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				delivery := Delivery{
					Body:    d.Body,
					Tag:     d.DeliveryTag,
					AckFunc: func() error { return d.Ack(false) },
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

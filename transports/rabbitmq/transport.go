// Package rabbitmq implements the messaging.Transport contract on top of
// RabbitMQ. Events are published to a durable topic exchange with publisher
// confirms; broker failures surface as transient transport errors so the
// retry path upstream can classify them.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/biotrace/eventgate/contracts"
)

const defaultConfirmTimeout = 5 * time.Second

// Transport publishes through one AMQP connection with a small channel
// pool. Channels are created lazily and recycled between publishes.
type Transport struct {
	conn     *amqp.Connection
	channels chan *amqp.Channel
	exchange string

	confirmTimeout time.Duration
	logger         *slog.Logger
}

// TransportOption configures the transport.
type TransportOption func(*Transport)

// WithConfirmTimeout bounds the wait for a broker confirmation.
func WithConfirmTimeout(timeout time.Duration) TransportOption {
	return func(t *Transport) {
		t.confirmTimeout = timeout
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithChannelPoolSize sets how many channels are kept open.
func WithChannelPoolSize(n int) TransportOption {
	return func(t *Transport) {
		t.channels = make(chan *amqp.Channel, n)
	}
}

// Connect dials the broker and declares the durable topic exchange all
// event topics are routed through.
func Connect(url, exchange string, options ...TransportOption) (*Transport, error) {
	t := &Transport{
		exchange:       exchange,
		channels:       make(chan *amqp.Channel, 8),
		confirmTimeout: defaultConfirmTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(t)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, &contracts.TransientTransportError{Op: "dial", Err: err}
	}
	t.conn = conn

	ch, err := t.getChannel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, &contracts.TransientTransportError{Op: "exchange declare", Err: err}
	}
	t.putChannel(ch)

	t.logger.Info("connected to broker", "exchange", exchange)
	return t, nil
}

// Publish implements messaging.Transport. The topic becomes the routing key
// prefix: a message for topic "events.manufacturing" with key
// "ProductQuarantined" is routed as "events.manufacturing.ProductQuarantined".
func (t *Transport) Publish(ctx context.Context, topic, key string, body []byte, headers map[string]string) error {
	ch, err := t.getChannel()
	if err != nil {
		return err
	}

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}

	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	routingKey := topic
	if key != "" {
		routingKey = topic + "." + key
	}

	err = ch.PublishWithContext(ctx, t.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	})
	if err != nil {
		// The channel is in an unknown state; drop it instead of recycling.
		_ = ch.Close()
		return &contracts.TransientTransportError{Op: "publish " + routingKey, Err: err}
	}

	select {
	case confirm := <-confirms:
		t.putChannel(ch)
		if !confirm.Ack {
			return &contracts.TransientTransportError{Op: "publish " + routingKey, Err: fmt.Errorf("message nacked by broker")}
		}
		return nil

	case <-time.After(t.confirmTimeout):
		_ = ch.Close()
		return &contracts.TransientTransportError{Op: "publish " + routingKey, Err: fmt.Errorf("confirmation timeout after %s", t.confirmTimeout)}

	case <-ctx.Done():
		_ = ch.Close()
		return ctx.Err()
	}
}

// Drain consumes messages from a queue until it is empty, passing each body
// to handler. Messages are acked only after the handler succeeds; a handler
// error requeues the message and stops the drain.
func (t *Transport) Drain(ctx context.Context, queue string, handler func(body []byte) error) (int, error) {
	ch, err := t.getChannel()
	if err != nil {
		return 0, err
	}
	defer t.putChannel(ch)

	drained := 0
	for {
		if err := ctx.Err(); err != nil {
			return drained, err
		}

		delivery, ok, err := ch.Get(queue, false)
		if err != nil {
			return drained, &contracts.TransientTransportError{Op: "get " + queue, Err: err}
		}
		if !ok {
			return drained, nil
		}

		if err := handler(delivery.Body); err != nil {
			_ = delivery.Nack(false, true)
			return drained, err
		}
		if err := delivery.Ack(false); err != nil {
			return drained, &contracts.TransientTransportError{Op: "ack " + queue, Err: err}
		}
		drained++
	}
}

// DeclareQueue creates a durable queue bound to the exchange for a topic.
func (t *Transport) DeclareQueue(ctx context.Context, name, topic string) error {
	ch, err := t.getChannel()
	if err != nil {
		return err
	}
	defer t.putChannel(ch)

	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return &contracts.TransientTransportError{Op: "queue declare " + name, Err: err}
	}
	if err := ch.QueueBind(name, topic+".#", t.exchange, false, nil); err != nil {
		return &contracts.TransientTransportError{Op: "queue bind " + name, Err: err}
	}
	return nil
}

// Close drains the channel pool and closes the connection.
func (t *Transport) Close() error {
	for {
		select {
		case ch := <-t.channels:
			_ = ch.Close()
		default:
			if t.conn != nil {
				return t.conn.Close()
			}
			return nil
		}
	}
}

func (t *Transport) getChannel() (*amqp.Channel, error) {
	select {
	case ch := <-t.channels:
		if !ch.IsClosed() {
			return ch, nil
		}
	default:
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return nil, &contracts.TransientTransportError{Op: "open channel", Err: err}
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, &contracts.TransientTransportError{Op: "confirm mode", Err: err}
	}
	return ch, nil
}

func (t *Transport) putChannel(ch *amqp.Channel) {
	if ch.IsClosed() {
		return
	}
	select {
	case t.channels <- ch:
	default:
		_ = ch.Close()
	}
}

package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport hands messages to a RabbitMQ queue consumed by a separate
// delivery worker
type AMQPTransport struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewAMQPTransport connects to the broker and declares the durable queue
func NewAMQPTransport(url, queue string) (*AMQPTransport, error) {
	t := &AMQPTransport{url: url, queue: queue}
	if _, err := t.connection(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *AMQPTransport) Send(ctx context.Context, msg *Message) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	conn, err := t.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	defer func() { _ = ch.Close() }()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", t.queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.conn.IsClosed() {
		return nil
	}
	return t.conn.Close()
}

// connection returns the shared connection, redialing after a broker drop
func (t *AMQPTransport) connection() (*amqp.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && !t.conn.IsClosed() {
		return t.conn, nil
	}

	conn, err := amqp.Dial(t.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(t.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}

	t.conn = conn
	return conn, nil
}

func encodeMessage(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode email: %w", err)
	}
	return body, nil
}

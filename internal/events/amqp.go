package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"presale-ledger/internal/domain"
)

// AMQPPublisher publishes events as persistent JSON messages to a durable queue.
type AMQPPublisher struct {
	mu      sync.Mutex // amqp.Channel is not safe for concurrent publishes
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// DialAMQP connects to url and declares queue.
func DialAMQP(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, queue: queue}, nil
}

// Publish sends each event as one message routed to the queue.
func (p *AMQPPublisher) Publish(ctx context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range events {
		msg, err := encodeMessage(e)
		if err != nil {
			return err
		}
		err = p.channel.PublishWithContext(ctx,
			"",      // exchange
			p.queue, // routing key
			false,   // mandatory
			false,   // immediate
			msg,
		)
		if err != nil {
			return fmt.Errorf("failed to publish event %s: %w", e.EventID, err)
		}
	}
	return nil
}

func encodeMessage(e domain.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event %s: %w", e.EventID, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    e.EventID,
		Type:         string(e.Kind),
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}, nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

package notification

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPRelay publishes events to a topic exchange, routed by event type.
type AMQPRelay struct {
	ch       amqpPublisher
	exchange string
}

func NewAMQPRelay(ch amqpPublisher, exchange string) *AMQPRelay {
	return &AMQPRelay{ch: ch, exchange: exchange}
}

func (r *AMQPRelay) Name() string { return "amqp" }

func (r *AMQPRelay) Relay(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.ch.PublishWithContext(ctx, r.exchange, string(evt.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID.String(),
		Timestamp:    evt.CreatedAt,
		Type:         string(evt.Type),
		Body:         body,
	})
}

// DialAMQP connects to the broker, declares a durable topic exchange and
// returns a relay bound to it. The returned func closes channel and
// connection.
func DialAMQP(url, exchange string) (*AMQPRelay, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	closeFn := func() error {
		if err := ch.Close(); err != nil {
			conn.Close()
			return err
		}
		return conn.Close()
	}
	return NewAMQPRelay(ch, exchange), closeFn, nil
}

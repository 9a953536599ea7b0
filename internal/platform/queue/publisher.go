package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type publisher struct {
	ch         channel
	routingKey string
}

// NewPublisher publishes persistent JSON messages to the default exchange.
func NewPublisher(conn *Connection) Publisher {
	return &publisher{ch: conn.Ch, routingKey: conn.Queue}
}

func (p *publisher) Publish(ctx context.Context, body []byte) error {
	return p.ch.PublishWithContext(ctx, "", p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

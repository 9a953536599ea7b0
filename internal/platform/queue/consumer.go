package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

type Consumer struct {
	conn   *Connection
	name   string
	logger zerolog.Logger
}

func NewConsumer(conn *Connection, name string, logger zerolog.Logger) *Consumer {
	return &Consumer{conn: conn, name: name, logger: logger}
}

// Consume blocks until ctx is done or the delivery channel closes.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	if err := c.conn.Ch.Qos(1, 0, false); err != nil {
		return err
	}
	deliveries, err := c.conn.Ch.Consume(c.conn.Queue, c.name, false, false, false, false, nil)
	if err != nil {
		return err
	}
	return drain(ctx, deliveries, h, c.logger)
}

// acker is the subset of amqp.Delivery used to settle a message.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func drain(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			handle(ctx, &d, d.Body, h, logger)
		}
	}
}

// handle acks on success and drops the message on failure.
func handle(ctx context.Context, d acker, body []byte, h Handler, logger zerolog.Logger) {
	if err := h(ctx, body); err != nil {
		logger.Error().Err(err).Msg("queue handler failed, dropping message")
		if nerr := d.Nack(false, false); nerr != nil {
			logger.Error().Err(nerr).Msg("nack failed")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		logger.Error().Err(err).Msg("ack failed")
	}
}

// Package queue publishes and consumes messages over AMQP.
package queue

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	URL   string
	Queue string
}

// Connection owns an AMQP connection and a channel with the work queue declared.
type Connection struct {
	Conn  *amqp.Connection
	Ch    *amqp.Channel
	Queue string
}

// Dial connects and declares a durable queue.
func Dial(cfg Config) (*Connection, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err = ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Connection{Conn: conn, Ch: ch, Queue: cfg.Queue}, nil
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}

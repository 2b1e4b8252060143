package logbus

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Client publishes to and consumes from a single durable queue on an AMQP
// broker. Connections are dialed per publish and per consume session; the
// broker is the only stateful party.
type Client struct {
	url   string
	queue string
}

// NewClient creates a Client for the given broker URL and queue name.
func NewClient(url, queue string) *Client {
	return &Client{url: url, queue: queue}
}

func (c *Client) declare(ch *amqp091.Channel) (amqp091.Queue, error) {
	return ch.QueueDeclare(c.queue, true, false, false, false, nil)
}

// Publish sends one message to the queue. Each publish dials its own
// connection, mirroring the short-lived nature of agent processes.
func (c *Client) Publish(ctx context.Context, m Message) error {
	body, err := m.Encode()
	if err != nil {
		return fmt.Errorf("logbus: encode message: %w", err)
	}

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("logbus: dial: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("logbus: open channel: %w", err)
	}
	defer ch.Close()

	if _, err = c.declare(ch); err != nil {
		return fmt.Errorf("logbus: declare queue: %w", err)
	}

	err = ch.PublishWithContext(ctx, "", c.queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("logbus: publish: %w", err)
	}
	return nil
}

// Session is one live consume stream. Deliveries arrive in queue order;
// unsettled deliveries are redelivered by the broker after the session dies.
type Session struct {
	conn       *amqp091.Connection
	ch         *amqp091.Channel
	deliveries <-chan amqp091.Delivery
}

// Consume opens a consume session with the given prefetch. The group names
// the consumer on the broker so operators can tell writers apart; prefetch
// bounds the in-flight batch, messages within it are still handed out one at
// a time.
func (c *Client) Consume(ctx context.Context, group string, prefetch int) (*Session, error) {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("logbus: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logbus: open channel: %w", err)
	}

	if _, err = c.declare(ch); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logbus: declare queue: %w", err)
	}

	if err = ch.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logbus: set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, group, false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("logbus: consume: %w", err)
	}

	return &Session{conn: conn, ch: ch, deliveries: deliveries}, nil
}

// Deliveries returns the stream of incoming deliveries. The channel closes
// when the session's connection drops.
func (s *Session) Deliveries() <-chan Delivery {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range s.deliveries {
			out <- &amqpDelivery{d: d}
		}
	}()
	return out
}

// Close tears the session down.
func (s *Session) Close() error {
	_ = s.ch.Close()
	return s.conn.Close()
}

var errSessionClosed = errors.New("logbus: session closed")

type amqpDelivery struct {
	d amqp091.Delivery
}

func (a *amqpDelivery) Body() []byte { return a.d.Body }

func (a *amqpDelivery) Ack() error { return a.d.Ack(false) }

func (a *amqpDelivery) Nack(requeue bool) error { return a.d.Nack(false, requeue) }

// Extend is a no-op for AMQP: consumer liveness rides on the connection
// heartbeat, so there is no per-message lease to renew.
func (a *amqpDelivery) Extend(ctx context.Context) error {
	if a.d.Acknowledger == nil {
		return errSessionClosed
	}
	return nil
}

// RetryWait returns the backoff before the given reconnect attempt, growing
// exponentially with jitter and capped near half a minute.
func RetryWait(retry int) time.Duration {
	n := min(retry, 12)
	d := time.Second / 2
	for i := 0; i < n; i++ {
		d = d / 2 * 3
	}
	jitter := time.Duration(rand.Int64N(int64(d))) - d/2
	return d + jitter
}

// Package logbus carries build log events from agents to the log store
// writer over a durable message queue.
package logbus

import (
	"context"
	"encoding/json"
)

// Message is the wire shape of one log event. PROJECT_ID keys the deployment
// the log line belongs to; EventID is assigned by the producer so consumer
// retries can deduplicate.
type Message struct {
	ProjectID string `json:"PROJECT_ID"`
	Log       string `json:"log"`
	EventID   string `json:"event_id,omitempty"`
}

// Encode marshals a message for publication.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals a message body.
func Decode(body []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(body, &m)
	return m, err
}

// Publisher sends log events to the bus.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Delivery is one message handed to a consumer. The consumer must settle
// every delivery exactly once: Ack after durable persistence, Nack otherwise.
// Extend renews the consumer's lease on its group so slow persistence does
// not get it evicted; transports whose liveness is connection-scoped may
// implement it as a no-op.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
	Extend(ctx context.Context) error
}

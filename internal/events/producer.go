// Package events publishes ticket lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Event names.
const (
	TicketCreated      = "ticket.created"
	TicketStateChanged = "ticket.state_changed"
	ArticleCreated     = "article.created"
	ArticlePublished   = "article.published"
)

// TicketEventProducer sends ticket events. Implementations are best-effort
// and must not block ticket processing on delivery failures.
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{})
}

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes ticket events to a Kafka topic.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a producer. With no brokers or topic every method is
// a no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// ProduceTicketEvent writes {"event": event, ...payload}. Messages are keyed
// by ticket_id so events of one ticket stay ordered within a partition.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg := map[string]interface{}{"event": event}
	for k, v := range payload {
		msg[k] = v
	}
	body, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("events: marshal ticket event")
		return
	}
	key, _ := json.Marshal(payload["ticket_id"])
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: body}); err != nil {
		log.Warn().Err(err).Str("event", event).Str("topic", p.topic).Msg("events: write ticket event")
	}
}

// Close closes the underlying writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Noop discards every event.
type Noop struct{}

// ProduceTicketEvent implements TicketEventProducer.
func (Noop) ProduceTicketEvent(context.Context, string, map[string]interface{}) {}

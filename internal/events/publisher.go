// Package events publishes request lifecycle notifications to a topic
// exchange so downstream consumers (site publisher, merge retry tooling) can
// react without polling the queue API.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Routing keys for request lifecycle events.
const (
	KeyRequestAssigned  = "request.assigned"
	KeyRequestStarted   = "request.started"
	KeyRequestCompleted = "request.completed"
	KeyRequestRejected  = "request.rejected"
	KeyRequestCancelled = "request.cancelled"
	KeyRequestFailed    = "request.failed"
	KeyMergeFailed      = "request.merge_failed"
)

// Envelope wraps every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Meta identifies one event instance.
type Meta struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     string    `json:"source"`
}

// Publisher emits envelopes to RabbitMQ. A nil *Publisher is a valid no-op,
// so callers never branch on whether eventing is configured.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   zerolog.Logger
}

// NewPublisher connects and declares the topic exchange.
func NewPublisher(url, exchange string, logger zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, exchange: exchange, logger: logger}, nil
}

// Publish emits one event. Failures are logged, never propagated: request
// handling must not depend on broker availability.
func (p *Publisher) Publish(ctx context.Context, key string, data any) {
	if p == nil {
		return
	}
	env := Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			OccurredAt: time.Now().UTC(),
			Source:     "fulfillment-api",
		},
		Data: data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		p.logger.Error().Err(err).Str("key", key).Msg("event marshal failed")
		return
	}

	ch, err := p.conn.Channel()
	if err != nil {
		p.logger.Error().Err(err).Str("key", key).Msg("event channel failed")
		return
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.OccurredAt,
		Body:         body,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("key", key).Msg("event publish failed")
		return
	}
	p.logger.Debug().Str("key", key).Str("exchange", p.exchange).Msg("event published")
}

// Close shuts the connection down.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Package amqp publishes announcements to a RabbitMQ exchange.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config describes the exchange announcements are sent to.
type Config struct {
	URL          string
	Exchange     string
	ExchangeType string
	RoutingKey   string
}

// Publisher sends persistent JSON messages to one exchange.
type Publisher struct {
	cfg     Config
	conn    *amqp.Connection
	channel Channel
	now     func() time.Time
}

// Dial connects to the broker and declares a durable exchange.
func Dial(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = amqp.ExchangeFanout
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
		}
	}
	p := NewWithChannel(cfg, ch)
	p.conn = conn
	return p, nil
}

// NewWithChannel wraps an already open channel.
func NewWithChannel(cfg Config, ch Channel) *Publisher {
	return &Publisher{cfg: cfg, channel: ch, now: time.Now}
}

// Publish sends payload as JSON. topic overrides the configured routing key.
// The returned id is the message id attached to the publishing.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	key := p.cfg.RoutingKey
	if topic != "" {
		key = topic
	}
	ts := p.now()
	id := fmt.Sprintf("egpwatch-%d", ts.UnixNano())
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    ts,
		Body:         body,
	}
	if err := p.channel.PublishWithContext(ctx, p.cfg.Exchange, key, false, false, msg); err != nil {
		return "", fmt.Errorf("publish to exchange %q: %w", p.cfg.Exchange, err)
	}
	return id, nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = fmt.Errorf("close channel: %w", err)
		}
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection: %w", err)
		}
	}
	return firstErr
}

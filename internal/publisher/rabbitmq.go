// Package publisher relays broadcast events to RabbitMQ so consumers outside the process see the
// same story updates as WebSocket subscribers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeKind = "topic"

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	now        func() time.Time
	logger     *slog.Logger
}

// Config names the topic exchange and the base routing key. Events are routed under
// "<RoutingKey>.<event>". QueueName, when set, is declared and bound to every event.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger = logger.With("component", "rabbitmq")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		now:        time.Now,
		logger:     logger,
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	if cfg.QueueName == "" {
		return nil
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}
	if err := ch.QueueBind(q.Name, BindingKey(cfg.RoutingKey, ""), cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return nil
}

// BindingKey returns the pattern matching event, or every event when event is empty.
func BindingKey(base, event string) string {
	if event == "" {
		return base + ".#"
	}
	return base + "." + event
}

// UpdateMessage is the body of every relayed broadcast event.
type UpdateMessage struct {
	Event     string    `json:"event"`
	Rooms     []string  `json:"rooms"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Relay publishes event once, keyed by its name. The target rooms travel in the body and in the
// "rooms" header so consumers can filter without decoding.
func (r *RabbitMQ) Relay(ctx context.Context, event string, rooms []string, data any) error {
	msg := UpdateMessage{Event: event, Rooms: rooms, Data: data}
	if err := r.publish(ctx, BindingKey(r.routingKey, event), msg); err != nil {
		return fmt.Errorf("relay %s: %w", event, err)
	}

	r.logger.Debug("relayed event", "event", event, "rooms", rooms)
	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, key string, msg UpdateMessage) error {
	now := r.now().UTC()
	msg.Timestamp = now

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(ctx, r.exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         msg.Event,
		Headers:      amqp.Table{"rooms": strings.Join(msg.Rooms, ",")},
		Body:         body,
		Timestamp:    now,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

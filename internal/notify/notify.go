// Package notify publishes committed-transaction events to RabbitMQ. The
// publisher is best-effort: the orchestrator fires it after commit on a
// detached context and swallows failures, so there are no publisher confirms
// and no redelivery.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/mysverse/worker-bank/internal/bank"
	"github.com/mysverse/worker-bank/pkg/commons"
	"github.com/mysverse/worker-bank/pkg/commons/log"
	"github.com/mysverse/worker-bank/pkg/commons/opentelemetry"
	"github.com/mysverse/worker-bank/pkg/commons/rabbitmq"
)

const (
	// DefaultExchange receives the committed-transaction events.
	DefaultExchange = "bank.transactions"
	// DefaultRoutingKey is the key events are published under.
	DefaultRoutingKey = "transaction.committed"
)

// ErrConnectionRequired indicates the publisher was built without a
// rabbitmq connection.
var ErrConnectionRequired = errors.New("rabbitmq connection is required")

// Config holds the publisher topology settings.
type Config struct {
	Exchange   string
	RoutingKey string
}

// event is the wire payload for one committed transaction.
type event struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	BankName        string          `json:"bankName"`
	TransactionType string          `json:"transactionType"`
	Amount          decimal.Decimal `json:"amount"`
	Before          decimal.Decimal `json:"before"`
	After           decimal.Decimal `json:"after"`
	DiscordID       *string         `json:"discordId,omitempty"`
	CommittedAt     time.Time       `json:"committedAt"`
}

// Publisher emits transaction events on a topic exchange. It implements
// bank.Notifier.
type Publisher struct {
	connection *rabbitmq.RabbitMQConnection
	config     Config

	mu       sync.Mutex
	declared bool

	declareFn func(channel *amqp.Channel, exchange string) error
	publishFn func(ctx context.Context, channel *amqp.Channel, exchange, key string, msg amqp.Publishing) error
}

var _ bank.Notifier = (*Publisher)(nil)

// New builds a publisher on the given connection. Zero config fields fall
// back to the default exchange and routing key.
func New(connection *rabbitmq.RabbitMQConnection, config Config) (*Publisher, error) {
	if connection == nil {
		return nil, ErrConnectionRequired
	}

	if config.Exchange == "" {
		config.Exchange = DefaultExchange
	}

	if config.RoutingKey == "" {
		config.RoutingKey = DefaultRoutingKey
	}

	return &Publisher{
		connection: connection,
		config:     config,
		declareFn: func(channel *amqp.Channel, exchange string) error {
			return channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil)
		},
		publishFn: func(ctx context.Context, channel *amqp.Channel, exchange, key string, msg amqp.Publishing) error {
			return channel.PublishWithContext(ctx, exchange, key, false, false, msg)
		},
	}, nil
}

// Publish encodes the notification as a JSON event and sends it with a
// fresh uuidv7 event id. One attempt, no confirms.
func (p *Publisher) Publish(ctx context.Context, notification bank.Notification) error {
	logger, tracer, _, _ := commons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "rabbitmq.publish_transaction")
	defer span.End()

	channel, err := p.connection.GetChannel(ctx)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "get channel", err)

		return fmt.Errorf("get channel: %w", err)
	}

	if err := p.ensureExchange(channel); err != nil {
		opentelemetry.HandleSpanError(&span, "declare exchange", err)

		return fmt.Errorf("declare exchange: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		opentelemetry.HandleSpanError(&span, "generate event id", err)

		return fmt.Errorf("generate event id: %w", err)
	}

	payload, err := json.Marshal(event{
		ID:              id.String(),
		UserID:          notification.UserID,
		BankName:        notification.Bank,
		TransactionType: string(notification.Type),
		Amount:          notification.Amount,
		Before:          notification.Before,
		After:           notification.After,
		DiscordID:       notification.DiscordID,
		CommittedAt:     notification.CommittedAt,
	})
	if err != nil {
		opentelemetry.HandleSpanError(&span, "encode event", err)

		return fmt.Errorf("encode event: %w", err)
	}

	message := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id.String(),
		Timestamp:    notification.CommittedAt,
		Body:         payload,
	}

	if err := p.publishFn(ctx, channel, p.config.Exchange, p.config.RoutingKey, message); err != nil {
		opentelemetry.HandleSpanError(&span, "publish event", err)

		return fmt.Errorf("publish event: %w", err)
	}

	logger.Log(ctx, log.LevelDebug, "transaction event published",
		log.String("event_id", id.String()),
		log.String("routing_key", p.config.RoutingKey),
	)

	return nil
}

// ensureExchange declares the exchange before the first event goes out. A
// failed declaration is retried on the next publish instead of latching.
func (p *Publisher) ensureExchange(channel *amqp.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.declared {
		return nil
	}

	if err := p.declareFn(channel, p.config.Exchange); err != nil {
		return err
	}

	p.declared = true

	return nil
}

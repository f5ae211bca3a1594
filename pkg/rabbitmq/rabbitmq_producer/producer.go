package rabbitmq_producer

import (
	"context"
	"fmt"
	"sync"

	"queue-listener-service/pkg/rabbitmq/rabbitmq_common"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PublisherConfig конфигурация для производителя
type PublisherConfig struct {
	ExchangeName       string // Обменник по умолчанию для Publish ("" - default exchange)
	ExchangeType       string // direct, fanout, topic, headers
	DurableExchange    bool
	AutoDeleteExchange bool
	ExchangeArgs       amqp.Table

	// Если false, производитель полагается на то, что обменник уже существует
	DeclareExchangeIfMissing bool

	Logger rabbitmq_common.Logger
}

// Validate проверяет согласованность полей объявления обменника
func (c PublisherConfig) Validate() error {
	if !c.DeclareExchangeIfMissing {
		return nil
	}
	if c.ExchangeName == "" {
		return fmt.Errorf("producer: exchange name is required when DeclareExchangeIfMissing is true")
	}
	if c.ExchangeType == "" {
		return fmt.Errorf("producer: exchange type is required when DeclareExchangeIfMissing is true")
	}
	return nil
}

// channel - подмножество *amqp.Channel, которое нужно производителю
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher публикует сообщения на канале, полученном от ConnectionManager.
// Канал amqp не потокобезопасен для публикации, поэтому она сериализуется.
type Publisher struct {
	config  PublisherConfig
	mu      sync.Mutex
	channel channel

	Logger rabbitmq_common.Logger
}

// NewPublisher открывает канал на общем соединении менеджера и, если нужно, объявляет обменник
func NewPublisher(cfg PublisherConfig, connManager *rabbitmq_common.ConnectionManager) (*Publisher, error) {
	_, ch, err := connManager.GetChannel()
	if err != nil {
		return nil, fmt.Errorf("producer: failed to get channel from manager: %w", err)
	}
	p, err := newPublisher(cfg, ch)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(cfg PublisherConfig, ch channel) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Publisher{
		config:  cfg,
		channel: ch,
		Logger:  rabbitmq_common.OrNoop(cfg.Logger),
	}

	if cfg.DeclareExchangeIfMissing {
		p.Logger.Debug("Declaring exchange", "name", cfg.ExchangeName, "type", cfg.ExchangeType)
		err := ch.ExchangeDeclare(
			cfg.ExchangeName,
			cfg.ExchangeType,
			cfg.DurableExchange,
			cfg.AutoDeleteExchange,
			false, // internal
			false, // no-wait
			cfg.ExchangeArgs,
		)
		if err != nil {
			return nil, fmt.Errorf("producer: failed to declare exchange '%s': %w", cfg.ExchangeName, err)
		}
	}

	p.Logger.Debug("Producer channel ready", "exchange", cfg.ExchangeName)
	return p, nil
}

// Publish публикует сообщение в обменник из конфигурации
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	return p.PublishTo(ctx, p.config.ExchangeName, routingKey, msg)
}

// PublishTo публикует сообщение в указанный обменник
func (p *Publisher) PublishTo(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		return fmt.Errorf("producer: not connected or channel is closed")
	}

	err := p.channel.PublishWithContext(ctx, exchange, routingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("producer: failed to publish message to '%s': %w", exchange, err)
	}
	p.Logger.Debug("Message published", "exchange", exchange, "routing_key", routingKey)
	return nil
}

// Close закрывает канал производителя. Соединение принадлежит ConnectionManager.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return nil
	}
	err := p.channel.Close()
	p.channel = nil
	if err != nil {
		p.Logger.Error(err, "Error closing channel")
		return err
	}
	p.Logger.Info("Producer closed.")
	return nil
}

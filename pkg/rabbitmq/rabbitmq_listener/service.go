package rabbitmq_listener

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AckMode - режим подтверждения сообщений
type AckMode string

const (
	// AckAuto - брокер считает сообщение обработанным сразу после доставки
	AckAuto AckMode = "auto"
	// AckClient - сообщение подтверждается после обработки
	AckClient AckMode = "client"
)

// autoAck переводит режим в флаг auto-ack для Consume. Сравнение точное:
// "AUTO" или "Client" - неподдерживаемые режимы.
func (m AckMode) autoAck() (bool, error) {
	switch m {
	case AckAuto:
		return true, nil
	case AckClient:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedAckMode, string(m))
	}
}

// DispatchMode определяет, сколько обработчиков одного сервиса может работать одновременно
type DispatchMode int

const (
	// DispatchConcurrent - каждое сообщение обрабатывается в своей горутине
	DispatchConcurrent DispatchMode = iota
	// DispatchSequential - следующее сообщение берется только после завершения обработчика
	DispatchSequential
)

func (m DispatchMode) String() string {
	switch m {
	case DispatchConcurrent:
		return "concurrent"
	case DispatchSequential:
		return "sequential"
	}
	return fmt.Sprintf("Unknown%d", int(m))
}

// MessageHandler обрабатывает одно сообщение.
// В режиме AckClient обработчик может сам вызвать Ack/Nack/Reject;
// если он этого не сделал, слушатель подтвердит сообщение по результату.
type MessageHandler func(ctx context.Context, msg *Message) error

// QueueBinding - привязка очереди сервиса к обменнику
type QueueBinding struct {
	Exchange   string
	RoutingKey string
	// ExchangeKind - если не пустой, обменник объявляется перед привязкой
	ExchangeKind string
	Durable      bool
}

// RetryPolicy описывает изолированный цикл ретраев через wait-очередь с TTL
// и финальный DLX для сообщений, исчерпавших попытки
type RetryPolicy struct {
	Exchange   string        // fanout-обменник для ретраев
	WaitQueue  string        // очередь ожидания с TTL
	TTL        time.Duration // сколько сообщение ждет перед повтором
	MaxRetries int           // количество повторов помимо первой попытки

	FinalExchange   string
	FinalQueue      string
	FinalRoutingKey string
}

func (p *RetryPolicy) validate() error {
	if p.Exchange == "" || p.WaitQueue == "" {
		return fmt.Errorf("retry exchange and wait queue are required")
	}
	if p.FinalExchange == "" || p.FinalQueue == "" {
		return fmt.Errorf("final exchange and final queue are required")
	}
	if p.TTL <= 0 {
		return fmt.Errorf("retry TTL must be positive")
	}
	// x-message-ttl передается брокеру как int32 миллисекунд
	if p.TTL.Milliseconds() > math.MaxInt32 {
		return fmt.Errorf("retry TTL %s exceeds the maximum of %d ms", p.TTL, math.MaxInt32)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// ServiceDescriptor - типизированная конфигурация одного сервиса-потребителя.
// Заполняется при регистрации и дальше слушателем только читается.
type ServiceDescriptor struct {
	// Name - идентичность сервиса и consumer tag. Если пустой, используется QueueName.
	Name      string
	QueueName string
	AckMode   AckMode

	// nil - значение не задано
	PrefetchCount *uint64
	PrefetchSize  *uint64

	Durable    bool
	Exclusive  bool
	AutoDelete bool

	ExclusiveConsumer bool
	QueueArgs         amqp.Table
	Bindings          []QueueBinding

	Dispatch DispatchMode
	Retry    *RetryPolicy
	Handler  MessageHandler
}

// ID возвращает идентичность сервиса в реестре
func (s *ServiceDescriptor) ID() string {
	if s.Name != "" {
		return s.Name
	}
	return s.QueueName
}

func (s *ServiceDescriptor) validate() error {
	if s.QueueName == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidService)
	}
	if s.Handler == nil {
		return fmt.Errorf("%w: message handler is required for %s", ErrInvalidService, s.ID())
	}
	if s.Retry != nil {
		if err := s.Retry.validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidService, s.ID(), err)
		}
	}
	return nil
}

// queueArgs возвращает аргументы основной очереди с учетом ретраев
func (s *ServiceDescriptor) queueArgs() amqp.Table {
	if s.Retry == nil {
		return s.QueueArgs
	}
	args := amqp.Table{}
	for k, v := range s.QueueArgs {
		args[k] = v
	}
	// "мертвые" сообщения из основной очереди идут в retry-обменник
	args["x-dead-letter-exchange"] = s.Retry.Exchange
	return args
}

// Uint64 - хелпер для заполнения необязательных полей дескриптора
func Uint64(v uint64) *uint64 {
	return &v
}

// Message - доставленное сообщение вместе с операциями подтверждения
type Message struct {
	amqp.Delivery

	Service string

	autoAck bool
	settled atomic.Bool
}

func newMessage(d amqp.Delivery, service string, autoAck bool) *Message {
	return &Message{Delivery: d, Service: service, autoAck: autoAck}
}

// Ack подтверждает сообщение
func (m *Message) Ack() error {
	if err := m.settle(); err != nil {
		return err
	}
	return m.Delivery.Ack(false)
}

// Nack отклоняет сообщение; requeue=false отправляет его в DLX очереди, если он есть
func (m *Message) Nack(requeue bool) error {
	if err := m.settle(); err != nil {
		return err
	}
	return m.Delivery.Nack(false, requeue)
}

// Reject отклоняет одно сообщение
func (m *Message) Reject(requeue bool) error {
	if err := m.settle(); err != nil {
		return err
	}
	return m.Delivery.Reject(requeue)
}

// Settled сообщает, было ли сообщение уже подтверждено или отклонено
func (m *Message) Settled() bool {
	return m.autoAck || m.settled.Load()
}

func (m *Message) settle() error {
	if m.autoAck {
		return ErrAutoAckMode
	}
	if !m.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return nil
}

// DeathCount - сколько раз сообщение "умирало" в очереди queueName (по заголовку x-death)
func (m *Message) DeathCount(queueName string) int64 {
	return deathCount(m.Delivery, queueName)
}

func deathCount(d amqp.Delivery, queueName string) int64 {
	if d.Headers == nil {
		return 0
	}
	xDeath, ok := d.Headers["x-death"]
	if !ok {
		return 0
	}
	deaths, ok := xDeath.([]interface{})
	if !ok {
		return 0
	}

	// x-death - массив записей; интересует запись об основной очереди,
	// а не о wait-очереди, через которую сообщение вернулось
	for _, death := range deaths {
		tbl, ok := death.(amqp.Table)
		if !ok {
			continue
		}
		if queue, ok := tbl["queue"].(string); ok && queue == queueName {
			if count, ok := tbl["count"].(int64); ok {
				return count
			}
		}
	}
	return 0
}

// amqpTable собирает amqp.Table из пар ключ-значение
func amqpTable(keysAndValues ...interface{}) amqp.Table {
	t := make(amqp.Table, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			t[key] = keysAndValues[i+1]
		}
	}
	return t
}

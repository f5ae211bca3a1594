package rabbitmq_listener

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// abortTimeout - сколько Abort ждет ответа брокера на close, прежде чем
// просто оборвать сокет
const abortTimeout = 100 * time.Millisecond

// Channel - то, что слушателю нужно от канала брокера.
// Сигнатуры совпадают с *amqp.Channel, поэтому адаптер тривиальный.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error

	// Connection возвращает соединение, на котором открыт канал
	Connection() Connection
}

// Connection - соединение, которому принадлежит канал
type Connection interface {
	Close() error
	// Abort обрывает соединение, не возвращая ошибок
	Abort()
}

// Republisher публикует сообщение в произвольный обменник.
// Нужен для отправки в финальный DLX сообщений, исчерпавших ретраи.
type Republisher interface {
	PublishTo(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

func (c *amqpConnection) Abort() {
	_ = c.conn.CloseDeadline(time.Now().Add(abortTimeout))
}

type amqpChannel struct {
	*amqp.Channel
	conn *amqpConnection
}

func (c *amqpChannel) Connection() Connection {
	return c.conn
}

// NewAMQPChannel адаптирует канал amqp091-go и его соединение к Channel
func NewAMQPChannel(conn *amqp.Connection, ch *amqp.Channel) Channel {
	return &amqpChannel{
		Channel: ch,
		conn:    &amqpConnection{conn: conn},
	}
}

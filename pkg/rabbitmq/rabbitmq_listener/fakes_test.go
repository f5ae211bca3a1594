package rabbitmq_listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type qosCall struct {
	count  int
	size   int
	global bool
}

type consumeCall struct {
	queue    string
	consumer string
	autoAck  bool
}

// fakeChannel записывает вызовы брокера в общий журнал вместе с fakeConnection
type fakeChannel struct {
	mu sync.Mutex

	calls     []string
	qos       []qosCall
	consumes  []consumeCall
	consumers map[string]chan amqp.Delivery

	declareErr map[string]error
	qosErrs    []error // выдаются по одной на вызов Qos
	consumeErr error
	cancelErr  error
	closeErr   error

	conn *fakeConnection
}

func newFakeChannel() *fakeChannel {
	ch := &fakeChannel{
		consumers:  make(map[string]chan amqp.Delivery),
		declareErr: make(map[string]error),
	}
	ch.conn = &fakeConnection{ch: ch}
	return ch
}

func (c *fakeChannel) record(call string) {
	c.calls = append(c.calls, call)
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("queue.declare:" + name)
	if err := c.declareErr[name]; err != nil {
		return amqp.Queue{}, err
	}
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("exchange.declare:" + name + ":" + kind)
	return nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("queue.bind:" + name + "->" + exchange)
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("qos")
	if len(c.qosErrs) > 0 {
		err := c.qosErrs[0]
		c.qosErrs = c.qosErrs[1:]
		if err != nil {
			return err
		}
	}
	c.qos = append(c.qos, qosCall{count: prefetchCount, size: prefetchSize, global: global})
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("consume:" + consumer)
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	c.consumes = append(c.consumes, consumeCall{queue: queue, consumer: consumer, autoAck: autoAck})
	deliveries := make(chan amqp.Delivery, 16)
	c.consumers[consumer] = deliveries
	return deliveries, nil
}

func (c *fakeChannel) Cancel(consumer string, noWait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("cancel:" + consumer)
	if c.cancelErr != nil {
		return c.cancelErr
	}
	if deliveries, ok := c.consumers[consumer]; ok {
		close(deliveries)
		delete(c.consumers, consumer)
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("channel.close")
	if c.closeErr != nil {
		return c.closeErr
	}
	for tag, deliveries := range c.consumers {
		close(deliveries)
		delete(c.consumers, tag)
	}
	return nil
}

func (c *fakeChannel) Connection() Connection {
	return c.conn
}

// deliver отправляет сообщение подписчику consumer
func (c *fakeChannel) deliver(consumer string, d amqp.Delivery) error {
	c.mu.Lock()
	deliveries, ok := c.consumers[consumer]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no consumer %s", consumer)
	}
	deliveries <- d
	return nil
}

// closeConsumer закрывает доставку со стороны брокера, без вызова Cancel
func (c *fakeChannel) closeConsumer(consumer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deliveries, ok := c.consumers[consumer]; ok {
		close(deliveries)
		delete(c.consumers, consumer)
	}
}

func (c *fakeChannel) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeChannel) qosCalls() []qosCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]qosCall(nil), c.qos...)
}

func (c *fakeChannel) consumeCalls() []consumeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]consumeCall(nil), c.consumes...)
}

func (c *fakeChannel) countCalls(prefix string) int {
	n := 0
	for _, call := range c.callLog() {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fakeConnection struct {
	ch       *fakeChannel
	closeErr error
}

func (c *fakeConnection) Close() error {
	c.ch.mu.Lock()
	defer c.ch.mu.Unlock()
	c.ch.record("connection.close")
	return c.closeErr
}

func (c *fakeConnection) Abort() {
	c.ch.mu.Lock()
	defer c.ch.mu.Unlock()
	c.ch.record("connection.abort")
}

// fakeAcknowledger реализует amqp.Acknowledger
type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    []uint64
	nacks   []uint64
	rejects []uint64
	requeue []bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects = append(a.rejects, tag)
	return nil
}

func (a *fakeAcknowledger) counts() (acks, nacks, rejects int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acks), len(a.nacks), len(a.rejects)
}

func (a *fakeAcknowledger) requeues() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bool(nil), a.requeue...)
}

type publishCall struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeRepublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (p *fakeRepublisher) PublishTo(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{exchange: exchange, routingKey: routingKey, msg: msg})
	return p.err
}

func (p *fakeRepublisher) published() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		Body:         []byte(body),
		ContentType:  "application/json",
		Timestamp:    time.Now(),
	}
}

func noopHandler(context.Context, *Message) error { return nil }

func newService(queue string, mode AckMode, handler MessageHandler) *ServiceDescriptor {
	if handler == nil {
		handler = noopHandler
	}
	return &ServiceDescriptor{
		QueueName: queue,
		AckMode:   mode,
		Durable:   true,
		Handler:   handler,
	}
}

func initListener(opts ...Option) (*Listener, *fakeChannel) {
	ch := newFakeChannel()
	l := NewListener(opts...)
	l.Init(ch)
	return l, ch
}

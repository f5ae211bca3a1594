package rabbitmq_listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"queue-listener-service/pkg/rabbitmq/rabbitmq_common"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// dispatcher подписывается на очередь одного сервиса и передает его обработчику
// входящие сообщения. Один экземпляр на пару (сервис, канал).
type dispatcher struct {
	svc     *ServiceDescriptor
	handle  *ChannelHandle
	autoAck bool

	logger      rabbitmq_common.Logger
	observer    Observer
	republisher Republisher
	tracer      trace.Tracer
	propagator  propagation.TextMapPropagator

	wg     sync.WaitGroup // обработчики "в полете"
	done   chan struct{}  // закрывается, когда цикл чтения завершился
	cancel context.CancelFunc
}

func newDispatcher(svc *ServiceDescriptor, handle *ChannelHandle, autoAck bool, l *Listener) *dispatcher {
	return &dispatcher{
		svc:         svc,
		handle:      handle,
		autoAck:     autoAck,
		logger:      l.logger,
		observer:    l.observer,
		republisher: l.republisher,
		tracer:      l.tracer,
		propagator:  l.propagator,
		done:        make(chan struct{}),
	}
}

// receiveMessages оформляет подписку и сразу возвращается;
// сообщения читаются в отдельной горутине до отмены подписки или ctx
func (d *dispatcher) receiveMessages(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	deliveries, err := d.handle.channel.Consume(
		d.svc.QueueName,
		d.svc.ID(), // consumer tag = идентичность сервиса, по нему делается Cancel
		d.autoAck,
		d.svc.ExclusiveConsumer,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		d.cancel()
		return fmt.Errorf("failed to register a consumer on queue '%s': %w", d.svc.QueueName, err)
	}

	d.logger.Info("[*] Waiting for messages on queue",
		"queue_name", d.svc.QueueName,
		"consumer_tag", d.svc.ID(),
		"auto_ack", d.autoAck,
		"dispatch", d.svc.Dispatch.String(),
	)

	go d.loop(ctx, deliveries)
	return nil
}

func (d *dispatcher) loop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(d.done)

	for {
		// приоритетная проверка отмены, чтобы не начинать новую обработку после Stop
		select {
		case <-ctx.Done():
			d.logger.Info("Context cancelled. Exiting consumption loop.", "consumer_tag", d.svc.ID())
			return
		default:
		}

		select {
		case <-ctx.Done():
			d.logger.Info("Context cancelled. Exiting consumption loop.", "consumer_tag", d.svc.ID())
			return
		case delivery, ok := <-deliveries:
			if !ok {
				d.logger.Info("Deliveries channel closed by RabbitMQ. Exiting loop.", "consumer_tag", d.svc.ID())
				return
			}
			d.dispatch(delivery)
		}
	}
}

// dispatch запускает обработчик. Колбэк исхода закрывает completed ровно один раз;
// в последовательном режиме цикл ждет его, прежде чем взять следующее сообщение.
func (d *dispatcher) dispatch(delivery amqp.Delivery) {
	msg := newMessage(delivery, d.svc.ID(), d.autoAck)

	completed := make(chan struct{})
	var once sync.Once
	signal := func() { once.Do(func() { close(completed) }) }

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer signal()
		d.invoke(msg, signal)
	}()

	if d.svc.Dispatch == DispatchSequential {
		<-completed
	}
}

func (d *dispatcher) invoke(msg *Message, signal func()) {
	// обработчик не должен зависеть от остановки слушателя - Stop ждет его завершения
	// спан продолжает трассу издателя, если он положил trace context в заголовки
	parent := d.propagator.Extract(context.Background(), headerCarrier(msg.Headers))
	ctx, span := d.tracer.Start(parent, "rabbitmq.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", d.svc.QueueName),
			attribute.String("messaging.consumer.id", d.svc.ID()),
			attribute.Int64("messaging.rabbitmq.delivery_tag", int64(msg.DeliveryTag)),
		),
	)
	defer span.End()

	d.logger.Debug("[->] Started processing message",
		"consumer_tag", d.svc.ID(),
		"delivery_tag", msg.DeliveryTag)

	start := time.Now()
	err := d.runHandler(ctx, msg)
	elapsed := time.Since(start)

	if err == nil {
		d.onSuccess(ctx, msg, elapsed, signal)
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.onFailure(ctx, msg, err, elapsed, signal)
}

// runHandler вызывает обработчик; паника превращается в ошибку обработки
func (d *dispatcher) runHandler(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("message handler panicked: %v", r)
		}
	}()
	return d.svc.Handler(ctx, msg)
}

func (d *dispatcher) onSuccess(ctx context.Context, msg *Message, elapsed time.Duration, signal func()) {
	if !msg.Settled() {
		if err := msg.Ack(); err != nil {
			d.logger.Error(err, "Failed to ack message",
				"consumer_tag", d.svc.ID(),
				"delivery_tag", msg.DeliveryTag)
		} else {
			d.logger.Debug("[+] Message Ack'd",
				"consumer_tag", d.svc.ID(),
				"delivery_tag", msg.DeliveryTag)
		}
	}
	signal()
	d.observer.Delivered(d.svc.ID(), OutcomeSuccess, elapsed)
}

// onFailure сигнализирует о завершении, сообщает наблюдателю и логирует ошибку.
// Ошибка дальше не пробрасывается: слушатель продолжает работу.
func (d *dispatcher) onFailure(ctx context.Context, msg *Message, handlerErr error, elapsed time.Duration, signal func()) {
	d.logger.Error(handlerErr, "Handler error for message",
		"consumer_tag", d.svc.ID(),
		"delivery_tag", msg.DeliveryTag)

	if !msg.Settled() {
		d.settleFailed(ctx, msg)
	}
	signal()
	d.observer.Error(ErrorTypeDispatch)
	d.observer.Delivered(d.svc.ID(), OutcomeFailure, elapsed)
}

func (d *dispatcher) settleFailed(ctx context.Context, msg *Message) {
	retry := d.svc.Retry
	if retry == nil {
		d.logger.Info("Retry disabled. Nacking message without requeue.",
			"consumer_tag", d.svc.ID(),
			"delivery_tag", msg.DeliveryTag)
		d.nack(msg)
		return
	}

	deaths := msg.DeathCount(d.svc.QueueName)
	if deaths < int64(retry.MaxRetries) {
		// лимит не достигнут: Nack без requeue отправляет сообщение в retry-цикл
		d.logger.Info("Retrying message",
			"consumer_tag", d.svc.ID(),
			"delivery_tag", msg.DeliveryTag,
			"death_count", deaths)
		d.nack(msg)
		return
	}

	if d.republisher == nil {
		d.logger.Warn("Max retries reached but no republisher configured. Nacking message.",
			"consumer_tag", d.svc.ID(),
			"delivery_tag", msg.DeliveryTag)
		d.nack(msg)
		return
	}

	d.logger.Info("Max retries reached for message. Publishing to final DLX.",
		"consumer_tag", d.svc.ID(),
		"delivery_tag", msg.DeliveryTag,
		"final_exchange", retry.FinalExchange)

	err := d.republisher.PublishTo(ctx, retry.FinalExchange, retry.FinalRoutingKey, amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      msg.Headers,
		MessageId:    msg.MessageId,
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		d.logger.Error(err, "Failed to publish to final DLX. Nacking to trigger retry loop again.",
			"consumer_tag", d.svc.ID(),
			"delivery_tag", msg.DeliveryTag)
		d.nack(msg)
		return
	}

	if err := msg.Ack(); err != nil {
		d.logger.Error(err, "Failed to ack original message after publishing to final DLX",
			"consumer_tag", d.svc.ID(),
			"delivery_tag", msg.DeliveryTag)
	}
}

func (d *dispatcher) nack(msg *Message) {
	if err := msg.Nack(false); err != nil {
		d.logger.Error(err, "Failed to nack message",
			"consumer_tag", d.svc.ID(),
			"delivery_tag", msg.DeliveryTag)
	}
}

// stop завершает цикл чтения, не дожидаясь закрытия канала доставок
func (d *dispatcher) stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// alive - цикл чтения еще работает
func (d *dispatcher) alive() bool {
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// wait ждет завершения цикла чтения и всех обработчиков, но не дольше ctx
func (d *dispatcher) wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		<-d.done
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// headerCarrier - заголовки AMQP как носитель trace context
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

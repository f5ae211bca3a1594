package rabbitmq_listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"queue-listener-service/pkg/rabbitmq/rabbitmq_common"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "queue-listener-service/rabbitmq_listener"

// Listener управляет жизненным циклом потребителей на одном канале:
// Init -> RegisterService -> Start -> (Detach)* -> Stop/Abort.
//
// Все состояние принадлежит экземпляру, так что в одном процессе может жить
// несколько независимых слушателей. Методы жизненного цикла сериализуются
// мьютексом; доставка сообщений идет параллельно в горутинах диспетчеров.
type Listener struct {
	mu sync.Mutex

	handle      *ChannelHandle
	registry    *Registry
	running     bool
	dispatchers map[string]*dispatcher
	workers     []*dispatcher // включая отсоединенные, Stop ждет их обработчики

	ctx    context.Context
	cancel context.CancelFunc

	logger      rabbitmq_common.Logger
	observer    Observer
	republisher Republisher
	tracer      trace.Tracer
	propagator  propagation.TextMapPropagator
}

// Option настраивает Listener
type Option func(l *Listener)

// WithLogger задает логгер pkg-уровня
func WithLogger(logger rabbitmq_common.Logger) Option {
	return func(l *Listener) {
		l.logger = rabbitmq_common.OrNoop(logger)
	}
}

// WithObserver задает приемник событий (метрики)
func WithObserver(o Observer) Option {
	return func(l *Listener) {
		if o != nil {
			l.observer = safeObserver{inner: o}
		}
	}
}

// WithRepublisher задает издателя для финального DLX
func WithRepublisher(p Republisher) Option {
	return func(l *Listener) {
		l.republisher = p
	}
}

// WithTracerProvider задает провайдер трассировки; по умолчанию глобальный otel
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Listener) {
		if tp != nil {
			l.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithPropagator задает формат trace context в заголовках сообщений;
// по умолчанию глобальный propagator otel
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(l *Listener) {
		if p != nil {
			l.propagator = p
		}
	}
}

// NewListener создает неинициализированный слушатель
func NewListener(opts ...Option) *Listener {
	l := &Listener{
		logger:     rabbitmq_common.NewNoopLogger(),
		observer:   NewNoopObserver(),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Init привязывает к слушателю канал и пустой реестр
func (l *Listener) Init(ch Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}

	l.handle = newChannelHandle(ch)
	l.registry = NewRegistry()
	l.running = false
	l.dispatchers = make(map[string]*dispatcher)
	l.workers = nil
	l.ctx, l.cancel = context.WithCancel(context.Background())

	l.observer.NewConsumer()
	l.logger.Debug("Listener initialized")
}

// RegisterService объявляет очередь сервиса и добавляет его в реестр.
// nil-сервис - успешный no-op. Если слушатель уже запущен, доставка
// для сервиса начинается сразу.
func (l *Listener) RegisterService(svc *ServiceDescriptor) error {
	if svc == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		l.observer.Error(ErrorTypeRegister)
		return ErrChannelNotInitialized
	}
	if err := svc.validate(); err != nil {
		l.observer.Error(ErrorTypeRegister)
		return err
	}

	id := svc.ID()
	if l.registry.Contains(id) {
		l.logger.Debug("Service is already registered", "service", id)
		return nil
	}

	if err := l.declareQueue(svc); err != nil {
		l.observer.Error(ErrorTypeRegister)
		l.logger.Error(err, "Failed to declare queue", "service", id, "queue", svc.QueueName)
		return wrapErr(ErrQueueDeclarationFailed, err)
	}
	l.observer.NewQueue(svc.QueueName)

	l.registry.Add(svc)
	l.logger.Info("Service registered", "service", id, "queue", svc.QueueName)

	if l.running {
		return l.startService(svc)
	}
	return nil
}

// declareQueue объявляет очередь ("объявить, если нет"), привязки и инфраструктуру ретраев
func (l *Listener) declareQueue(svc *ServiceDescriptor) error {
	ch := l.handle.channel

	l.logger.Debug("Declaring queue",
		"name", svc.QueueName,
		"durable", svc.Durable,
		"exclusive", svc.Exclusive,
		"autoDelete", svc.AutoDelete,
	)
	_, err := ch.QueueDeclare(
		svc.QueueName,
		svc.Durable,
		svc.AutoDelete,
		svc.Exclusive,
		false, // no-wait
		svc.queueArgs(),
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", svc.QueueName, err)
	}

	for _, b := range svc.Bindings {
		if b.ExchangeKind != "" {
			l.logger.Debug("Declaring exchange", "name", b.Exchange, "type", b.ExchangeKind, "durable", b.Durable)
			if err := ch.ExchangeDeclare(b.Exchange, b.ExchangeKind, b.Durable, false, false, false, nil); err != nil {
				return fmt.Errorf("failed to declare exchange '%s' for binding: %w", b.Exchange, err)
			}
		}
		l.logger.Debug("Binding queue to exchange",
			"queue_name", svc.QueueName,
			"exchange_name", b.Exchange,
			"routing_key", b.RoutingKey,
		)
		if err := ch.QueueBind(svc.QueueName, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue '%s' to exchange '%s': %w", svc.QueueName, b.Exchange, err)
		}
	}

	if svc.Retry != nil {
		return l.declareRetryTopology(svc)
	}
	return nil
}

func (l *Listener) declareRetryTopology(svc *ServiceDescriptor) error {
	ch := l.handle.channel
	r := svc.Retry

	l.logger.Debug("Setting up isolated retry mechanism...", "queue", svc.QueueName)

	// финальный DLX и DLQ - сюда попадают сообщения после всех ретраев
	if err := ch.ExchangeDeclare(r.FinalExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare final DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(r.FinalQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare final DLQ: %w", err)
	}
	if err := ch.QueueBind(r.FinalQueue, r.FinalRoutingKey, r.FinalExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind final DLQ: %w", err)
	}

	if err := ch.ExchangeDeclare(r.Exchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare retry exchange: %w", err)
	}

	// wait-очередь с TTL возвращает сообщения в основную очередь через обменник по умолчанию
	_, err := ch.QueueDeclare(r.WaitQueue, true, false, false, false, amqpTable(
		"x-message-ttl", int32(r.TTL.Milliseconds()),
		"x-dead-letter-exchange", "",
		"x-dead-letter-routing-key", svc.QueueName,
	))
	if err != nil {
		return fmt.Errorf("failed to declare retry-wait queue: %w", err)
	}
	if err := ch.QueueBind(r.WaitQueue, "", r.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind retry-wait queue: %w", err)
	}
	return nil
}

// Start запускает доставку для всех еще не запущенных сервисов.
// Ошибка одного сервиса не мешает остальным; возвращается первая ошибка.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		l.observer.Error(ErrorTypeStart)
		return ErrChannelNotInitialized
	}
	if l.registry.Len() == 0 {
		return nil
	}

	var firstErr error
	for _, svc := range l.registry.Pending() {
		if err := l.startService(svc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.running = true
	l.logger.Info("Listener started", "services", l.registry.Len(), "started", l.registry.StartedCount())

	return firstErr
}

// startService: режим подтверждения -> QoS (один раз на канал) -> подписка
func (l *Listener) startService(svc *ServiceDescriptor) error {
	id := svc.ID()

	autoAck, err := svc.AckMode.autoAck()
	if err != nil {
		l.observer.Error(ErrorTypeStart)
		l.logger.Error(err, "Cannot start service", "service", id)
		return err
	}

	if !l.handle.QosApplied() {
		l.logger.Debug("Setting QoS",
			"service", id,
			"prefetch_count", svc.PrefetchCount,
			"prefetch_size", svc.PrefetchSize,
			"global", false,
		)
		if err := applyQos(l.handle, svc.PrefetchCount, svc.PrefetchSize, false); err != nil {
			l.observer.Error(ErrorTypeStart)
			l.logger.Error(err, "Failed to set QoS", "service", id)
			return err
		}
	}

	// помечаем до подписки: ни одно сообщение не придет раньше отметки
	l.registry.MarkStarted(id)

	d := newDispatcher(svc, l.handle, autoAck, l)
	if err := d.receiveMessages(l.ctx); err != nil {
		l.registry.unmarkStarted(id)
		l.observer.Error(ErrorTypeStart)
		l.logger.Error(err, "Failed to subscribe", "service", id)
		return wrapErr(ErrSubscriptionFailed, err)
	}
	l.dispatchers[id] = d
	l.workers = append(l.workers, d)

	l.observer.Subscription(id, svc.QueueName)
	return nil
}

// Detach отменяет подписку сервиса и удаляет его из реестра.
// Сообщения, уже переданные обработчику, дообрабатываются.
func (l *Listener) Detach(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		l.observer.Error(ErrorTypeDetach)
		return ErrChannelNotInitialized
	}

	svc, ok := l.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotRegistered, name)
	}

	_, span := l.tracer.Start(context.Background(), "rabbitmq.detach",
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", svc.QueueName),
			attribute.String("messaging.consumer.id", name),
		),
	)
	defer span.End()

	if l.registry.IsStarted(name) {
		if err := l.handle.channel.Cancel(name, false); err != nil {
			l.observer.Error(ErrorTypeDetach)
			l.logger.Error(err, "Failed to cancel subscription", "service", name)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return wrapErr(ErrSubscriptionCancelFailed, err)
		}
	}

	l.registry.Remove(name)
	delete(l.dispatchers, name)

	l.observer.Unsubscription(name, svc.QueueName)
	l.logger.Info("Consumer service unsubscribed from the queue", "service", name, "queue", svc.QueueName)
	return nil
}

// Stop отменяет подписки, дочитывает уже доставленные брокером сообщения и
// дожидается обработчиков (в пределах ctx), затем закрывает сначала канал,
// потом соединение. Ошибка закрытия возвращается как есть, слушатель при этом
// остается инициализированным, чтобы можно было вызвать Abort.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		l.observer.Error(ErrorTypeStop)
		return ErrChannelNotInitialized
	}

	l.running = false
	l.cancelSubscriptions()
	if err := l.waitWorkers(ctx); err != nil {
		l.logger.Warn("Not all message handlers finished before shutdown", "error", err.Error())
	}
	// циклы, не успевшие дочитать до ctx, останавливаются принудительно
	l.cancel()

	l.reportClose()

	ch := l.handle.channel
	conn := ch.Connection()
	if err := ch.Close(); err != nil {
		l.logger.Error(err, "Error closing channel")
		return wrapErr(ErrConnectionCloseFailed, err)
	}
	if err := conn.Close(); err != nil {
		l.logger.Error(err, "Error closing connection")
		return wrapErr(ErrConnectionCloseFailed, err)
	}

	l.deinit()
	l.logger.Info("Listener stopped")
	return nil
}

// Abort принудительно обрывает соединение, не дожидаясь обработчиков
func (l *Listener) Abort() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		l.observer.Error(ErrorTypeAbort)
		return ErrChannelNotInitialized
	}

	l.cancel()
	l.reportClose()
	l.handle.Connection().Abort()

	l.deinit()
	l.logger.Warn("Listener connection aborted")
	return nil
}

// cancelSubscriptions отменяет подписки запущенных сервисов. После Cancel брокер
// больше не присылает сообщений, а цикл чтения выходит, дочитав буфер.
func (l *Listener) cancelSubscriptions() {
	for _, svc := range l.registry.Services() {
		id := svc.ID()
		if !l.registry.IsStarted(id) {
			continue
		}
		if err := l.handle.channel.Cancel(id, false); err != nil {
			l.observer.Error(ErrorTypeStop)
			l.logger.Error(err, "Failed to cancel subscription on stop", "service", id)
			if d, ok := l.dispatchers[id]; ok {
				d.stop()
			}
		}
	}
}

func (l *Listener) reportClose() {
	l.observer.BulkUnsubscription(l.registry.StartedCount())
	l.observer.ConsumerClose()
	l.observer.ChannelClose()
	l.observer.ConnectionClose()
}

func (l *Listener) waitWorkers(ctx context.Context) error {
	var errs []error
	for _, d := range l.workers {
		if err := d.wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.svc.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (l *Listener) deinit() {
	l.handle = nil
	l.registry = NewRegistry()
	l.dispatchers = make(map[string]*dispatcher)
	l.workers = nil
	l.running = false
}

// SetQosSettings явно задает QoS на весь канал (global=true).
// Применяется только при неотрицательном prefetchCount; prefetchSize необязателен.
func (l *Listener) SetQosSettings(prefetchCount, prefetchSize *int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		l.observer.Error(ErrorTypeSetQos)
		return ErrChannelNotInitialized
	}
	if prefetchCount == nil || *prefetchCount < 0 {
		l.logger.Debug("Skipping QoS override: prefetch count is not set")
		return nil
	}

	count := uint64(*prefetchCount)
	var size *uint64
	if prefetchSize != nil && *prefetchSize >= 0 {
		size = Uint64(uint64(*prefetchSize))
	}

	if err := applyQos(l.handle, &count, size, true); err != nil {
		l.observer.Error(ErrorTypeSetQos)
		l.logger.Error(err, "An I/O error occurred while setting the global quality of service settings for the listener")
		return wrapErr(ErrQosIO, err)
	}
	l.logger.Info("Global QoS applied", "prefetch_count", count, "prefetch_size", size)
	return nil
}

// Channel возвращает канал слушателя
func (l *Listener) Channel() (Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle == nil {
		l.observer.Error(ErrorTypeGetChannel)
		return nil, ErrChannelNotInitialized
	}
	return l.handle.channel, nil
}

// IsRunning сообщает, был ли выполнен Start
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Healthy - слушатель запущен, есть хотя бы одна подписка и ни один цикл чтения
// не завершился (например, из-за отмены подписки или закрытия канала брокером)
func (l *Listener) Healthy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running || len(l.dispatchers) == 0 {
		return false
	}
	for _, d := range l.dispatchers {
		if !d.alive() {
			return false
		}
	}
	return true
}

// ServiceStatus - снимок состояния одного сервиса
type ServiceStatus struct {
	Name     string `json:"name"`
	Queue    string `json:"queue"`
	AckMode  string `json:"ack_mode"`
	Dispatch string `json:"dispatch"`
	Started  bool   `json:"started"`
	// Consuming - цикл чтения сервиса жив
	Consuming bool `json:"consuming"`
}

// Services возвращает состояние зарегистрированных сервисов
func (l *Listener) Services() []ServiceStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.registry == nil {
		return nil
	}
	services := l.registry.Services()
	statuses := make([]ServiceStatus, 0, len(services))
	for _, svc := range services {
		d, ok := l.dispatchers[svc.ID()]
		statuses = append(statuses, ServiceStatus{
			Name:      svc.ID(),
			Queue:     svc.QueueName,
			AckMode:   string(svc.AckMode),
			Dispatch:  svc.Dispatch.String(),
			Started:   l.registry.IsStarted(svc.ID()),
			Consuming: ok && d.alive(),
		})
	}
	return statuses
}

package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"queue-listener-service/internal/constants"
	"queue-listener-service/internal/contextkeys"
	"queue-listener-service/internal/core/domain"
	"queue-listener-service/internal/core/port"
	"queue-listener-service/internal/core/port/usecases_port"
	"queue-listener-service/pkg/rabbitmq/rabbitmq_listener"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent - сообщение не прошло проверку схемы или не разбирается.
// Такие сообщения не ретраятся.
var ErrInvalidEvent = errors.New("invalid event")

// EventValidator проверяет тело сообщения по схеме
type EventValidator interface {
	ValidateEvent(eventType, eventVersion string, body []byte) error
}

// EventConsumerAdapter - входящий адаптер: обработчик сообщений одного сервиса слушателя,
// который проверяет событие по схеме и вызывает use case записи в журнал
type EventConsumerAdapter struct {
	descriptor rabbitmq_listener.ServiceDescriptor
	eventType  string // схема по умолчанию, если в заголовках ее нет
	useCase    usecases_port.RecordEventPort
	validator  EventValidator
	logger     port.LoggerPort
}

// NewEventConsumerAdapter создает адаптер для сервиса svc.
// eventType - имя схемы ("OrderEvent"), используемое без заголовка event-type.
func NewEventConsumerAdapter(
	svc rabbitmq_listener.ServiceDescriptor,
	eventType string,
	useCase usecases_port.RecordEventPort,
	validator EventValidator,
	logger port.LoggerPort,
) *EventConsumerAdapter {
	a := &EventConsumerAdapter{
		eventType: eventType,
		useCase:   useCase,
		validator: validator,
		logger: logger.WithFields(port.Fields{
			"adapter_name": "EventConsumerAdapter",
			"service":      svc.ID(),
		}),
	}
	svc.Handler = a.Handle
	a.descriptor = svc
	return a
}

// Descriptor возвращает дескриптор для регистрации в слушателе
func (a *EventConsumerAdapter) Descriptor() *rabbitmq_listener.ServiceDescriptor {
	svc := a.descriptor
	return &svc
}

// Handle обрабатывает одно сообщение
func (a *EventConsumerAdapter) Handle(ctx context.Context, msg *rabbitmq_listener.Message) error {
	// заголовок, затем спан диспетчера, затем новый id
	traceID, _ := msg.Headers[constants.HeaderTraceID].(string)
	if traceID == "" {
		traceID = contextkeys.TraceIDFromContext(ctx)
	}
	if traceID == "" {
		traceID = uuid.New().String()
	}

	msgLogger := a.logger.WithFields(port.Fields{
		"trace_id":     traceID,
		"message_id":   msg.MessageId,
		"delivery_tag": msg.DeliveryTag,
		"redelivered":  msg.Redelivered,
	})
	ctx = contextkeys.ContextWithLogger(ctx, msgLogger)
	ctx = contextkeys.ContextWithTraceID(ctx, traceID)

	msgLogger.Debug("Received message", nil)

	event, err := a.decode(msg)
	if err != nil {
		msgLogger.Error("Message failed validation. Dropping without retry.", err, nil)
		// повтор не поможет: подтверждаем, чтобы сообщение не ушло в цикл ретраев
		if !msg.Settled() {
			if ackErr := msg.Ack(); ackErr != nil {
				msgLogger.Error("Failed to ack invalid message", ackErr, nil)
			}
		}
		return err
	}

	if err := a.useCase.Execute(ctx, event); err != nil {
		msgLogger.Error("Failed to record event", err, port.Fields{"event_id": event.ID.String()})
		return err
	}
	return nil
}

func (a *EventConsumerAdapter) decode(msg *rabbitmq_listener.Message) (domain.Event, error) {
	eventType, _ := msg.Headers[constants.HeaderEventType].(string)
	if eventType == "" {
		eventType = a.eventType
	}
	eventVersion, _ := msg.Headers[constants.HeaderEventVersion].(string)
	if eventVersion == "" {
		eventVersion = "1.0.0"
	}

	if err := a.validator.ValidateEvent(eventType, eventVersion, msg.Body); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	var dto IncomingEventDTO
	if err := json.Unmarshal(msg.Body, &dto); err != nil {
		return domain.Event{}, fmt.Errorf("%w: failed to unmarshal event: %w", ErrInvalidEvent, err)
	}

	return domain.Event{
		ID:         dto.ID,
		Type:       dto.Type,
		Source:     dto.Source,
		OccurredAt: dto.OccurredAt,
		Payload:    dto.Payload,
		Queue:      a.descriptor.QueueName,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

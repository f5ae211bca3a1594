package rabbitmq_listener

import (
	"errors"
	"fmt"
)

// Ошибки жизненного цикла слушателя. Проверяются через errors.Is:
//
//	if errors.Is(err, rabbitmq_listener.ErrQueueDeclarationFailed) {
//	    ...
//
// Исходная ошибка брокера тоже остается доступной через errors.Is/errors.As.
var (
	ErrQueueDeclarationFailed   = errors.New("queue declaration failed")
	ErrUnsupportedAckMode       = errors.New("unsupported acknowledgement mode")
	ErrQosApplicationFailed     = errors.New("error occurred while setting the QoS settings")
	ErrQosIO                    = errors.New("I/O error while setting QoS")
	ErrPrefetchOverflow         = errors.New("prefetch value out of range")
	ErrSubscriptionFailed       = errors.New("failed to subscribe to the queue")
	ErrSubscriptionCancelFailed = errors.New("error occurred while detaching the service")
	ErrChannelNotInitialized    = errors.New("listener is not properly initialized")
	ErrConnectionCloseFailed    = errors.New("error occurred while closing the channel")
	ErrServiceNotRegistered     = errors.New("service is not registered")
	ErrInvalidService           = errors.New("invalid service descriptor")

	// ошибки ручного подтверждения сообщений
	ErrAutoAckMode    = errors.New("message was delivered in auto acknowledgement mode")
	ErrAlreadySettled = errors.New("message is already settled")
)

// wrapErr связывает вид ошибки с ее причиной, сохраняя обе для errors.Is
func wrapErr(kind error, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

package rabbitmq_listener

import "time"

// Типы ошибок, о которых слушатель сообщает наблюдателю
const (
	ErrorTypeRegister   = "register"
	ErrorTypeStart      = "start"
	ErrorTypeDetach     = "detach"
	ErrorTypeSetQos     = "set_qos"
	ErrorTypeStop       = "stop"
	ErrorTypeAbort      = "abort"
	ErrorTypeGetChannel = "get_channel"
	ErrorTypeDispatch   = "dispatch"
)

// Исходы обработки сообщения
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Observer получает события жизненного цикла слушателя (метрики, аудит).
// Вызовы "выстрелил и забыл": реализация не должна блокировать и паниковать,
// на управление слушателем она никак не влияет.
type Observer interface {
	NewConsumer()
	NewQueue(queue string)
	Subscription(service, queue string)
	Unsubscription(service, queue string)
	BulkUnsubscription(count int)
	ConsumerClose()
	ChannelClose()
	ConnectionClose()
	Error(errorType string)
	Delivered(service, outcome string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) NewConsumer()                            {}
func (noopObserver) NewQueue(string)                         {}
func (noopObserver) Subscription(string, string)             {}
func (noopObserver) Unsubscription(string, string)           {}
func (noopObserver) BulkUnsubscription(int)                  {}
func (noopObserver) ConsumerClose()                          {}
func (noopObserver) ChannelClose()                           {}
func (noopObserver) ConnectionClose()                        {}
func (noopObserver) Error(string)                            {}
func (noopObserver) Delivered(string, string, time.Duration) {}

// NewNoopObserver возвращает наблюдателя, который ничего не делает
func NewNoopObserver() Observer {
	return noopObserver{}
}

// safeObserver гасит паники наблюдателя: сбой метрик не должен ломать слушатель
type safeObserver struct {
	inner Observer
}

func (s safeObserver) call(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func (s safeObserver) NewConsumer()          { s.call(s.inner.NewConsumer) }
func (s safeObserver) NewQueue(queue string) { s.call(func() { s.inner.NewQueue(queue) }) }
func (s safeObserver) Subscription(service, queue string) {
	s.call(func() { s.inner.Subscription(service, queue) })
}
func (s safeObserver) Unsubscription(service, queue string) {
	s.call(func() { s.inner.Unsubscription(service, queue) })
}
func (s safeObserver) BulkUnsubscription(count int) {
	s.call(func() { s.inner.BulkUnsubscription(count) })
}
func (s safeObserver) ConsumerClose()         { s.call(s.inner.ConsumerClose) }
func (s safeObserver) ChannelClose()          { s.call(s.inner.ChannelClose) }
func (s safeObserver) ConnectionClose()       { s.call(s.inner.ConnectionClose) }
func (s safeObserver) Error(errorType string) { s.call(func() { s.inner.Error(errorType) }) }
func (s safeObserver) Delivered(service, outcome string, elapsed time.Duration) {
	s.call(func() { s.inner.Delivered(service, outcome, elapsed) })
}

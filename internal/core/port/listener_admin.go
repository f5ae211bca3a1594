package port

import "queue-listener-service/pkg/rabbitmq/rabbitmq_listener"

// ListenerAdminPort - управление слушателем из REST API.
// Реализуется *rabbitmq_listener.Listener.
type ListenerAdminPort interface {
	Services() []rabbitmq_listener.ServiceStatus
	Detach(name string) error
	SetQosSettings(prefetchCount, prefetchSize *int64) error
	IsRunning() bool
	Healthy() bool
}

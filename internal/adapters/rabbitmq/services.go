package rabbitmq

import (
	"queue-listener-service/internal/configs"
	"queue-listener-service/internal/constants"
	"queue-listener-service/pkg/rabbitmq/rabbitmq_listener"
)

// OrdersService - дескриптор сервиса заказов: ручное подтверждение, prefetch
// из конфигурации и изолированный цикл ретраев с финальным DLQ
func OrdersService(cfg configs.OrdersConfig) rabbitmq_listener.ServiceDescriptor {
	svc := rabbitmq_listener.ServiceDescriptor{
		Name:      "orders-journal",
		QueueName: cfg.Queue,
		AckMode:   rabbitmq_listener.AckClient,
		Durable:   true,
		Dispatch:  rabbitmq_listener.DispatchConcurrent,
		Bindings: []rabbitmq_listener.QueueBinding{{
			Exchange:     constants.EventsExchange,
			ExchangeKind: constants.EventsExchangeType,
			RoutingKey:   constants.RoutingKeyOrderEvents,
			Durable:      true,
		}},
		Retry: &rabbitmq_listener.RetryPolicy{
			Exchange:        cfg.Queue + "_retry_ex",
			WaitQueue:       cfg.Queue + "_retry_wait",
			TTL:             cfg.RetryTTL,
			MaxRetries:      cfg.MaxRetries,
			FinalExchange:   constants.FinalDLXExchange,
			FinalQueue:      constants.FinalDLQ,
			FinalRoutingKey: constants.FinalDLQRoutingKey,
		},
	}
	if cfg.Prefetch > 0 {
		svc.PrefetchCount = rabbitmq_listener.Uint64(uint64(cfg.Prefetch))
	}
	return svc
}

// AuditService - дескриптор сервиса аудита: auto-ack, события пишутся строго по порядку
func AuditService(cfg configs.AuditConfig) rabbitmq_listener.ServiceDescriptor {
	return rabbitmq_listener.ServiceDescriptor{
		Name:      "audit-journal",
		QueueName: cfg.Queue,
		AckMode:   rabbitmq_listener.AckAuto,
		Durable:   true,
		Dispatch:  rabbitmq_listener.DispatchSequential,
		Bindings: []rabbitmq_listener.QueueBinding{{
			Exchange:     constants.EventsExchange,
			ExchangeKind: constants.EventsExchangeType,
			RoutingKey:   constants.RoutingKeyAuditEvents,
			Durable:      true,
		}},
	}
}

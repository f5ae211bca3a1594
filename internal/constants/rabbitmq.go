package constants

// Обменник, в который публикуются доменные события
const (
	EventsExchange     = "events"
	EventsExchangeType = "topic"
)

// Ключи маршрутизации
const (
	RoutingKeyOrderEvents = "order.#"
	RoutingKeyAuditEvents = "audit.#"
)

// Заголовки сообщений
const (
	HeaderTraceID      = "x-trace-id"
	HeaderEventType    = "event-type"
	HeaderEventVersion = "event-version"
)

const (
	FinalDLXExchange   = "events_final_dlx"
	FinalDLQ           = "events_final_dlq"
	FinalDLQRoutingKey = "events.dlq.key"
)

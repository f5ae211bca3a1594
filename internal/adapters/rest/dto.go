package rest

import "queue-listener-service/pkg/rabbitmq/rabbitmq_listener"

type ServicesResponse struct {
	Running  bool                              `json:"running"`
	Services []rabbitmq_listener.ServiceStatus `json:"services"`
}

// QosRequest - тело PUT /qos; отсутствующее поле означает "не задано"
type QosRequest struct {
	PrefetchCount *int64 `json:"prefetch_count"`
	PrefetchSize  *int64 `json:"prefetch_size"`
}

type CountResponse struct {
	Queue string `json:"queue,omitempty"`
	Count int64  `json:"count"`
}

// HealthResponse - ответ /healthz; Stalled - запущенные сервисы, которые больше не читают очередь
type HealthResponse struct {
	Status  string   `json:"status"`
	Stalled []string `json:"stalled,omitempty"`
}

package rabbitmq_metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"queue-listener-service/pkg/rabbitmq/rabbitmq_listener"
)

const namespace = "rabbitmq_listener"

// Observer переводит события слушателя в метрики Prometheus.
// Реализует rabbitmq_listener.Observer.
type Observer struct {
	consumers     prometheus.Gauge
	queues        *prometheus.CounterVec
	subscriptions prometheus.Gauge
	subscribed    *prometheus.CounterVec
	unsubscribed  *prometheus.CounterVec
	closes        *prometheus.CounterVec
	errors        *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

var _ rabbitmq_listener.Observer = (*Observer)(nil)

// NewObserver создает метрики и регистрирует их в reg
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumers",
			Help:      "Number of initialized listeners.",
		}),
		queues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queues_declared_total",
			Help:      "Queues declared by listeners.",
		}, []string{"queue"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Number of active service subscriptions.",
		}),
		subscribed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_total",
			Help:      "Service subscriptions by service and queue.",
		}, []string{"service", "queue"}),
		unsubscribed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsubscriptions_total",
			Help:      "Detached services by service and queue.",
		}, []string{"service", "queue"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Closed consumers, channels and connections.",
		}, []string{"resource"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Listener errors by operation.",
		}, []string{"error_type"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Dispatched messages by service and outcome.",
		}, []string{"service", "outcome"}),
		// секунды
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Histogram of message handler duration.",
			Buckets:   []float64{.005, .01, .02, .04, .08, .16, .32, .64, 1.28, 2.56},
		}, []string{"service"}),
	}

	reg.MustRegister(
		o.consumers,
		o.queues,
		o.subscriptions,
		o.subscribed,
		o.unsubscribed,
		o.closes,
		o.errors,
		o.delivered,
		o.duration,
	)
	return o
}

func (o *Observer) NewConsumer() {
	o.consumers.Inc()
}

func (o *Observer) NewQueue(queue string) {
	o.queues.WithLabelValues(queue).Inc()
}

func (o *Observer) Subscription(service, queue string) {
	o.subscriptions.Inc()
	o.subscribed.WithLabelValues(service, queue).Inc()
}

func (o *Observer) Unsubscription(service, queue string) {
	o.subscriptions.Dec()
	o.unsubscribed.WithLabelValues(service, queue).Inc()
}

// BulkUnsubscription снимает разом все подписки закрываемого слушателя
func (o *Observer) BulkUnsubscription(count int) {
	o.subscriptions.Sub(float64(count))
}

func (o *Observer) ConsumerClose() {
	o.consumers.Dec()
	o.closes.WithLabelValues("consumer").Inc()
}

func (o *Observer) ChannelClose() {
	o.closes.WithLabelValues("channel").Inc()
}

func (o *Observer) ConnectionClose() {
	o.closes.WithLabelValues("connection").Inc()
}

func (o *Observer) Error(errorType string) {
	o.errors.WithLabelValues(errorType).Inc()
}

func (o *Observer) Delivered(service, outcome string, elapsed time.Duration) {
	o.delivered.WithLabelValues(service, outcome).Inc()
	o.duration.WithLabelValues(service).Observe(elapsed.Seconds())
}

package runtime

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/narrator/internal/runtime/outcome"
)

const metricsNamespace = "narrator"

// Reasons recorded on deliveries_rejected_total.
const (
	RejectReasonHandlerError = "handler_error"
	RejectReasonPanic        = "panic"
	RejectReasonUnknownKind  = "unknown_kind"
	RejectReasonDecodeError  = "decode_error"
)

// clientMetrics holds the Prometheus collectors of a Client.
type clientMetrics struct {
	published          *prometheus.CounterVec
	publishFailures    *prometheus.CounterVec
	publishReturned    *prometheus.CounterVec
	deliveries         *prometheus.CounterVec
	deliveriesAcked    *prometheus.CounterVec
	deliveriesRejected *prometheus.CounterVec
	deliveriesRequeued *prometheus.CounterVec
	handlerDuration    *prometheus.HistogramVec
	reconnects         *prometheus.CounterVec
	queueDepth         prometheus.Gauge
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// newClientMetrics registers the collectors with registerer. Collectors that
// another client already registered are shared.
func newClientMetrics(registerer prometheus.Registerer) (*clientMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &clientMetrics{
		published:          newCounterVec("published_total", "Messages confirmed by the broker", []string{"routing_key", "kind"}),
		publishFailures:    newCounterVec("publish_failures_total", "Publishes that failed or were nacked", []string{"routing_key"}),
		publishReturned:    newCounterVec("publish_returned_total", "Mandatory publishes the broker could not route", []string{"routing_key"}),
		deliveries:         newCounterVec("deliveries_total", "Deliveries received", []string{"queue", "kind"}),
		deliveriesAcked:    newCounterVec("deliveries_acked_total", "Deliveries acknowledged", []string{"queue", "kind"}),
		deliveriesRejected: newCounterVec("deliveries_rejected_total", "Deliveries rejected without requeue", []string{"queue", "reason"}),
		deliveriesRequeued: newCounterVec("deliveries_requeued_total", "Deliveries returned to their queue", []string{"queue", "kind"}),
		handlerDuration:    newHistogramVec("handler_duration_seconds", "Handler execution time", prometheus.DefBuckets, []string{"queue", "kind"}),
		reconnects:         newCounterVec("reconnects_total", "Broker connections re-established", []string{"role"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "invocation_queue_depth",
			Help:      "Decoded deliveries waiting for a worker",
		}),
	}

	var err error
	m.published, err = registerCounterVec(registerer, m.published)
	if err != nil {
		return nil, err
	}
	if m.publishFailures, err = registerCounterVec(registerer, m.publishFailures); err != nil {
		return nil, err
	}
	if m.publishReturned, err = registerCounterVec(registerer, m.publishReturned); err != nil {
		return nil, err
	}
	if m.deliveries, err = registerCounterVec(registerer, m.deliveries); err != nil {
		return nil, err
	}
	if m.deliveriesAcked, err = registerCounterVec(registerer, m.deliveriesAcked); err != nil {
		return nil, err
	}
	if m.deliveriesRejected, err = registerCounterVec(registerer, m.deliveriesRejected); err != nil {
		return nil, err
	}
	if m.deliveriesRequeued, err = registerCounterVec(registerer, m.deliveriesRequeued); err != nil {
		return nil, err
	}
	if m.reconnects, err = registerCounterVec(registerer, m.reconnects); err != nil {
		return nil, err
	}
	if err := registerer.Register(m.handlerDuration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		m.handlerDuration = existing
	}
	if err := registerer.Register(m.queueDepth); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, err
		}
		m.queueDepth = existing
	}
	return m, nil
}

func registerCounterVec(registerer prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := registerer.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return vec, nil
}

func (m *clientMetrics) recordPublished(routingKey, kind string) {
	m.published.WithLabelValues(routingKey, kind).Inc()
}

func (m *clientMetrics) recordPublishFailure(routingKey string) {
	m.publishFailures.WithLabelValues(routingKey).Inc()
}

func (m *clientMetrics) recordReturned(routingKey string) {
	m.publishReturned.WithLabelValues(routingKey).Inc()
}

func (m *clientMetrics) recordDelivery(queue, kind string) {
	m.deliveries.WithLabelValues(queue, kind).Inc()
}

func (m *clientMetrics) recordRejected(queue, reason string) {
	m.deliveriesRejected.WithLabelValues(queue, reason).Inc()
}

func (m *clientMetrics) recordReconnect(role string) {
	m.reconnects.WithLabelValues(role).Inc()
}

func (m *clientMetrics) setQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// recordSettlement records the outcome of a handler run.
func (m *clientMetrics) recordSettlement(queue, kind string, disposition outcome.Disposition, err error, duration time.Duration) {
	m.handlerDuration.WithLabelValues(queue, kind).Observe(duration.Seconds())
	switch disposition {
	case outcome.Ack:
		m.deliveriesAcked.WithLabelValues(queue, kind).Inc()
	case outcome.Requeue:
		m.deliveriesRequeued.WithLabelValues(queue, kind).Inc()
	default:
		reason := RejectReasonHandlerError
		var panicErr *outcome.PanicError
		if errors.As(err, &panicErr) {
			reason = RejectReasonPanic
		}
		m.deliveriesRejected.WithLabelValues(queue, reason).Inc()
	}
}

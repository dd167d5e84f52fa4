package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpErrorsTotal      *prometheus.CounterVec
	escalationsTotal     *prometheus.CounterVec
	outboxDeliveredTotal *prometheus.CounterVec
	outboxFlushSeconds   prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors for the engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_http_errors_total",
			Help: "Total number of error responses, by error code.",
		}, []string{"method", "route", "code"})

		escalationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_escalations_total",
			Help: "Tickets escalated by the SLA breach scanner, by pass.",
		}, []string{"pass"})

		outboxDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_outbox_events_total",
			Help: "Outbox events finalised by the dispatcher, by result.",
		}, []string{"result"})

		outboxFlushSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpdesk_outbox_flush_seconds",
			Help:    "Duration of outbox flush runs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		})

		prometheus.MustRegister(httpRequestsTotal, httpErrorsTotal,
			escalationsTotal, outboxDeliveredTotal, outboxFlushSeconds)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPErrors exposes the error counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// Escalations exposes the scanner counter.
func Escalations() *prometheus.CounterVec {
	RegisterMetrics()
	return escalationsTotal
}

// OutboxDelivered exposes the dispatcher result counter.
func OutboxDelivered() *prometheus.CounterVec {
	RegisterMetrics()
	return outboxDeliveredTotal
}

// OutboxFlushDuration exposes the flush histogram.
func OutboxFlushDuration() prometheus.Histogram {
	RegisterMetrics()
	return outboxFlushSeconds
}

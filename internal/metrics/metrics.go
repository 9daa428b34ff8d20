package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shop_queue",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shop_queue",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shop_queue",
			Subsystem: "tickets",
			Name:      "transitions_total",
			Help:      "Ticket lifecycle operations by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	recalculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shop_queue",
			Subsystem: "scheduler",
			Name:      "shop_recalculations_total",
			Help:      "Per-shop queue recalculations run by the scheduler.",
		},
		[]string{"outcome"},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shop_queue",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full scheduler tick across all active shops.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	promotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shop_queue",
			Subsystem: "tickets",
			Name:      "appointments_promoted_total",
			Help:      "Pending appointments promoted into the waiting line.",
		},
	)

	auditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shop_queue",
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Audit entries that could not be written.",
		},
	)

	publishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shop_queue",
			Subsystem: "publish",
			Name:      "failures_total",
			Help:      "Queue snapshot publications that failed, by publisher.",
		},
		[]string{"publisher"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		transitions,
		recalculations,
		tickDuration,
		promotions,
		auditFailures,
		publishFailures,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordTransition(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	transitions.WithLabelValues(action, outcome).Inc()
}

func RecordRecalculation(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	recalculations.WithLabelValues(outcome).Inc()
}

func ObserveTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

func RecordPromotions(n int) {
	if n > 0 {
		promotions.Add(float64(n))
	}
}

func RecordAuditFailure() {
	auditFailures.Inc()
}

func RecordPublishFailure(publisher string) {
	publishFailures.WithLabelValues(publisher).Inc()
}

func ObserveHTTP(method string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

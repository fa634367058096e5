package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// ledger
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_total",
			Help: "Committed ledger operations",
		},
		[]string{"kind"},
	)
	TransactionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_rejected_total",
			Help: "Ledger operations rejected before or during commit",
		},
		[]string{"reason"},
	)
	StorageConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_conflicts_total",
			Help: "Units of work aborted by a concurrent writer",
		},
	)

	// notifications
	NotificationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Notifications that could not be delivered or queued",
		},
		[]string{"cause"},
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestLatency,
			TransactionsTotal,
			TransactionsRejected,
			StorageConflicts,
			NotificationsFailed,
			WorkerQueueDepth,
		)
	})
}

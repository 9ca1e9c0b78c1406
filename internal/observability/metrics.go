package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taxi_dispatch"

var (
	OrdersCreated   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "orders_created_total", Help: "Orders assigned to a driver"}, []string{"kind"})
	OrdersFinished  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "orders_finished_total", Help: "Orders finished by drivers"})
	NotifyFailures  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "notify_failures_total", Help: "Driver notifications that could not be delivered"}, []string{"outcome"})
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "dispatch_latency_seconds", Help: "Time to assign and notify a driver", Buckets: prometheus.DefBuckets})

	DriverTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "driver_status_transitions_total", Help: "Driver status writes by target status"}, []string{"status"})
	DriversRegistered = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "drivers_registered_total", Help: "Completed registration wizards"})

	RatingsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ratings_recorded_total", Help: "Ratings stored by subject kind"}, []string{"subject"})

	ChatEvents = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "chat_events_total", Help: "Inbound conversational events by kind"}, []string{"kind"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lending_evaluations_total",
			Help: "Total number of credit evaluations",
		},
		[]string{"source", "category"},
	)

	ValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lending_validation_failures_total",
			Help: "Total number of applications rejected by input validation",
		},
	)

	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lending_persistence_failures_total",
			Help: "Total number of best-effort writes that failed",
		},
		[]string{"operation"},
	)

	RateRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lending_rate_refreshes_total",
			Help: "Total number of exchange rate refresh attempts",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "lending_http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "status"},
	)
)

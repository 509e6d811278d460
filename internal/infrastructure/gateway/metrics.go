package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tyust",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Requests sent to the campus API by method, path and outcome",
	}, []string{"method", "path", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tyust",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Duration of campus API requests",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
	}, []string{"outcome"})
)

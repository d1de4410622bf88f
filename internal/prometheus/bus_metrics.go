package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TotalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "total_requests",
		Namespace: Namespace,
		Subsystem: BusSubsystem,
		Help:      "total number of requests made to the installer bus",
	})
)

var (
	FailedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "failed_requests",
		Namespace: Namespace,
		Subsystem: BusSubsystem,
		Help:      "bus requests that ended with an error, by error name",
	}, []string{"error"})
)

var (
	SignalSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "signal_subscribers",
		Namespace: Namespace,
		Subsystem: BusSubsystem,
		Help:      "Currently connected signal subscribers",
	})
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "http_duration_seconds",
		Namespace: Namespace,
		Subsystem: BusSubsystem,
		Help:      "Duration of bus requests.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"path"})
)

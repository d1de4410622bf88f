package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunningTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "running_tasks",
		Namespace: Namespace,
		Subsystem: TaskSubsystem,
		Help:      "Currently running tasks",
	}, []string{"task"})
)

var (
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "duration_seconds",
		Namespace: Namespace,
		Subsystem: TaskSubsystem,
		Help:      "Duration spent running a task.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096},
	}, []string{"task", "result"})
)

var (
	RunState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "run_state",
		Namespace: Namespace,
		Subsystem: InstallationSubsystem,
		Help:      "1 for the current state of the installation run",
	}, []string{"state"})
)

var (
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "events",
		Namespace: Namespace,
		Subsystem: InstallationSubsystem,
		Help:      "Installation events reported to telemetry",
	}, []string{"kind"})
)

func StartTaskMetrics(task string) {
	RunningTasks.WithLabelValues(task).Inc()
}

// FinishTaskMetrics records a finished task. result is one of succeeded,
// failed or cancelled.
func FinishTaskMetrics(started time.Time, finished time.Time, task, result string) {
	RunningTasks.WithLabelValues(task).Dec()
	if !started.IsZero() && !finished.IsZero() {
		TaskDuration.WithLabelValues(task, result).Observe(finished.Sub(started).Seconds())
	}
}

// SetRunState marks state as the current run state.
func SetRunState(state string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}
		RunState.WithLabelValues(s).Set(value)
	}
}

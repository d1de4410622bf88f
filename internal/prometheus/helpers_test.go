package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPathLabel(t *testing.T) {
	assert.Equal(t, "/api/bus/v1/call", pathLabel("/api/bus/v1/call"))
	assert.Equal(t, "/api/bus/v1/tasks/-", pathLabel("/api/bus/v1/tasks/:id"))
}

func TestTaskMetrics(t *testing.T) {
	StartTaskMetrics("Configure NTP")
	assert.Equal(t, 1.0, testutil.ToFloat64(RunningTasks.WithLabelValues("Configure NTP")))

	start := time.Now()
	FinishTaskMetrics(start, start.Add(time.Second), "Configure NTP", "succeeded")
	assert.Equal(t, 0.0, testutil.ToFloat64(RunningTasks.WithLabelValues("Configure NTP")))
}

func TestSetRunState(t *testing.T) {
	all := []string{"IDLE", "RUNNING", "SUCCEEDED"}
	SetRunState("RUNNING", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(RunState.WithLabelValues("RUNNING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(RunState.WithLabelValues("IDLE")))
}

// Package telemetry reports the milestones of an installation run to side
// channels.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/prometheus"
)

type Kind string

const (
	Started  Kind = "STARTED"
	Aborted  Kind = "ABORTED"
	Failed   Kind = "FAILED"
	Finished Kind = "FINISHED"
)

// Sink receives installation events. Event must not block for long.
type Sink interface {
	Event(kind Kind, message string)
}

// LogSink writes events to the log.
type LogSink struct {
	logger *logrus.Entry
}

func NewLogSink() *LogSink {
	return &LogSink{logger: logrus.WithField("component", "telemetry")}
}

func (s *LogSink) Event(kind Kind, message string) {
	entry := s.logger.WithField("event", string(kind))
	switch kind {
	case Failed:
		entry.Error(common.RedactURLs(message))
	case Aborted:
		entry.Warn(common.RedactURLs(message))
	default:
		entry.Info(common.RedactURLs(message))
	}
}

// MetricsSink counts events by kind.
type MetricsSink struct{}

func (MetricsSink) Event(kind Kind, message string) {
	prometheus.Events.WithLabelValues(string(kind)).Inc()
}

// SentrySink reports failed and aborted runs to Sentry.
type SentrySink struct {
	hub *sentry.Hub
}

func NewSentrySink(options sentry.ClientOptions) (*SentrySink, error) {
	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, err
	}
	return &SentrySink{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *SentrySink) Event(kind Kind, message string) {
	var level sentry.Level
	switch kind {
	case Failed:
		level = sentry.LevelError
	case Aborted:
		level = sentry.LevelWarning
	default:
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTag("event", string(kind))
		s.hub.CaptureMessage(common.RedactURLs(message))
	})
}

// Flush waits for queued events to be sent.
func (s *SentrySink) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

// Multi sends every event to all its sinks in order.
type Multi []Sink

func (m Multi) Event(kind Kind, message string) {
	for _, s := range m {
		s.Event(kind, message)
	}
}

// New returns the sinks for conf: the log and the metrics always, Sentry
// when a DSN is configured.
func New(conf bootconf.LoggingConfig) (Multi, error) {
	sinks := Multi{NewLogSink(), MetricsSink{}}
	if conf.SentryDSN != "" {
		s, err := NewSentrySink(sentry.ClientOptions{
			Dsn:         conf.SentryDSN,
			Environment: conf.Environment,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

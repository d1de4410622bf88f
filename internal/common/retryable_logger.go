package common

import (
	"github.com/sirupsen/logrus"
)

// LeveledLogrus adapts a logrus entry to the retryablehttp.LeveledLogger
// interface.
type LeveledLogrus struct {
	*logrus.Entry
}

func NewLeveledLogrus(entry *logrus.Entry) *LeveledLogrus {
	return &LeveledLogrus{Entry: entry}
}

func (l *LeveledLogrus) fields(keysAndValues ...interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if key == "url" {
			if s, ok := keysAndValues[i+1].(string); ok {
				fields[key] = RedactURL(s)
				continue
			}
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

func (l *LeveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(l.fields(keysAndValues...)).Error(msg)
}

func (l *LeveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(l.fields(keysAndValues...)).Info(msg)
}

func (l *LeveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(l.fields(keysAndValues...)).Debug(msg)
}

func (l *LeveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(l.fields(keysAndValues...)).Warn(msg)
}

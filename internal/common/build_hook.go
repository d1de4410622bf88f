package common

import (
	"github.com/sirupsen/logrus"
)

// BuildHook stamps every entry with the build it came from, so logs
// collected from an install image can be matched to a commit.
type BuildHook struct {
}

func (h *BuildHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *BuildHook) Fire(e *logrus.Entry) error {
	e.Data["build_commit"] = BuildCommit
	e.Data["build_time"] = BuildTime

	return nil
}

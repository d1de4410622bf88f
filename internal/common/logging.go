package common

import (
	"fmt"
	"os"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// ConfigureLogging sets up the process-wide logrus logger. With journal
// enabled and a journal socket present, entries go to the journal only.
func ConfigureLogging(level string, toJournal bool, identifier string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetReportCaller(true)
	logrus.AddHook(&BuildHook{})

	if toJournal && journal.Enabled() {
		logrus.AddHook(&JournalHook{Identifier: identifier})
		logrus.SetOutput(discard{})
		return nil
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) {
	return len(p), nil
}

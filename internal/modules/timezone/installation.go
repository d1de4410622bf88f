package timezone

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/task"
)

// zoneinfoTarget is where /etc/localtime points on the installed system.
const zoneinfoTarget = "/usr/share/zoneinfo"

// ConfigureHardwareClockTask records the hardware clock mode in
// /etc/adjtime. It does nothing on s390, where the clock is not managed by
// the installed system.
type ConfigureHardwareClockTask struct {
	sysroot string
	isUTC   bool
	s390    bool
}

func NewConfigureHardwareClockTask(sysroot string, isUTC, s390 bool) *ConfigureHardwareClockTask {
	return &ConfigureHardwareClockTask{sysroot: sysroot, isUTC: isUTC, s390: s390}
}

func (t *ConfigureHardwareClockTask) Name() string {
	return "Configure hardware clock"
}

func (t *ConfigureHardwareClockTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	if t.s390 {
		logrus.Debug("hardware clock configuration is skipped on s390")
		return nil, nil
	}

	path := filepath.Join(t.sysroot, "etc/adjtime")
	lines := []string{"0.0 0 0.0", "0"}
	if content, err := os.ReadFile(path); err == nil {
		existing := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
		if len(existing) >= 2 {
			lines = existing[:2]
		}
	} else if !os.IsNotExist(err) {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot read %s", path)
	}

	mode := "LOCAL"
	if t.isUTC {
		mode = "UTC"
	}
	lines = append(lines, mode)
	r.ReportProgress("Setting the hardware clock to " + mode)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "")
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot write %s", path)
	}
	return nil, nil
}

// ConfigureTimezoneTask links /etc/localtime to the zoneinfo file of the
// timezone. An invalid timezone falls back to the default one.
type ConfigureTimezoneTask struct {
	sysroot  string
	timezone string
	fallback string
	zones    *Zones
}

func NewConfigureTimezoneTask(sysroot, timezone, fallback string, zones *Zones) *ConfigureTimezoneTask {
	return &ConfigureTimezoneTask{sysroot: sysroot, timezone: timezone, fallback: fallback, zones: zones}
}

func (t *ConfigureTimezoneTask) Name() string {
	return "Configure timezone"
}

func (t *ConfigureTimezoneTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	tz := t.timezone
	if !t.zones.IsValid(tz) {
		logrus.Warnf("timezone %q is not valid, falling back to the default: %s", tz, t.fallback)
		tz = t.fallback
	}
	r.ReportProgress("Setting the timezone to " + tz)

	link := filepath.Join(t.sysroot, "etc/localtime")
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "")
	}
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot replace %s", link)
	}
	if err := os.Symlink(filepath.Join(zoneinfoTarget, tz), link); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot link %s", link)
	}
	return nil, nil
}

// ConfigureNTPTask writes the time sources to the chrony configuration.
// Existing server and pool lines are replaced, everything else is kept.
type ConfigureNTPTask struct {
	sysroot string
	config  string
	enabled bool
	sources []TimeSourceData
}

func NewConfigureNTPTask(sysroot, config string, enabled bool, sources []TimeSourceData) *ConfigureNTPTask {
	return &ConfigureNTPTask{sysroot: sysroot, config: config, enabled: enabled, sources: sources}
}

func (t *ConfigureNTPTask) Name() string {
	return "Configure NTP"
}

func sourceLine(ts TimeSourceData) string {
	keyword := "server"
	if ts.Type == TimeSourcePool {
		keyword = "pool"
	}
	return strings.Join(append([]string{keyword, ts.Hostname}, ts.Options...), " ")
}

func (t *ConfigureNTPTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	if !t.enabled {
		logrus.Debug("NTP is disabled, the NTP configuration is left alone")
		return nil, nil
	}
	if len(t.sources) == 0 {
		logrus.Debug("no time sources, the default NTP configuration is kept")
		return nil, nil
	}

	path := filepath.Join(t.sysroot, t.config)
	var out bytes.Buffer
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "cannot read %s", path)
	}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) > 0 && (fields[0] == "server" || fields[0] == "pool") {
			continue
		}
		fmt.Fprintln(&out, line)
	}
	for _, ts := range t.sources {
		fmt.Fprintln(&out, sourceLine(ts))
	}
	r.ReportProgress(fmt.Sprintf("Writing %d time sources", len(t.sources)))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "")
	}
	if err := os.WriteFile(path, out.Bytes(), 0644); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "cannot write %s", path)
	}
	return nil, nil
}

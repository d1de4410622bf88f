package timezone_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/module/moduletest"
	"github.com/osbuild/installer-core/internal/modules/timezone"
	"github.com/osbuild/installer-core/internal/priority"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/task"
	"github.com/osbuild/installer-core/internal/test"
)

const zoneTab = `# tz zone descriptions
CZ	+5005+01426	Europe/Prague
DE	+5230+01322	Europe/Berlin	most of Germany
JP	+353916+1394441	Asia/Tokyo
US	+404251-0740023	America/New_York	Eastern (most areas)
US	+415100-0873900	America/Chicago	Central (most areas)
`

func newModule(t *testing.T, setup func(conf *bootconf.Config)) (*timezone.Module, *module.Env) {
	conf := moduletest.NewConfig(t)
	conf.Timezone.ZoneinfoDir = t.TempDir()
	test.WriteFile(t, conf.Timezone.ZoneinfoDir, "zone.tab", zoneTab)
	if setup != nil {
		setup(conf)
	}
	env := moduletest.NewEnv(t, conf, nil)
	return timezone.New(env), env
}

func TestInteractiveOverride(t *testing.T) {
	m, _ := newModule(t, nil)
	var changes []string
	m.TimezoneCell().Changed.Connect(func(tz string) { changes = append(changes, tz) })

	assert.Equal(t, "America/New_York", m.Timezone())
	m.ApplyGeolocation(timezone.GeolocationData{Territory: "CZ", Timezone: "Europe/Prague"})
	assert.True(t, m.SetTimezone("Asia/Tokyo", priority.User))
	m.ApplyGeolocation(timezone.GeolocationData{Territory: "DE", Timezone: "Europe/Berlin"})

	assert.Equal(t, "Asia/Tokyo", m.Timezone())
	assert.Equal(t, []string{"Europe/Prague", "Asia/Tokyo"}, changes)
	assert.Equal(t, "DE", m.GeolocationResult().Territory)
}

func TestKickstartDefaults(t *testing.T) {
	m, _ := newModule(t, nil)

	report := module.ReadKickstart(m, "timezone Europe/Prague --utc\n")
	require.True(t, report.IsValid(), report.ErrorMessages)
	assert.True(t, m.Kickstarted())
	assert.Equal(t, "Europe/Prague", m.Timezone())
	assert.Equal(t, priority.Kickstart, m.TimezoneCell().Priority())
	assert.True(t, m.IsUTC())
	assert.True(t, m.NTPEnabled())
	assert.Empty(t, m.TimeSources())

	assert.Equal(t, "# System timezone\ntimezone Europe/Prague --utc\n", module.GenerateKickstart(m))
}

func TestKickstartTimeSources(t *testing.T) {
	m, _ := newModule(t, nil)

	report := module.ReadKickstart(m, `timezone Europe/Berlin --ntpservers=ntp1.example.com
timesource --ntp-pool=pool.example.com --nts
`)
	require.True(t, report.IsValid(), report.ErrorMessages)
	assert.Equal(t, []timezone.TimeSourceData{
		{Type: timezone.TimeSourceServer, Hostname: "ntp1.example.com", Options: []string{"iburst"}},
		{Type: timezone.TimeSourcePool, Hostname: "pool.example.com", Options: []string{"iburst", "nts"}},
	}, m.TimeSources())

	first := module.GenerateKickstart(m)
	assert.Equal(t, `timesource --ntp-server=ntp1.example.com
timesource --ntp-pool=pool.example.com --nts
# System timezone
timezone Europe/Berlin
`, first)

	again, _ := newModule(t, nil)
	require.True(t, module.ReadKickstart(again, first).IsValid())
	assert.Equal(t, first, module.GenerateKickstart(again))
}

func TestKickstartNTPDisabled(t *testing.T) {
	m, _ := newModule(t, nil)

	data, err := kickstart.ParseString("timezone Asia/Tokyo\ntimesource --ntp-disable\n")
	require.NoError(t, err)
	require.NoError(t, m.ProcessKickstart(data))
	assert.False(t, m.NTPEnabled())
	assert.Empty(t, m.CollectRequirements())
	assert.Contains(t, module.GenerateKickstart(m), "timesource --ntp-disable\n")

	m.SetNTPEnabled(true)
	assert.Equal(t, []requirement.Requirement{
		requirement.Package("chrony", "Needed to run NTP service."),
	}, m.CollectRequirements())
}

func TestInstallWithTasks(t *testing.T) {
	m, env := newModule(t, nil)
	sysroot := env.Sysroot()
	test.WriteFile(t, sysroot, "etc/chrony.conf", "pool 2.fedora.pool.ntp.org iburst\ndriftfile /var/lib/chrony/drift\n")

	require.True(t, m.SetTimezone("Europe/Prague", priority.User))
	m.SetIsUTC(true)
	m.SetTimeSources([]timezone.TimeSourceData{
		{Type: timezone.TimeSourceServer, Hostname: "ntp.example.com", Options: []string{"iburst", "nts"}},
	})

	tasks := m.InstallWithTasks()
	var names []string
	for _, tk := range tasks {
		names = append(names, tk.Name())
	}
	assert.Equal(t, []string{"Configure hardware clock", "Configure timezone", "Configure NTP"}, names)
	require.NoError(t, moduletest.RunTasks(context.Background(), tasks))

	assert.Equal(t, "0.0 0 0.0\n0\nUTC\n", test.ReadFile(t, sysroot, "etc/adjtime"))
	target, err := os.Readlink(filepath.Join(sysroot, "etc/localtime"))
	require.NoError(t, err)
	assert.Equal(t, "/usr/share/zoneinfo/Europe/Prague", target)
	assert.Equal(t, "driftfile /var/lib/chrony/drift\nserver ntp.example.com iburst nts\n",
		test.ReadFile(t, sysroot, "etc/chrony.conf"))
}

func TestHardwareClockKeepsAdjustment(t *testing.T) {
	sysroot := t.TempDir()
	test.WriteFile(t, sysroot, "etc/adjtime", "0.013 1700000000 0.0\n1700000000\nUTC\n")

	_, err := moduletest.RunTask(timezone.NewConfigureHardwareClockTask(sysroot, false, false))
	require.NoError(t, err)
	assert.Equal(t, "0.013 1700000000 0.0\n1700000000\nLOCAL\n", test.ReadFile(t, sysroot, "etc/adjtime"))
}

func TestHardwareClockSkippedOnS390(t *testing.T) {
	sysroot := t.TempDir()
	_, err := moduletest.RunTask(timezone.NewConfigureHardwareClockTask(sysroot, true, true))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(sysroot, "etc/adjtime"))
	assert.True(t, os.IsNotExist(err))
}

func TestInvalidTimezoneFallsBack(t *testing.T) {
	hook := logrusTest.NewGlobal()
	defer hook.Reset()

	zoneinfo := t.TempDir()
	test.WriteFile(t, zoneinfo, "zone.tab", zoneTab)
	sysroot := t.TempDir()

	tk := timezone.NewConfigureTimezoneTask(sysroot, "Mars/Olympus_Mons", "America/New_York", timezone.LoadZones(zoneinfo))
	_, err := moduletest.RunTask(tk)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(sysroot, "etc/localtime"))
	require.NoError(t, err)
	assert.Equal(t, "/usr/share/zoneinfo/America/New_York", target)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "Mars/Olympus_Mons") {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning about the invalid timezone")
}

func TestNTPConfigUntouchedWhenDisabled(t *testing.T) {
	sysroot := t.TempDir()
	test.WriteFile(t, sysroot, "etc/chrony.conf", "pool 2.fedora.pool.ntp.org iburst\n")
	sources := []timezone.TimeSourceData{{Type: timezone.TimeSourceServer, Hostname: "ntp.example.com"}}

	_, err := moduletest.RunTask(timezone.NewConfigureNTPTask(sysroot, "etc/chrony.conf", false, sources))
	require.NoError(t, err)
	assert.Equal(t, "pool 2.fedora.pool.ntp.org iburst\n", test.ReadFile(t, sysroot, "etc/chrony.conf"))
}

func TestZones(t *testing.T) {
	dir := t.TempDir()
	test.WriteFile(t, dir, "zone.tab", zoneTab)
	zones := timezone.LoadZones(dir)

	assert.True(t, zones.IsValid("Europe/Prague"))
	assert.True(t, zones.IsValid("UTC"))
	assert.True(t, zones.IsValid("Etc/GMT+5"))
	assert.False(t, zones.IsValid("Europe/Atlantis"))
	assert.False(t, zones.IsValid(""))
	assert.Equal(t, []string{"America/New_York", "America/Chicago"}, zones.ForTerritory("us"))
	assert.Equal(t, []string{"Chicago", "New_York"}, zones.All()["America"])

	// without a table the zoneinfo files decide
	files := t.TempDir()
	test.WriteFile(t, files, "Europe/Prague", "TZif")
	zones = timezone.LoadZones(files)
	assert.True(t, zones.IsValid("Europe/Prague"))
	assert.False(t, zones.IsValid("Europe"))
	assert.False(t, zones.IsValid("../Europe/Prague"))
}

func geolocationServer(t *testing.T, answer string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, answer)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeolocation(t *testing.T) {
	cases := []struct {
		name     string
		answer   string
		expected timezone.GeolocationData
	}{
		{
			name:     "valid timezone",
			answer:   `{"country_code": "CZ", "time_zone": "Europe/Prague", "city": "Brno"}`,
			expected: timezone.GeolocationData{Territory: "CZ", Timezone: "Europe/Prague"},
		},
		{
			name:     "derived from territory",
			answer:   `{"country_code": "US", "time_zone": "US/Nowhere"}`,
			expected: timezone.GeolocationData{Territory: "US", Timezone: "America/New_York"},
		},
		{
			name:     "unknown territory",
			answer:   `{"country_code": "AQ"}`,
			expected: timezone.GeolocationData{Territory: "AQ"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := geolocationServer(t, c.answer)
			m, env := newModule(t, func(conf *bootconf.Config) {
				conf.Timezone.GeolocationProvider = srv.URL
			})

			var h *task.Handle
			var err error
			moduletest.OnLoop(t, env, func() {
				h, err = m.StartGeolocation(context.Background())
			})
			require.NoError(t, err)
			<-h.Done()
			_, err = h.Finish()
			require.NoError(t, err)

			var result timezone.GeolocationData
			var tz string
			moduletest.OnLoop(t, env, func() {
				result = m.GeolocationResult()
				tz = m.Timezone()
			})
			assert.Equal(t, c.expected, result)
			if c.expected.Timezone != "" {
				assert.Equal(t, c.expected.Timezone, tz)
			} else {
				assert.Equal(t, "America/New_York", tz)
			}
		})
	}
}

func TestGeolocationFailureIsNonCritical(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := moduletest.RunTask(timezone.NewGeolocationTask(srv.URL, 0, timezone.LoadZones(t.TempDir())))
	require.Error(t, err)
	assert.True(t, installerrors.Is(err, installerrors.ErrorNonCritical))
	assert.Contains(t, err.Error(), "404")
}

package installer_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installer"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/jsondb"
	payload_mock "github.com/osbuild/installer-core/internal/mocks/payload"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/module/moduletest"
	"github.com/osbuild/installer-core/internal/modules/payloads"
	"github.com/osbuild/installer-core/internal/modules/timezone"
	"github.com/osbuild/installer-core/internal/payload"
	"github.com/osbuild/installer-core/internal/priority"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/telemetry"
	"github.com/osbuild/installer-core/internal/test"
)

const zoneTab = "CZ\t+5005+01426\tEurope/Prague\nDE\t+5230+01322\tEurope/Berlin\nJP\t+353916+1394441\tAsia/Tokyo\nUS\t+404251-0740023\tAmerica/New_York\n"

const systemRepo = `[fedora]
name=Fedora $releasever - $basearch
baseurl=https://example.com/fedora/$releasever/$basearch
enabled=1
`

type recordingSink struct {
	events []telemetry.Kind
}

func (s *recordingSink) Event(kind telemetry.Kind, _ string) {
	s.events = append(s.events, kind)
}

type fixture struct {
	env     *module.Env
	conf    *bootconf.Config
	backend *payload_mock.Backend
	sink    *recordingSink
	inst    *installer.Installer
}

func newFixture(t *testing.T, cmdline bootconf.Cmdline, setup func(conf *bootconf.Config, b *installer.Builder)) *fixture {
	conf := moduletest.NewConfig(t)
	conf.Timezone.ZoneinfoDir = t.TempDir()
	test.WriteFile(t, conf.Timezone.ZoneinfoDir, "zone.tab", zoneTab)

	f := &fixture{
		conf:    conf,
		backend: payload_mock.NewBackend("bash", "chrony", "langpacks-en", "langpacks-cs", "drv-a"),
		sink:    &recordingSink{},
	}
	f.env = moduletest.NewEnv(t, conf, cmdline)
	b := installer.NewBuilder(f.env).
		WithBackend(f.backend).
		WithTelemetry(f.sink).
		WithStateDB(jsondb.New(t.TempDir(), 0600))
	if setup != nil {
		setup(f.env.Config(), b)
	}
	moduletest.OnLoop(t, f.env, func() {
		var err error
		f.inst, err = b.Build()
		require.NoError(t, err)
	})
	return f
}

func (f *fixture) timezone(t *testing.T) *timezone.Module {
	m, ok := f.inst.Module("timezone")
	require.True(t, ok)
	return m.(*timezone.Module)
}

func TestBuildOrder(t *testing.T) {
	f := newFixture(t, nil, nil)

	var names []string
	for _, m := range f.inst.Modules() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"Localization", "Timezone", "Security", "Subscription", "Payloads", "Runtime"}, names)

	_, ok := f.inst.Module("storage")
	assert.False(t, ok)
	_, ok = f.inst.Module("PAYLOADS")
	assert.True(t, ok)
}

func TestBuildCustomOrder(t *testing.T) {
	f := newFixture(t, nil, func(conf *bootconf.Config, _ *installer.Builder) {
		conf.Orchestrator.Order = []string{"network", "timezone", "localization", "timezone"}
	})

	var names []string
	for _, m := range f.inst.Modules() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"Timezone", "Localization"}, names)
}

func TestBuildDefaults(t *testing.T) {
	conf := moduletest.NewConfig(t)
	env := moduletest.NewEnv(t, conf, nil)
	moduletest.OnLoop(t, env, func() {
		inst, err := installer.NewBuilder(env).Build()
		require.NoError(t, err)
		assert.Equal(t, common.RunIdle, inst.Status().State)
	})
	assert.DirExists(t, filepath.Join(conf.Installation.StateDir, "runs"))
}

func TestLanguageProposesTimezone(t *testing.T) {
	f := newFixture(t, nil, nil)
	tz := f.timezone(t)

	moduletest.OnLoop(t, f.env, func() {
		report := f.inst.ReadKickstart("lang cs_CZ.UTF-8\n")
		require.True(t, report.IsValid(), report.ErrorMessages)
	})
	assert.Equal(t, "Europe/Prague", tz.Timezone())
	assert.Equal(t, priority.Language, tz.TimezoneCell().Priority())

	moduletest.OnLoop(t, f.env, func() {
		tz.SetTimezone("Asia/Tokyo", priority.User)
		report := f.inst.ReadKickstart("lang de_DE.UTF-8\n")
		require.True(t, report.IsValid(), report.ErrorMessages)
	})
	assert.Equal(t, "Asia/Tokyo", tz.Timezone())
}

func TestKickstartTimezoneWinsOverLanguage(t *testing.T) {
	f := newFixture(t, nil, nil)

	moduletest.OnLoop(t, f.env, func() {
		report := f.inst.ReadKickstart("lang de_DE.UTF-8\ntimezone Asia/Tokyo\n")
		require.True(t, report.IsValid(), report.ErrorMessages)
	})
	assert.Equal(t, "Asia/Tokyo", f.timezone(t).Timezone())
}

func TestBootLanguageProposesTimezone(t *testing.T) {
	f := newFixture(t, bootconf.ParseCmdline("inst.lang=cs_CZ.UTF-8"), nil)
	assert.Equal(t, "Europe/Prague", f.timezone(t).Timezone())
}

func TestReadKickstartMarksOwners(t *testing.T) {
	f := newFixture(t, nil, nil)

	moduletest.OnLoop(t, f.env, func() {
		report := f.inst.ReadKickstart(`timezone Europe/Prague --utc
%packages
@core
%end
`)
		require.True(t, report.IsValid(), report.ErrorMessages)
	})

	kickstarted := map[string]bool{}
	for _, m := range f.inst.Modules() {
		kickstarted[m.Name()] = m.(module.Kickstarted).Kickstarted()
	}
	assert.Equal(t, map[string]bool{
		"Localization": false,
		"Timezone":     true,
		"Security":     false,
		"Subscription": false,
		"Payloads":     true,
		"Runtime":      false,
	}, kickstarted)
}

func TestReadKickstartErrors(t *testing.T) {
	f := newFixture(t, nil, nil)

	moduletest.OnLoop(t, f.env, func() {
		report := f.inst.ReadKickstart("timezone Europe/Prague\nfrobnicate --now\n")
		assert.False(t, report.IsValid())
		require.Len(t, report.ErrorMessages, 1)
		assert.Contains(t, report.ErrorMessages[0], "line 2")

		report = f.inst.ReadKickstart("lang not-a-locale\n")
		assert.False(t, report.IsValid())
	})
	assert.Equal(t, "America/New_York", f.timezone(t).Timezone())
}

func TestReadKickstartFile(t *testing.T) {
	f := newFixture(t, nil, nil)
	dir := t.TempDir()
	test.WriteFile(t, dir, "ks.cfg", "selinux --permissive\n")

	moduletest.OnLoop(t, f.env, func() {
		report, err := f.inst.ReadKickstartFile(filepath.Join(dir, "ks.cfg"))
		require.NoError(t, err)
		assert.True(t, report.IsValid())

		_, err = f.inst.ReadKickstartFile(filepath.Join(dir, "missing.cfg"))
		assert.Equal(t, installerrors.ErrorInvalidRequest, installerrors.KindOf(err))
	})
	assert.Contains(t, f.inst.GenerateKickstart(), "selinux --permissive")
}

func TestGenerateKickstartIsStable(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     []string
		withheld []string
	}{
		{
			name:  "timezone",
			input: "timezone Europe/Prague --utc\ntimesource --ntp-pool=pool.example.com\n",
			want:  []string{"# System timezone\ntimezone Europe/Prague --utc\n", "timesource --ntp-pool=pool.example.com"},
		},
		{
			name:  "localization",
			input: "lang cs_CZ.UTF-8 --addsupport=de_DE.UTF-8\nkeyboard --vckeymap=cz --xlayouts='cz (qwerty)','us'\n",
			want:  []string{"lang cs_CZ.UTF-8", "de_DE.UTF-8", "keyboard --vckeymap=cz"},
		},
		{
			name:  "security",
			input: "selinux --permissive\n",
			want:  []string{"selinux --permissive\n"},
		},
		{
			name:     "subscription",
			input:    "rhsm --organization=\"123\" --activation-key=\"secret-key\" --connect-to-insights\nsyspurpose --role=\"Server\" --sla=\"Premium\" --addon=\"a\"\n",
			want:     []string{"rhsm --organization=", "--connect-to-insights", "syspurpose --role="},
			withheld: []string{"secret-key"},
		},
		{
			name:     "runtime",
			input:    "text --non-interactive\nvnc --host=localhost --port=5901 --password=hunter2\n",
			want:     []string{"text --non-interactive\n", "vnc"},
			withheld: []string{"hunter2"},
		},
		{
			name: "payloads",
			input: `url --url="http://example.com/os" --noverifyssl
repo --name="updates" --baseurl=http://example.com/updates --cost=50 --install
%packages --nocore
@development-tools
vim
-nano
%end
`,
			want: []string{"url --url=", "--noverifyssl", "repo --name=", "%packages", "@development-tools\n", "vim\n", "-nano\n", "%end\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			var first string
			moduletest.OnLoop(t, f.env, func() {
				report := f.inst.ReadKickstart(tt.input)
				require.True(t, report.IsValid(), report.ErrorMessages)
				first = f.inst.GenerateKickstart()
			})
			for _, w := range tt.want {
				assert.Contains(t, first, w)
			}
			for _, w := range tt.withheld {
				assert.NotContains(t, first, w)
			}

			g := newFixture(t, nil, nil)
			moduletest.OnLoop(t, g.env, func() {
				report := g.inst.ReadKickstart(first)
				require.True(t, report.IsValid(), report.ErrorMessages)
				assert.Equal(t, first, g.inst.GenerateKickstart())
			})
		})
	}
}

func TestRequirementAggregation(t *testing.T) {
	hook := logrusTest.NewGlobal()
	defer hook.Reset()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(level)

	f := newFixture(t, nil, func(conf *bootconf.Config, b *installer.Builder) {
		conf.Orchestrator.Order = []string{"localization", "payloads"}
		b.AddRequirementSource(requirement.SourceFunc(func() []requirement.Requirement {
			return []requirement.Requirement{requirement.Group("platform-vmware", "P1")}
		}))
		b.AddRequirementSource(requirement.SourceFunc(func() []requirement.Requirement {
			return []requirement.Requirement{requirement.Package("drv-a", "D1")}
		}))
		b.AddRequirementSource(requirement.SourceFunc(func() []requirement.Requirement {
			return []requirement.Requirement{requirement.Package("boss-pkg", "R1")}
		}))
	})
	f.backend.AvailGroups = append(f.backend.AvailGroups, payload.GroupData{ID: "platform-vmware", Name: "VMware"})

	m, ok := f.inst.Module("payloads")
	require.True(t, ok)
	p := m.(*payloads.Module)

	var reqs []requirement.Requirement
	var validate func() error
	moduletest.OnLoop(t, f.env, func() {
		report := f.inst.ReadKickstart(`lang cs_CZ.UTF-8
%packages --nocore
-boss-pkg
%end
`)
		require.True(t, report.IsValid(), report.ErrorMessages)
		reqs = f.inst.CollectRequirements()
		vt := p.ValidatePackagesSelectionWithTask()
		validate = func() error {
			_, err := moduletest.RunTask(vt)
			return err
		}
	})

	require.Len(t, reqs, 4)
	assert.Equal(t, requirement.Package("drv-a", "D1"), reqs[2])
	require.NoError(t, validate())

	include, exclude := f.backend.Specs()
	require.GreaterOrEqual(t, len(include), 3)
	assert.Equal(t, []string{"langpacks-cs", "@platform-vmware", "drv-a"}, include[len(include)-3:])
	assert.NotContains(t, include, "boss-pkg")
	assert.Contains(t, exclude, "boss-pkg")

	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.DebugLevel && strings.Contains(e.Message, "boss-pkg") {
			found = true
		}
	}
	assert.True(t, found, "no debug line mentions the excluded requirement")
}

func TestInstallWithTasks(t *testing.T) {
	f := newFixture(t, nil, func(conf *bootconf.Config, _ *installer.Builder) {
		conf.Orchestrator.Order = []string{"storage", "timezone", "security"}
	})

	var names []string
	moduletest.OnLoop(t, f.env, func() {
		for _, tk := range f.inst.InstallWithTasks() {
			names = append(names, tk.Name())
		}
	})
	assert.Equal(t, []string{
		"Configure hardware clock",
		"Configure timezone",
		"Configure NTP",
		"Configure SELinux",
	}, names)
}

func TestInstallation(t *testing.T) {
	f := newFixture(t, nil, func(conf *bootconf.Config, _ *installer.Builder) {
		conf.Orchestrator.Order = []string{"localization", "timezone", "security", "payloads"}
		conf.Payload.ReleaseVer = "41"
	})
	test.WriteFile(t, f.conf.Payload.SystemReposDir, "fedora.repo", systemRepo)

	moduletest.OnLoop(t, f.env, func() {
		report := f.inst.ReadKickstart(`timezone Europe/Prague --utc
selinux --permissive
%packages
bash
%end
`)
		require.True(t, report.IsValid(), report.ErrorMessages)
		status, err := f.inst.StartInstallation()
		require.NoError(t, err)
		assert.Equal(t, common.RunRunning, status.State)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	status, err := f.inst.Orchestrator().Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, common.RunSucceeded, status.State, status.Error)
	assert.Equal(t, status.Steps, status.Step)
	assert.Equal(t, []telemetry.Kind{telemetry.Started, telemetry.Finished}, f.sink.events)

	sysroot := f.conf.Installation.Sysroot
	link, err := os.Readlink(filepath.Join(sysroot, "etc/localtime"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(link, "Europe/Prague"), link)
	assert.FileExists(t, filepath.Join(sysroot, "etc/locale.conf"))
	assert.Contains(t, test.ReadFile(t, sysroot, "etc/selinux/config"), "SELINUX=permissive")
	assert.ElementsMatch(t, []string{"bash", "chrony", "langpacks-en"}, f.backend.Installed)
}

func TestCancelWithoutRun(t *testing.T) {
	f := newFixture(t, nil, nil)
	err := f.inst.CancelInstallation()
	assert.Equal(t, installerrors.ErrorState, installerrors.KindOf(err))
}

func TestGeolocationDisabled(t *testing.T) {
	f := newFixture(t, bootconf.ParseCmdline("inst.geoloc=0"), nil)
	moduletest.OnLoop(t, f.env, func() {
		h, err := f.inst.StartGeolocation(context.Background())
		require.NoError(t, err)
		assert.Nil(t, h)
	})
}

func TestBossBusInterface(t *testing.T) {
	f := newFixture(t, nil, func(conf *bootconf.Config, _ *installer.Builder) {
		conf.Orchestrator.Order = []string{"localization", "timezone"}
	})
	moduletest.OnLoop(t, f.env, f.inst.Publish)
	ctx := context.Background()
	reg := f.env.Registry

	assert.Contains(t, reg.Objects(), bus.BossPath)
	assert.Contains(t, reg.Objects(), bus.ModulePath(timezone.Name))

	v, err := reg.Get(ctx, bus.BossPath, bus.BossInterface, "RunStatus")
	require.NoError(t, err)
	status, err := structure.FromVariant[installer.StatusData](v)
	require.NoError(t, err)
	assert.Equal(t, "IDLE", status.State)

	out, err := reg.Call(ctx, bus.BossPath, bus.BossInterface, "ReadKickstart",
		[]structure.Variant{structure.NewVariant(structure.SigString, "timezone Asia/Tokyo\n")})
	require.NoError(t, err)
	require.Len(t, out, 1)

	out, err = reg.Call(ctx, bus.BossPath, bus.BossInterface, "GenerateKickstart", nil)
	require.NoError(t, err)
	ks, err := structure.FromVariant[string](out[0])
	require.NoError(t, err)
	assert.Contains(t, ks, "timezone Asia/Tokyo")

	out, err = reg.Call(ctx, bus.BossPath, bus.BossInterface, "CollectRequirements", nil)
	require.NoError(t, err)
	reqs, err := structure.FromVariant[[]requirement.Requirement](out[0])
	require.NoError(t, err)
	var names []string
	for _, r := range reqs {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"langpacks-en", timezone.NTPPackage}, names)

	out, err = reg.Call(ctx, bus.BossPath, bus.BossInterface, "InstallWithTasks", nil)
	require.NoError(t, err)
	paths, err := structure.FromVariant[[]string](out[0])
	require.NoError(t, err)
	assert.Len(t, paths, 5)
	for _, p := range paths {
		assert.True(t, strings.HasPrefix(p, bus.BossPath+"/Tasks/"), p)
	}

	_, err = reg.Call(ctx, bus.BossPath, bus.BossInterface, "CancelInstallation", nil)
	assert.Equal(t, installerrors.ErrorState, installerrors.KindOf(err))
}

func TestInstallationProgressSignal(t *testing.T) {
	f := newFixture(t, nil, func(conf *bootconf.Config, _ *installer.Builder) {
		conf.Orchestrator.Order = []string{"timezone"}
	})
	moduletest.OnLoop(t, f.env, f.inst.Publish)
	reg := f.env.Registry
	sub := reg.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := reg.Call(ctx, bus.BossPath, bus.BossInterface, "StartInstallation", nil)
	require.NoError(t, err)

	var tasks, messages []string
	for {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		if ev.Signal != "InstallationProgress" {
			continue
		}
		require.Len(t, ev.Args, 4)
		name, err := structure.FromVariant[string](ev.Args[2])
		require.NoError(t, err)
		message, err := structure.FromVariant[string](ev.Args[3])
		require.NoError(t, err)
		tasks = append(tasks, name)
		messages = append(messages, message)
		if strings.HasPrefix(message, "Installation ") {
			break
		}
	}

	require.GreaterOrEqual(t, len(tasks), 2)
	assert.Equal(t, "Configure hardware clock", tasks[0])
	assert.Equal(t, "", tasks[len(tasks)-1])
	assert.Equal(t, "Installation succeeded", messages[len(messages)-1])
}

// Package timezone is the module owning the timezone, the hardware clock
// mode and the time sources.
package timezone

import (
	"context"

	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/priority"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/task"
)

const Name = "Timezone"

const (
	TimeSourceServer = "SERVER"
	TimeSourcePool   = "POOL"

	// NTPPackage provides the NTP daemon.
	NTPPackage = "chrony"
)

// TimeSourceData is an NTP server or pool.
type TimeSourceData struct {
	Type     string   `description:"Type of the time source: SERVER or POOL."`
	Hostname string   `structure:",required" description:"Name or address of the time source."`
	Options  []string `description:"Options of the time source, for example iburst or nts."`
}

func (d *TimeSourceData) SetDefaults() {
	d.Type = TimeSourceServer
	d.Options = []string{"iburst"}
}

func (d TimeSourceData) NTS() bool {
	for _, o := range d.Options {
		if o == "nts" {
			return true
		}
	}
	return false
}

// GeolocationData is the result of a geolocation lookup.
type GeolocationData struct {
	Territory string `description:"Two letter territory code."`
	Timezone  string `description:"Timezone of the territory."`
}

func (g GeolocationData) IsEmpty() bool {
	return g.Territory == "" && g.Timezone == ""
}

type Module struct {
	module.Base

	env   *module.Env
	zones *Zones

	timezone    *priority.Cell[string]
	isUTC       bool
	ntpEnabled  bool
	timeSources []TimeSourceData
	geolocation GeolocationData
}

func New(env *module.Env) *Module {
	conf := env.Config().Timezone
	m := &Module{
		Base:       module.NewBase(Name, "timezone", "timesource"),
		env:        env,
		zones:      LoadZones(conf.ZoneinfoDir),
		timezone:   priority.NewCell("timezone", conf.Default),
		ntpEnabled: true,
	}
	m.timezone.Changed.Connect(func(tz string) {
		m.Logger().Infof("timezone is set to %s", tz)
		m.PropertyChanged("Timezone")
	})
	return m
}

func (m *Module) Timezone() string {
	return m.timezone.Get()
}

// TimezoneCell is the cell holding the timezone, for probes that write
// with their own priority.
func (m *Module) TimezoneCell() *priority.Cell[string] {
	return m.timezone
}

// SetTimezone writes tz with priority p and reports whether it was applied.
func (m *Module) SetTimezone(tz string, p priority.Priority) bool {
	return m.timezone.Set(tz, p)
}

func (m *Module) IsUTC() bool {
	return m.isUTC
}

func (m *Module) SetIsUTC(utc bool) {
	m.isUTC = utc
	m.PropertyChanged("IsUTC")
}

func (m *Module) NTPEnabled() bool {
	return m.ntpEnabled
}

func (m *Module) SetNTPEnabled(enabled bool) {
	m.ntpEnabled = enabled
	m.PropertyChanged("NTPEnabled")
}

func (m *Module) TimeSources() []TimeSourceData {
	return structure.Clone(m.timeSources)
}

func (m *Module) SetTimeSources(sources []TimeSourceData) {
	m.timeSources = structure.Clone(sources)
	m.PropertyChanged("TimeSources")
}

func (m *Module) GeolocationResult() GeolocationData {
	return m.geolocation
}

// Zones returns the timezone database of the module.
func (m *Module) Zones() *Zones {
	return m.zones
}

// ApplyGeolocation stores the result of a lookup and proposes its timezone
// at GEOLOCATION priority.
func (m *Module) ApplyGeolocation(result GeolocationData) {
	m.geolocation = result
	m.PropertyChanged("GeolocationResult")
	if result.Timezone == "" {
		return
	}
	if !m.zones.IsValid(result.Timezone) {
		m.Logger().Warnf("geolocation returned an invalid timezone %q", result.Timezone)
		return
	}
	m.timezone.Set(result.Timezone, priority.Geolocation)
}

func newTimeSource(typ, hostname string, nts bool) TimeSourceData {
	ts := TimeSourceData{Hostname: hostname}
	ts.SetDefaults()
	ts.Type = typ
	if nts {
		ts.Options = append(ts.Options, "nts")
	}
	return ts
}

func (m *Module) ProcessKickstart(data *kickstart.Data) error {
	var sources []TimeSourceData
	if tz := data.Timezone; tz != nil {
		if tz.Timezone != "" {
			m.timezone.Set(tz.Timezone, priority.Kickstart)
		}
		m.SetIsUTC(tz.IsUTC)
		m.SetNTPEnabled(!tz.NoNTP)
		for _, host := range tz.NTPServers {
			sources = append(sources, newTimeSource(TimeSourceServer, host, false))
		}
	}
	if data.NTPDisabled {
		m.SetNTPEnabled(false)
	}
	for _, ts := range data.TimeSources {
		if ts.Pool != "" {
			sources = append(sources, newTimeSource(TimeSourcePool, ts.Pool, ts.NTS))
		} else {
			sources = append(sources, newTimeSource(TimeSourceServer, ts.Server, ts.NTS))
		}
	}
	if len(sources) > 0 {
		m.SetTimeSources(sources)
	}
	return nil
}

func (m *Module) SetupKickstart(data *kickstart.Data) {
	data.Timezone = &kickstart.Timezone{
		Timezone: m.timezone.Get(),
		IsUTC:    m.isUTC,
	}
	data.NTPDisabled = !m.ntpEnabled
	data.TimeSources = nil
	for _, ts := range m.timeSources {
		source := kickstart.TimeSource{NTS: ts.NTS()}
		if ts.Type == TimeSourcePool {
			source.Pool = ts.Hostname
		} else {
			source.Server = ts.Hostname
		}
		data.TimeSources = append(data.TimeSources, source)
	}
}

// CollectRequirements asks for the NTP daemon when NTP is enabled.
func (m *Module) CollectRequirements() []requirement.Requirement {
	if !m.ntpEnabled {
		return nil
	}
	return []requirement.Requirement{
		requirement.Package(NTPPackage, "Needed to run NTP service."),
	}
}

func (m *Module) InstallWithTasks() []task.Task {
	conf := m.env.Config()
	return []task.Task{
		NewConfigureHardwareClockTask(m.env.Sysroot(), m.isUTC, m.env.Flags != nil && m.env.Flags.S390),
		NewConfigureTimezoneTask(m.env.Sysroot(), m.timezone.Get(), conf.Timezone.Default, m.zones),
		NewConfigureNTPTask(m.env.Sysroot(), conf.Timezone.NTPConfig, m.ntpEnabled, m.TimeSources()),
	}
}

// StartGeolocation starts a lookup on the task pool. The result is applied
// on the control loop when the task succeeds.
func (m *Module) StartGeolocation(ctx context.Context) (*task.Handle, error) {
	h := m.GeolocationHandle()
	if err := m.env.Pool.StartHandle(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// GeolocationHandle returns a handle for a new lookup that applies its
// result when it succeeds. It is not started.
func (m *Module) GeolocationHandle() *task.Handle {
	conf := m.env.Config().Timezone
	h := task.NewHandle(NewGeolocationTask(conf.GeolocationProvider, conf.GeolocationTimeout, m.zones), m.env.Loop)
	h.Succeeded.Connect(func(result interface{}) {
		if data, ok := result.(GeolocationData); ok {
			m.ApplyGeolocation(data)
		}
	})
	h.Failed.Connect(func(err error) {
		m.Logger().Warnf("geolocation failed: %v", err)
	})
	return h
}

func (m *Module) Publish(env *module.Env) {
	iface := &bus.Interface{
		Name: m.Interface(),
		Properties: []bus.Property{
			bus.ReadWrite("Timezone", m.Timezone, func(_ context.Context, tz string) error {
				m.timezone.SetUnprioritized(tz)
				return nil
			}),
			bus.ReadWrite("IsUTC", m.IsUTC, func(_ context.Context, v bool) error {
				m.SetIsUTC(v)
				return nil
			}),
			bus.ReadWrite("NTPEnabled", m.NTPEnabled, func(_ context.Context, v bool) error {
				m.SetNTPEnabled(v)
				return nil
			}),
			bus.ReadWrite("TimeSources", m.TimeSources, func(_ context.Context, v []TimeSourceData) error {
				m.SetTimeSources(v)
				return nil
			}),
			bus.ReadOnly("GeolocationResult", m.GeolocationResult),
		},
		Methods: []bus.Method{
			{
				Name: "SetTimezoneWithPriority",
				In: []bus.Arg{
					{Name: "timezone", Signature: structure.SigString},
					{Name: "priority", Signature: structure.SigInt},
				},
				Call: func(_ context.Context, args []structure.Variant) ([]structure.Variant, error) {
					tz, err := structure.FromVariant[string](args[0])
					if err != nil {
						return nil, installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "invalid timezone")
					}
					p, err := structure.FromVariant[int](args[1])
					if err != nil {
						return nil, installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "invalid priority")
					}
					m.timezone.Set(tz, priority.Priority(p))
					return nil, nil
				},
			},
			bus.Query("GetTimezones", func(context.Context) (map[string][]string, error) {
				return m.zones.All(), nil
			}),
			bus.Query("StartGeolocationWithTask", func(context.Context) (string, error) {
				h := m.GeolocationHandle()
				path := env.Registry.NextTaskPath(bus.ModulePath(Name))
				bus.PublishTask(env.Registry, path, h, func(h *task.Handle) error {
					return env.Pool.StartHandle(context.Background(), h)
				})
				return path, nil
			}),
		},
	}
	module.Publish(env, m, &m.Base, iface)
}

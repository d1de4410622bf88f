// Package module defines the contract of the installer modules and the
// bus interface they all share.
package module

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/loop"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/task"
	"github.com/osbuild/installer-core/internal/validation"
)

// Module is a cohesive part of the installer state.
//
// All methods run on the control loop.
type Module interface {
	requirement.Source

	// Name is the bus name of the module, for example "Timezone".
	Name() string
	// KickstartCommands are the kickstart commands and sections the
	// module owns.
	KickstartCommands() []string
	// ProcessKickstart seeds the module from kickstart data at KICKSTART
	// priority.
	ProcessKickstart(data *kickstart.Data) error
	// SetupKickstart writes the module state back into data.
	SetupKickstart(data *kickstart.Data)
	// InstallWithTasks returns the installation tasks in execution order.
	InstallWithTasks() []task.Task
	// Publish registers the module on the bus of env.
	Publish(env *Env)
}

// Env is handed to every module by the installer.
type Env struct {
	Loop     *loop.Loop
	Registry *bus.Registry
	Pool     *task.Pool
	Flags    *bootconf.Flags
}

// Config returns the configuration the installer was started with.
func (e *Env) Config() *bootconf.Config {
	if e.Flags == nil || e.Flags.Config == nil {
		return bootconf.GetDefaultConfig()
	}
	return e.Flags.Config
}

// Sysroot is the root of the installed system.
func (e *Env) Sysroot() string {
	return e.Config().Installation.Sysroot
}

// Base carries what all modules have in common. Modules embed it.
type Base struct {
	name        string
	commands    []string
	kickstarted bool
	handle      *bus.Handle
}

func NewBase(name string, commands ...string) Base {
	return Base{name: name, commands: commands}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) KickstartCommands() []string {
	return append([]string(nil), b.commands...)
}

// Kickstarted reports whether the module was configured by a kickstart.
func (b *Base) Kickstarted() bool {
	return b.kickstarted
}

func (b *Base) SetKickstarted(kickstarted bool) {
	b.kickstarted = kickstarted
	b.Changed(bus.KickstartModuleInterface, "Kickstarted")
}

func (b *Base) Handle() *bus.Handle {
	return b.handle
}

// Interface is the name of the module specific bus interface.
func (b *Base) Interface() string {
	return bus.ModuleInterface(b.name)
}

// Changed announces a property change of the published module. It is a
// no-op before Publish.
func (b *Base) Changed(iface, property string) {
	if b.handle != nil {
		b.handle.PropertyChanged(iface, property)
	}
}

// PropertyChanged is Changed for the module specific interface.
func (b *Base) PropertyChanged(property string) {
	b.Changed(b.Interface(), property)
}

func (b *Base) Logger() *logrus.Entry {
	return logrus.WithField("module", b.name)
}

// Kickstarted is implemented by modules embedding Base.
type Kickstarted interface {
	Kickstarted() bool
	SetKickstarted(bool)
}

// ReadKickstart parses text and lets m process it. Problems end up in the
// returned report.
func ReadKickstart(m Module, text string) *validation.Report {
	report := &validation.Report{}
	data, err := kickstart.ParseString(text)
	if err != nil {
		report.AddError("%s", err.Error())
		return report
	}
	if err := m.ProcessKickstart(data); err != nil {
		report.AddError("%s", err.Error())
		return report
	}
	if k, ok := m.(Kickstarted); ok {
		k.SetKickstarted(true)
	}
	return report
}

// GenerateKickstart returns the kickstart of the module alone.
func GenerateKickstart(m Module) string {
	data := &kickstart.Data{}
	m.SetupKickstart(data)
	return data.String()
}

// PublishTasks publishes every task on the bus under the module path and
// returns the task paths. Start runs a task on the pool of env.
func PublishTasks(env *Env, owner string, tasks []task.Task) []string {
	paths := make([]string, 0, len(tasks))
	for _, t := range tasks {
		h := task.NewHandle(t, env.Loop)
		path := env.Registry.NextTaskPath(owner)
		bus.PublishTask(env.Registry, path, h, func(h *task.Handle) error {
			return env.Pool.StartHandle(context.Background(), h)
		})
		h.Stopped.Connect(func(struct{}) {
			logrus.WithField("path", path).Debugf("%s stopped", h)
		})
		paths = append(paths, path)
	}
	return paths
}

// Publish publishes m at its module path with the shared kickstart
// interface followed by ifaces.
func Publish(env *Env, m Module, base *Base, ifaces ...*bus.Interface) *bus.Handle {
	path := bus.ModulePath(m.Name())
	common := &bus.Interface{
		Name: bus.KickstartModuleInterface,
		Properties: []bus.Property{
			bus.ReadOnly("KickstartCommands", m.KickstartCommands),
			bus.ReadOnly("Kickstarted", base.Kickstarted),
		},
		Methods: []bus.Method{
			bus.Function("ReadKickstart", "kickstart", func(_ context.Context, text string) (validation.Report, error) {
				return *ReadKickstart(m, text), nil
			}),
			bus.Query("GenerateKickstart", func(context.Context) (string, error) {
				return GenerateKickstart(m), nil
			}),
			bus.Query("CollectRequirements", func(context.Context) ([]requirement.Requirement, error) {
				reqs := m.CollectRequirements()
				if reqs == nil {
					reqs = []requirement.Requirement{}
				}
				return reqs, nil
			}),
			bus.Query("InstallWithTasks", func(context.Context) ([]string, error) {
				return PublishTasks(env, path, m.InstallWithTasks()), nil
			}),
		},
	}
	base.handle = env.Registry.Publish(path, append([]*bus.Interface{common}, ifaces...)...)
	base.Logger().Debugf("published at %s", path)
	return base.handle
}

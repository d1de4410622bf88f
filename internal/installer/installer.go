// Package installer builds the installer modules, wires them together and
// drives the installation.
package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/dnfjson"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/jsondb"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/modules/localization"
	"github.com/osbuild/installer-core/internal/modules/payloads"
	"github.com/osbuild/installer-core/internal/modules/runtime"
	"github.com/osbuild/installer-core/internal/modules/security"
	"github.com/osbuild/installer-core/internal/modules/subscription"
	"github.com/osbuild/installer-core/internal/modules/timezone"
	"github.com/osbuild/installer-core/internal/orchestrator"
	"github.com/osbuild/installer-core/internal/payload"
	"github.com/osbuild/installer-core/internal/priority"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/task"
	"github.com/osbuild/installer-core/internal/telemetry"
	"github.com/osbuild/installer-core/internal/validation"
)

// constructor creates the module registered under a name of the
// installation order.
type constructor func(env *module.Env, backend payload.Backend) module.Module

var constructors = map[string]constructor{
	"localization": func(env *module.Env, _ payload.Backend) module.Module { return localization.New(env) },
	"timezone":     func(env *module.Env, _ payload.Backend) module.Module { return timezone.New(env) },
	"security":     func(env *module.Env, _ payload.Backend) module.Module { return security.New(env) },
	"subscription": func(env *module.Env, _ payload.Backend) module.Module { return subscription.New(env) },
	"payloads":     func(env *module.Env, b payload.Backend) module.Module { return payloads.New(env, b) },
	"runtime":      func(env *module.Env, _ payload.Backend) module.Module { return runtime.New(env) },
}

// Builder collects the collaborators of an Installer.
type Builder struct {
	env     *module.Env
	backend payload.Backend
	sink    telemetry.Sink
	db      *jsondb.JSONDatabase
	sources []requirement.Source
}

func NewBuilder(env *module.Env) *Builder {
	return &Builder{env: env}
}

// WithBackend sets the package manager backend. The dnf-json helper from
// the configuration is used otherwise.
func (b *Builder) WithBackend(backend payload.Backend) *Builder {
	b.backend = backend
	return b
}

func (b *Builder) WithTelemetry(sink telemetry.Sink) *Builder {
	b.sink = sink
	return b
}

// WithStateDB sets where the status of the last run is kept. The state
// directory of the configuration is used otherwise.
func (b *Builder) WithStateDB(db *jsondb.JSONDatabase) *Builder {
	b.db = db
	return b
}

// AddRequirementSource adds requirements that do not come from a module,
// for example from driver disks.
func (b *Builder) AddRequirementSource(source requirement.Source) *Builder {
	b.sources = append(b.sources, source)
	return b
}

// Build constructs the modules in the declared installation order. Names
// without a constructor belong to services outside of the installer core
// and are skipped.
func (b *Builder) Build() (*Installer, error) {
	conf := b.env.Config()

	backend := b.backend
	if backend == nil {
		dnf := dnfjson.NewBackend(conf.Payload.CacheDir)
		dnf.SetDNFJSONPath(conf.Payload.DNFHelper)
		backend = dnf
	}

	db := b.db
	if db == nil {
		if conf.Installation.StateDir == "" {
			return nil, installerrors.New(installerrors.ErrorInvalidRequest, "no state directory configured")
		}
		dir := filepath.Join(conf.Installation.StateDir, "runs")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("cannot create the state directory: %v", err)
		}
		db = jsondb.New(dir, 0600)
	}

	sink := b.sink
	if sink == nil {
		multi, err := telemetry.New(conf.Logging)
		if err != nil {
			return nil, err
		}
		sink = multi
	}

	inst := &Installer{
		env:     b.env,
		order:   append([]string(nil), conf.Orchestrator.Order...),
		byName:  map[string]module.Module{},
		sources: append([]requirement.Source(nil), b.sources...),
		sink:    sink,
	}
	for _, name := range inst.order {
		key := strings.ToLower(name)
		ctor, ok := constructors[key]
		if !ok {
			logrus.Debugf("%s is not provided by the installer core", name)
			continue
		}
		if _, exists := inst.byName[key]; exists {
			continue
		}
		m := ctor(b.env, backend)
		inst.modules = append(inst.modules, m)
		inst.byName[key] = m
	}
	if p, ok := inst.byName["payloads"].(*payloads.Module); ok {
		p.SetRequirementsSource(requirement.SourceFunc(inst.CollectRequirements))
	}
	inst.orchestrator = orchestrator.New(b.env.Loop, sink, db, conf.Orchestrator)
	inst.connectLanguage()

	logrus.Infof("installer built with %d modules", len(inst.modules))
	return inst, nil
}

// Installer owns the modules and the orchestrator. Apart from the
// orchestrator state, it must be used on the control loop.
type Installer struct {
	env          *module.Env
	order        []string
	modules      []module.Module
	byName       map[string]module.Module
	sources      []requirement.Source
	sink         telemetry.Sink
	orchestrator *orchestrator.Orchestrator
}

// Modules returns the modules in installation order.
func (i *Installer) Modules() []module.Module {
	return append([]module.Module(nil), i.modules...)
}

// Module looks a module up by its name, case insensitively.
func (i *Installer) Module(name string) (module.Module, bool) {
	m, ok := i.byName[strings.ToLower(name)]
	return m, ok
}

func (i *Installer) Orchestrator() *orchestrator.Orchestrator {
	return i.orchestrator
}

func (i *Installer) timezone() *timezone.Module {
	m, _ := i.byName["timezone"].(*timezone.Module)
	return m
}

func (i *Installer) localization() *localization.Module {
	m, _ := i.byName["localization"].(*localization.Module)
	return m
}

// connectLanguage proposes the timezone of the selected language.
func (i *Installer) connectLanguage() {
	loc, tz := i.localization(), i.timezone()
	if loc == nil || tz == nil {
		return
	}
	cell := loc.LanguageCell()
	apply := func(lang string) {
		d, ok := localization.DefaultsFor(lang)
		if !ok || d.Timezone == "" {
			return
		}
		if tz.SetTimezone(d.Timezone, priority.Language) {
			logrus.Debugf("timezone %s proposed for language %s", d.Timezone, lang)
		}
	}
	cell.Changed.Connect(apply)
	if cell.Priority() > priority.Default {
		apply(cell.Get())
	}
}

// Publish publishes the modules and the boss object.
func (i *Installer) Publish() {
	for _, m := range i.modules {
		m.Publish(i.env)
	}
	i.publishBoss()
}

// CollectRequirements concatenates the requirements of all modules and of
// the additional sources.
func (i *Installer) CollectRequirements() []requirement.Requirement {
	sources := make([]requirement.Source, 0, len(i.modules)+len(i.sources))
	for _, m := range i.modules {
		sources = append(sources, m)
	}
	sources = append(sources, i.sources...)
	return requirement.Collect(sources...)
}

// ReadKickstart parses text once and hands it to every module. Modules
// owning a command present in text are marked as kickstarted.
func (i *Installer) ReadKickstart(text string) *validation.Report {
	report := &validation.Report{}
	data, err := kickstart.ParseString(text)
	if err != nil {
		report.AddError("%s", err.Error())
		return report
	}
	for _, m := range i.modules {
		if err := m.ProcessKickstart(data); err != nil {
			report.AddError("%s", err.Error())
			continue
		}
		k, ok := m.(module.Kickstarted)
		if !ok {
			continue
		}
		for _, cmd := range m.KickstartCommands() {
			if data.Has(cmd) {
				k.SetKickstarted(true)
				break
			}
		}
	}
	if report.IsValid() {
		logrus.Infof("kickstart processed by %d modules", len(i.modules))
	}
	return report
}

// ReadKickstartFile is ReadKickstart for the content of path.
func (i *Installer) ReadKickstartFile(path string) (*validation.Report, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "cannot read the kickstart file")
	}
	return i.ReadKickstart(string(text)), nil
}

// GenerateKickstart renders the state of all modules.
func (i *Installer) GenerateKickstart() string {
	data := &kickstart.Data{}
	for _, m := range i.modules {
		m.SetupKickstart(data)
	}
	return data.String()
}

// InstallWithTasks returns the installation tasks of all modules in the
// declared order.
func (i *Installer) InstallWithTasks() []task.Task {
	return orchestrator.CollectTasks(i.byName, i.order)
}

// geolocationHandle returns an unstarted geolocation lookup, or nil when
// geolocation is disabled on the boot command line or there is no
// timezone module.
func (i *Installer) geolocationHandle() *task.Handle {
	tz := i.timezone()
	if tz == nil {
		return nil
	}
	if f := i.env.Flags; f != nil && !f.Geolocation {
		logrus.Info("geolocation is disabled")
		return nil
	}
	return tz.GeolocationHandle()
}

// StartGeolocation starts the geolocation lookup of the timezone module
// on the task pool. It returns nil when geolocation is disabled.
func (i *Installer) StartGeolocation(ctx context.Context) (*task.Handle, error) {
	h := i.geolocationHandle()
	if h == nil {
		return nil, nil
	}
	if err := i.env.Pool.StartHandle(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// StartInstallation collects the installation tasks and starts running
// them in the background.
func (i *Installer) StartInstallation() (orchestrator.RunStatus, error) {
	return i.orchestrator.Start(i.InstallWithTasks())
}

func (i *Installer) CancelInstallation() error {
	return i.orchestrator.Cancel()
}

// Status returns the status of the current or the last run.
func (i *Installer) Status() orchestrator.RunStatus {
	return i.orchestrator.Status()
}

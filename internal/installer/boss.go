package installer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/orchestrator"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/validation"
)

// StatusData is the RunStatus property of the boss.
type StatusData struct {
	ID        string   `description:"Identifier of the run."`
	State     string   `structure:",required" description:"IDLE, RUNNING, SUCCEEDED, FAILED or ABORTED."`
	Task      string   `description:"Name of the running or the last task."`
	Step      int      `description:"Finished steps."`
	Steps     int      `description:"Steps of all tasks."`
	Warnings  []string `description:"Non-critical errors of the run."`
	Error     string   `description:"Error that ended the run."`
	ErrorName string   `description:"Bus name of the error kind."`
	Started   string   `description:"Start time in RFC 3339 format."`
	Finished  string   `description:"End time in RFC 3339 format."`
}

func statusData(s orchestrator.RunStatus) StatusData {
	d := StatusData{
		ID:        s.ID,
		State:     s.State.String(),
		Task:      s.Task,
		Step:      s.Step,
		Steps:     s.Steps,
		Warnings:  append([]string{}, s.Warnings...),
		Error:     s.Error,
		ErrorName: s.ErrorName,
	}
	if !s.Started.IsZero() {
		d.Started = s.Started.Format(time.RFC3339)
	}
	if !s.Finished.IsZero() {
		d.Finished = s.Finished.Format(time.RFC3339)
	}
	return d
}

func (i *Installer) publishBoss() {
	env := i.env
	iface := &bus.Interface{
		Name: bus.BossInterface,
		Properties: []bus.Property{
			bus.ReadOnly("RunStatus", func() StatusData {
				return statusData(i.Status())
			}),
			bus.ReadOnly("Modules", func() []string {
				paths := make([]string, 0, len(i.modules))
				for _, m := range i.modules {
					paths = append(paths, bus.ModulePath(m.Name()))
				}
				return paths
			}),
		},
		Methods: []bus.Method{
			bus.Function("ReadKickstartFile", "path", func(_ context.Context, path string) (validation.Report, error) {
				report, err := i.ReadKickstartFile(path)
				if err != nil {
					return validation.Report{}, err
				}
				return *report, nil
			}),
			bus.Function("ReadKickstart", "kickstart", func(_ context.Context, text string) (validation.Report, error) {
				return *i.ReadKickstart(text), nil
			}),
			bus.Query("GenerateKickstart", func(context.Context) (string, error) {
				return i.GenerateKickstart(), nil
			}),
			bus.Query("CollectRequirements", func(context.Context) ([]requirement.Requirement, error) {
				reqs := i.CollectRequirements()
				if reqs == nil {
					reqs = []requirement.Requirement{}
				}
				return reqs, nil
			}),
			bus.Query("InstallWithTasks", func(context.Context) ([]string, error) {
				return module.PublishTasks(env, bus.BossPath, i.InstallWithTasks()), nil
			}),
			bus.Query("StartGeolocationWithTask", func(context.Context) (string, error) {
				h := i.geolocationHandle()
				if h == nil {
					return "", nil
				}
				path := env.Registry.NextTaskPath(bus.BossPath)
				bus.PublishTask(env.Registry, path, h, nil)
				return path, env.Pool.StartHandle(context.Background(), h)
			}),
			bus.Query("StartInstallation", func(context.Context) (StatusData, error) {
				status, err := i.StartInstallation()
				if err != nil {
					return StatusData{}, err
				}
				return statusData(status), nil
			}),
			bus.Action("CancelInstallation", func(context.Context) error {
				return i.CancelInstallation()
			}),
		},
		Signals: []bus.SignalSpec{
			bus.Signal("InstallationProgress",
				bus.Arg{Name: "step", Signature: structure.SigInt},
				bus.Arg{Name: "total", Signature: structure.SigInt},
				bus.Arg{Name: "task", Signature: structure.SigString},
				bus.Arg{Name: "message", Signature: structure.SigString}),
		},
	}
	handle := env.Registry.Publish(bus.BossPath, iface)

	i.orchestrator.StatusChanged.Connect(func(orchestrator.RunStatus) {
		handle.PropertyChanged(bus.BossInterface, "RunStatus")
	})
	i.orchestrator.ProgressChanged.Connect(func(p orchestrator.Progress) {
		handle.EmitSignal(bus.BossInterface, "InstallationProgress",
			structure.NewVariant(structure.SigInt, int64(p.Step)),
			structure.NewVariant(structure.SigInt, int64(p.Total)),
			structure.NewVariant(structure.SigString, p.Task),
			structure.NewVariant(structure.SigString, p.Message))
	})
	logrus.Debugf("boss published at %s", bus.BossPath)
}

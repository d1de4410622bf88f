package bus

import (
	"context"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/task"
)

// TaskProgress is the Progress property of a published task.
type TaskProgress struct {
	Step    int
	Message string
}

// Starter starts a published task, on a pool for example.
type Starter func(h *task.Handle) error

// PublishTask exposes a task handle at path under the Task interface. The
// Start method calls start, or starts the handle on its own goroutine when
// start is nil.
func PublishTask(reg *Registry, path string, h *task.Handle, start Starter) *Handle {
	if start == nil {
		start = func(h *task.Handle) error {
			return h.Start(context.Background())
		}
	}

	iface := &Interface{
		Name: TaskInterface,
		Properties: []Property{
			ReadOnly("Name", h.Name),
			ReadOnly("Steps", h.Steps),
			ReadOnly("IsRunning", h.IsRunning),
			ReadOnly("Progress", func() TaskProgress {
				p := h.Progress()
				return TaskProgress{Step: p.Step, Message: p.Message}
			}),
		},
		Methods: []Method{
			Action("Start", func(context.Context) error {
				return start(h)
			}),
			Action("Cancel", func(context.Context) error {
				h.Cancel()
				return nil
			}),
			Action("Finish", func(context.Context) error {
				_, err := h.Finish()
				if err == nil {
					return nil
				}
				switch installerrors.KindOf(err) {
				case installerrors.ErrorNotReady, installerrors.ErrorCancelled:
					return err
				}
				return installerrors.Wrap(installerrors.ErrorTaskFailure, err, "")
			}),
		},
		Signals: []SignalSpec{
			Signal("Started"),
			Signal("ProgressChanged", Arg{Name: "step", Signature: structure.SigInt}, Arg{Name: "message", Signature: structure.SigString}),
			Signal("Succeeded"),
			Signal("Failed", Arg{Name: "error", Signature: structure.SigString}, Arg{Name: "name", Signature: structure.SigString}),
			Signal("Stopped"),
		},
	}
	handle := reg.Publish(path, iface)

	h.Started.Connect(func(struct{}) {
		handle.PropertyChanged(TaskInterface, "IsRunning")
		handle.EmitSignal(TaskInterface, "Started")
	})
	h.ProgressChanged.Connect(func(p task.Progress) {
		handle.PropertyChanged(TaskInterface, "Progress")
		handle.EmitSignal(TaskInterface, "ProgressChanged",
			structure.NewVariant(structure.SigInt, int64(p.Step)),
			structure.NewVariant(structure.SigString, p.Message))
	})
	h.Succeeded.Connect(func(interface{}) {
		handle.EmitSignal(TaskInterface, "Succeeded")
	})
	h.Failed.Connect(func(err error) {
		handle.EmitSignal(TaskInterface, "Failed",
			structure.NewVariant(structure.SigString, err.Error()),
			structure.NewVariant(structure.SigString, installerrors.KindOf(err).BusName()))
	})
	h.Stopped.Connect(func(struct{}) {
		handle.PropertyChanged(TaskInterface, "IsRunning")
		handle.EmitSignal(TaskInterface, "Stopped")
	})
	return handle
}

// Package task implements cancellable, progress reporting units of work.
package task

import (
	"context"
	"errors"

	"github.com/osbuild/installer-core/internal/installerrors"
)

// Reporter receives progress from a running task.
type Reporter interface {
	// ReportProgress publishes a message for the current step.
	ReportProgress(message string)
	// ReportStep moves to step and publishes a message for it.
	ReportStep(step int, message string)
}

// Task is a unit of work. Run blocks until the work is done, fails or ctx
// is cancelled, and is never called twice.
type Task interface {
	Name() string
	Run(ctx context.Context, r Reporter) (interface{}, error)
}

// Stepper is implemented by tasks that report more than one step.
type Stepper interface {
	Steps() int
}

// Steps returns the number of progress steps of t, at least one.
func Steps(t Task) int {
	if s, ok := t.(Stepper); ok && s.Steps() > 0 {
		return s.Steps()
	}
	return 1
}

type funcTask struct {
	name  string
	steps int
	fn    func(ctx context.Context, r Reporter) (interface{}, error)
}

func (t *funcTask) Name() string {
	return t.name
}

func (t *funcTask) Steps() int {
	return t.steps
}

func (t *funcTask) Run(ctx context.Context, r Reporter) (interface{}, error) {
	return t.fn(ctx, r)
}

// New returns a single step task running fn.
func New(name string, fn func(ctx context.Context, r Reporter) error) Task {
	return &funcTask{
		name:  name,
		steps: 1,
		fn: func(ctx context.Context, r Reporter) (interface{}, error) {
			return nil, fn(ctx, r)
		},
	}
}

// NewWithResult returns a task with a result and steps progress steps.
func NewWithResult(name string, steps int, fn func(ctx context.Context, r Reporter) (interface{}, error)) Task {
	return &funcTask{name: name, steps: steps, fn: fn}
}

type teardownTask struct {
	Task
}

func (t *teardownTask) Steps() int {
	return Steps(t.Task)
}

// Teardown marks t as a task that also runs after the installation failed
// or was cancelled.
func Teardown(t Task) Task {
	return &teardownTask{Task: t}
}

func IsTeardown(t Task) bool {
	_, ok := t.(*teardownTask)
	return ok
}

// Classify turns the error returned by a task into an installer error:
// context cancellation becomes Cancelled and errors without a kind become
// InstallationError.
func Classify(err error) *installerrors.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if installerrors.Is(err, installerrors.ErrorCancelled) {
			var e *installerrors.Error
			errors.As(err, &e)
			return e
		}
		return installerrors.Wrap(installerrors.ErrorCancelled, err, "task cancelled")
	}
	var e *installerrors.Error
	if errors.As(err, &e) && e.Kind != installerrors.ErrorUnknown {
		return e
	}
	return installerrors.Wrap(installerrors.ErrorInstallation, err, "")
}

// IsFatal reports whether err stops a sequence of tasks.
func IsFatal(err error) bool {
	return err != nil && !installerrors.Is(err, installerrors.ErrorNonCritical)
}

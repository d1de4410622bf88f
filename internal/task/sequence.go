package task

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/osbuild/installer-core/internal/installerrors"
)

// Sequence runs its children in order as a single task. Progress of each
// child is offset by the steps of the children before it.
//
// A NonCriticalError of a child is collected and the sequence goes on. Any
// other error, cancellation included, stops it.
type Sequence struct {
	name  string
	tasks []Task
}

func NewSequence(name string, tasks ...Task) *Sequence {
	return &Sequence{name: name, tasks: tasks}
}

func (s *Sequence) Name() string {
	return s.name
}

func (s *Sequence) Tasks() []Task {
	return s.tasks
}

func (s *Sequence) Steps() int {
	total := 0
	for _, t := range s.tasks {
		total += Steps(t)
	}
	if total == 0 {
		return 1
	}
	return total
}

func (s *Sequence) Run(ctx context.Context, r Reporter) (interface{}, error) {
	var warnings *multierror.Error
	offset := 0
	for _, t := range s.tasks {
		if err := ctx.Err(); err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorCancelled, err, "%s cancelled before %s", s.name, t.Name())
		}

		steps := Steps(t)
		r.ReportStep(offset, t.Name())
		_, err := runChild(ctx, t, &scaledReporter{parent: r, offset: offset, steps: steps})
		if err != nil {
			classified := Classify(err)
			if IsFatal(classified) {
				return nil, classified
			}
			warnings = multierror.Append(warnings, classified)
		}
		offset += steps
	}
	r.ReportStep(offset, s.name+" finished")

	if warnings.ErrorOrNil() != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, warnings, "")
	}
	return nil, nil
}

func runChild(ctx context.Context, t Task, r Reporter) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = installerrors.Installation("task %q crashed: %v", t.Name(), p)
		}
	}()
	return t.Run(ctx, r)
}

type scaledReporter struct {
	parent Reporter
	offset int
	steps  int
}

func (r *scaledReporter) ReportProgress(message string) {
	r.parent.ReportProgress(message)
}

func (r *scaledReporter) ReportStep(step int, message string) {
	if step > r.steps {
		step = r.steps
	}
	if step < 0 {
		step = 0
	}
	r.parent.ReportStep(r.offset+step, message)
}

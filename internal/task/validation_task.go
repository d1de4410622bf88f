package task

import (
	"context"

	"github.com/osbuild/installer-core/internal/validation"
)

// ValidationTask is a task whose result is a *validation.Report. Success
// means the validation ran, the report may still contain errors.
type ValidationTask struct {
	name       string
	validators []validation.Validator
}

func NewValidationTask(name string, validators ...validation.Validator) *ValidationTask {
	return &ValidationTask{name: name, validators: validators}
}

func (t *ValidationTask) Name() string {
	return t.name
}

func (t *ValidationTask) Run(ctx context.Context, r Reporter) (interface{}, error) {
	r.ReportProgress("Validating " + t.name)
	report, err := validation.Run(ctx, t.validators...)
	if err != nil {
		return nil, err
	}
	return report, nil
}

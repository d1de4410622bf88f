// Package validation collects errors and warnings about the installer
// state.
package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/installerrors"
)

// Report is the result of a validation. It is valid iff it has no errors.
type Report struct {
	ErrorMessages   []string
	WarningMessages []string
}

func (r *Report) IsValid() bool {
	return len(r.ErrorMessages) == 0
}

func (r *Report) AddError(format string, args ...interface{}) {
	r.ErrorMessages = append(r.ErrorMessages, fmt.Sprintf(format, args...))
}

func (r *Report) AddWarning(format string, args ...interface{}) {
	r.WarningMessages = append(r.WarningMessages, fmt.Sprintf(format, args...))
}

// Merge appends the messages of the other reports, keeping their order.
func (r *Report) Merge(others ...*Report) {
	for _, o := range others {
		if o == nil {
			continue
		}
		r.ErrorMessages = append(r.ErrorMessages, o.ErrorMessages...)
		r.WarningMessages = append(r.WarningMessages, o.WarningMessages...)
	}
}

// AllMessages returns the errors followed by the warnings.
func (r *Report) AllMessages() []string {
	out := make([]string, 0, len(r.ErrorMessages)+len(r.WarningMessages))
	out = append(out, r.ErrorMessages...)
	return append(out, r.WarningMessages...)
}

// Err returns a ValidationError describing the errors of an invalid
// report, or nil.
func (r *Report) Err() error {
	if r.IsValid() {
		return nil
	}
	return installerrors.New(installerrors.ErrorValidation, "%s", strings.Join(r.ErrorMessages, "\n"))
}

// Validator inspects installer state. It must not modify it.
type Validator func(ctx context.Context) (*Report, error)

// Run runs the validators in order and merges their reports. A validator
// that fails or panics fails the whole run with an InstallationError and no
// report.
func Run(ctx context.Context, validators ...Validator) (report *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("validator panicked: %v", r)
			report = nil
			err = installerrors.Installation("validation failed unexpectedly: %v", r)
		}
	}()

	report = &Report{}
	for _, v := range validators {
		if err := ctx.Err(); err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorCancelled, err, "validation cancelled")
		}
		r, err := v(ctx)
		if err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "validation failed unexpectedly")
		}
		report.Merge(r)
	}
	return report, nil
}

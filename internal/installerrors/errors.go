// Package installerrors defines the error kinds shared by the installer
// core. Programs discriminate on the Kind of an error, never on its
// message.
package installerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// ErrorUnknown is reported for errors that carry no kind.
	ErrorUnknown Kind = iota
	ErrorValidation
	ErrorNonCritical
	ErrorInstallation
	ErrorSourceSetup
	ErrorSchema
	ErrorInvalidRequest
	ErrorState
	ErrorNotReady
	ErrorTaskFailure
	ErrorCancelled
)

const busErrorPrefix = "org.fedoraproject.Anaconda.Error."

type kindInfo struct {
	kind       Kind
	name       string
	httpStatus int
}

func getKinds() []kindInfo {
	return []kindInfo{
		{ErrorUnknown, "Unknown", http.StatusInternalServerError},
		{ErrorValidation, "ValidationError", http.StatusUnprocessableEntity},
		{ErrorNonCritical, "NonCriticalError", http.StatusInternalServerError},
		{ErrorInstallation, "InstallationError", http.StatusInternalServerError},
		{ErrorSourceSetup, "SourceSetupError", http.StatusInternalServerError},
		{ErrorSchema, "SchemaError", http.StatusBadRequest},
		{ErrorInvalidRequest, "InvalidRequest", http.StatusBadRequest},
		{ErrorState, "StateError", http.StatusConflict},
		{ErrorNotReady, "NotReady", http.StatusServiceUnavailable},
		{ErrorTaskFailure, "TaskFailure", http.StatusInternalServerError},
		{ErrorCancelled, "Cancelled", http.StatusConflict},
	}
}

func find(kind Kind) kindInfo {
	for _, k := range getKinds() {
		if k.kind == kind {
			return k
		}
	}
	return getKinds()[0]
}

func (k Kind) String() string {
	return find(k).name
}

// BusName is the name the kind travels under on the message bus.
func (k Kind) BusName() string {
	return busErrorPrefix + find(k).name
}

// HTTPStatus is the status code the bus server answers with for this kind.
func (k Kind) HTTPStatus() int {
	return find(k).httpStatus
}

// KindFromBusName is the inverse of BusName. Unknown names map to
// ErrorUnknown.
func KindFromBusName(name string) Kind {
	for _, k := range getKinds() {
		if busErrorPrefix+k.name == name {
			return k.kind
		}
	}
	return ErrorUnknown
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func NonCritical(format string, args ...interface{}) *Error {
	return New(ErrorNonCritical, format, args...)
}

func Installation(format string, args ...interface{}) *Error {
	return New(ErrorInstallation, format, args...)
}

func SourceSetup(format string, args ...interface{}) *Error {
	return New(ErrorSourceSetup, format, args...)
}

func Schema(format string, args ...interface{}) *Error {
	return New(ErrorSchema, format, args...)
}

func InvalidRequest(format string, args ...interface{}) *Error {
	return New(ErrorInvalidRequest, format, args...)
}

func State(format string, args ...interface{}) *Error {
	return New(ErrorState, format, args...)
}

func NotReady(format string, args ...interface{}) *Error {
	return New(ErrorNotReady, format, args...)
}

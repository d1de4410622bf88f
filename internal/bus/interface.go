package bus

import (
	"context"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/structure"
)

// Interface is a named set of properties, methods and signals published on
// an object.
type Interface struct {
	Name       string
	Properties []Property
	Methods    []Method
	Signals    []SignalSpec
}

// Property is read with Get and, unless Set is nil, written with Set. Both
// run on the control loop.
type Property struct {
	Name      string
	Signature string
	Get       func() (structure.Variant, error)
	Set       func(ctx context.Context, v structure.Variant) error
}

type Arg struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Method runs on the control loop with arguments matching In.
type Method struct {
	Name string
	In   []Arg
	Out  []Arg
	Call func(ctx context.Context, args []structure.Variant) ([]structure.Variant, error)
}

type SignalSpec struct {
	Name string `json:"name"`
	Args []Arg  `json:"args"`
}

func (i *Interface) property(name string) (*Property, bool) {
	for n := range i.Properties {
		if i.Properties[n].Name == name {
			return &i.Properties[n], true
		}
	}
	return nil, false
}

func (i *Interface) method(name string) (*Method, bool) {
	for n := range i.Methods {
		if i.Methods[n].Name == name {
			return &i.Methods[n], true
		}
	}
	return nil, false
}

func mustSignature[T any]() string {
	sig, err := structure.SignatureFor[T]()
	if err != nil {
		panic(err)
	}
	return sig
}

// ReadOnly declares a property of type T.
func ReadOnly[T any](name string, get func() T) Property {
	return Property{
		Name:      name,
		Signature: mustSignature[T](),
		Get: func() (structure.Variant, error) {
			return structure.VariantOf(get())
		},
	}
}

// ReadWrite declares a writable property of type T.
func ReadWrite[T any](name string, get func() T, set func(ctx context.Context, v T) error) Property {
	p := ReadOnly(name, get)
	p.Set = func(ctx context.Context, v structure.Variant) error {
		value, err := structure.FromVariant[T](v)
		if err != nil {
			return installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "invalid value for %s", name)
		}
		return set(ctx, value)
	}
	return p
}

// Action declares a method without arguments or results.
func Action(name string, fn func(ctx context.Context) error) Method {
	return Method{
		Name: name,
		Call: func(ctx context.Context, _ []structure.Variant) ([]structure.Variant, error) {
			return nil, fn(ctx)
		},
	}
}

// Query declares a method without arguments returning one value.
func Query[R any](name string, fn func(ctx context.Context) (R, error)) Method {
	return Method{
		Name: name,
		Out:  []Arg{{Name: "result", Signature: mustSignature[R]()}},
		Call: func(ctx context.Context, _ []structure.Variant) ([]structure.Variant, error) {
			r, err := fn(ctx)
			if err != nil {
				return nil, err
			}
			return wrapResult(r)
		},
	}
}

// Command declares a method taking one argument without results.
func Command[A any](name, arg string, fn func(ctx context.Context, a A) error) Method {
	return Method{
		Name: name,
		In:   []Arg{{Name: arg, Signature: mustSignature[A]()}},
		Call: func(ctx context.Context, args []structure.Variant) ([]structure.Variant, error) {
			a, err := structure.FromVariant[A](args[0])
			if err != nil {
				return nil, installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "invalid argument %s", arg)
			}
			return nil, fn(ctx, a)
		},
	}
}

// Function declares a method taking one argument and returning one value.
func Function[A, R any](name, arg string, fn func(ctx context.Context, a A) (R, error)) Method {
	return Method{
		Name: name,
		In:   []Arg{{Name: arg, Signature: mustSignature[A]()}},
		Out:  []Arg{{Name: "result", Signature: mustSignature[R]()}},
		Call: func(ctx context.Context, args []structure.Variant) ([]structure.Variant, error) {
			a, err := structure.FromVariant[A](args[0])
			if err != nil {
				return nil, installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "invalid argument %s", arg)
			}
			r, err := fn(ctx, a)
			if err != nil {
				return nil, err
			}
			return wrapResult(r)
		},
	}
}

func wrapResult(r interface{}) ([]structure.Variant, error) {
	v, err := structure.VariantOf(r)
	if err != nil {
		return nil, err
	}
	return []structure.Variant{v}, nil
}

// Signal declares a signal with the given arguments.
func Signal(name string, args ...Arg) SignalSpec {
	return SignalSpec{Name: name, Args: args}
}

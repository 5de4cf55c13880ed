package edm

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch is matched by errors.Is for any *TypeMismatchError.
	ErrTypeMismatch = errors.New("edm: type mismatch")

	// ErrUnsupportedType is matched by errors.Is for any *UnsupportedTypeError.
	ErrUnsupportedType = errors.New("edm: unsupported type")
)

// TypeMismatchError reports a value that does not fit its declared type.
type TypeMismatchError struct {
	Type  string
	Value string
	Err   error
}

func (e *TypeMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("edm: %q is not a valid %s: %v", e.Value, e.Type, e.Err)
	}
	return fmt.Sprintf("edm: %q is not a valid %s", e.Value, e.Type)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

func (e *TypeMismatchError) Unwrap() error {
	return e.Err
}

// UnsupportedTypeError reports a type name (or Go type) the value model
// cannot represent.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("edm: unsupported type %s", e.Type)
}

func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

func mismatch(typ PrimitiveType, value string, err error) error {
	return &TypeMismatchError{Type: typ.Name(), Value: value, Err: err}
}

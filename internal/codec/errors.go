package codec

import (
	"errors"
	"fmt"
)

var (
	ErrDeserialization = errors.New("deserialization failed")
	ErrUnknownType     = errors.New("unknown type")
	ErrUnrepresentable = errors.New("value cannot be represented in this format")
)

// fragmentLen bounds the payload excerpt carried by DeserializationError.
const fragmentLen = 64

// DeserializationError reports a payload that is malformed for its format.
// Fragment is an excerpt of the offending input.
type DeserializationError struct {
	Format   Format
	Fragment string
	Err      error
}

func (e *DeserializationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Format, ErrDeserialization)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Fragment != "" {
		msg += fmt.Sprintf(" near %q", e.Fragment)
	}
	return msg
}

func (e *DeserializationError) Is(target error) bool {
	return target == ErrDeserialization
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// UnknownTypeError reports a declared type that the metadata does not
// define.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("%s %q", ErrUnknownType, e.Type)
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// excerpt returns up to fragmentLen bytes of data starting near offset.
func excerpt(data []byte, offset int64) string {
	start := int(offset) - fragmentLen/4
	if start < 0 {
		start = 0
	}
	if start > len(data) {
		start = len(data)
	}
	end := start + fragmentLen
	if end > len(data) {
		end = len(data)
	}
	return string(data[start:end])
}

func truncate(s string) string {
	if len(s) > fragmentLen {
		return s[:fragmentLen]
	}
	return s
}

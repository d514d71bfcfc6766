// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// errors.go: the three failure kinds a serialize/deserialize call can end
// with. Each typed error matches its sentinel through errors.Is.

package registry

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrUnsupportedType = errors.New("konserve: unsupported type")
	ErrUnknownTag      = errors.New("konserve: unknown tag")
	ErrMalformedInput  = errors.New("konserve: malformed input")
)

// UnsupportedTypeError is returned when no write handler exists for a value's
// type or any of its ancestors.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	if e.Type == nil {
		return "konserve: unsupported type <nil>"
	}
	return fmt.Sprintf("konserve: unsupported type %s", e.Type)
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }

// UnknownTagError is returned when decoding meets a tag with no read handler.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("konserve: unknown tag %q", e.Tag)
}

func (e *UnknownTagError) Is(target error) bool { return target == ErrUnknownTag }

// MalformedInputError reports truncated or structurally invalid input.
type MalformedInputError struct {
	Codec  string
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	msg := "konserve: malformed " + e.Codec + " input: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Malformed is shorthand for building a MalformedInputError.
func Malformed(codec, reason string, err error) error {
	return &MalformedInputError{Codec: codec, Reason: reason, Err: err}
}

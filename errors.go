// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// errors.go: sentinel error variables returned by the public konserve API,
// covering serialization failures, record registration and store access.

// Package konserve provides pluggable value serialization (a compact binary
// encoding and a tagged textual notation) with application-defined record
// types, and a durable key/value store built on top of it.
package konserve

import (
	"errors"

	"github.com/danielsz/konserve/internal/backend"
	"github.com/danielsz/konserve/internal/registry"
)

// Serialization errors. Each typed error below matches its sentinel with
// errors.Is and carries detail reachable with errors.As.
var (
	ErrUnsupportedType = registry.ErrUnsupportedType
	ErrUnknownTag      = registry.ErrUnknownTag
	ErrMalformedInput  = registry.ErrMalformedInput
)

type (
	UnsupportedTypeError = registry.UnsupportedTypeError
	UnknownTagError      = registry.UnknownTagError
	MalformedInputError  = registry.MalformedInputError
)

// Record registration errors
var (
	ErrInvalidTag    = errors.New("konserve: invalid record tag")
	ErrDuplicateTag  = errors.New("konserve: tag already registered for another type")
	ErrNoConversion  = errors.New("konserve: record type needs explicit conversion functions")
	ErrInvalidRecord = errors.New("konserve: record payload has unexpected shape")
)

// Store errors
var (
	ErrNotFound      = backend.ErrNotFound
	ErrClosed        = errors.New("konserve: store closed")
	ErrInvalidConfig = errors.New("konserve: invalid configuration")
	ErrInvalidPath   = errors.New("konserve: path does not address a nested value")
)

// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// backend.go: the byte-level key/value contract the store persists encoded
// values through, and the ErrNotFound sentinel that signals a missing key.

// Package backend provides storage adapters for encoded values: memory,
// local files, Redis and PostgreSQL.
package backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when the key does not exist.
// Callers use errors.Is(err, backend.ErrNotFound) to tell a miss from a
// genuine storage error.
var ErrNotFound = errors.New("konserve: key not found")

// Backend stores opaque byte values under string keys. Write replaces the
// whole value atomically: a concurrent or later Read sees either the old
// bytes or the new ones, never a mix.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

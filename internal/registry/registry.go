// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// registry.go: handler types and the deterministic three-source merge that
// produces the effective registry for one serialize/deserialize call.

// Package registry holds write/read handler tables and the rules for
// combining and resolving them.
package registry

import (
	"reflect"

	"github.com/danielsz/konserve/internal/value"
)

// WriteHandler turns a value into its tagged envelope.
type WriteHandler func(v any) (value.Tagged, error)

// ReadHandler rebuilds a value from a tag and its already-decoded payload.
type ReadHandler func(tag string, payload any) (any, error)

// WriteTable maps runtime types to write handlers.
type WriteTable map[reflect.Type]WriteHandler

// ReadTable maps tags to read handlers.
type ReadTable map[string]ReadHandler

// Handlers groups both directions of one handler source.
type Handlers struct {
	Write WriteTable
	Read  ReadTable
}

// Precedence orders the custom and bridge sources during a merge. Defaults
// always have the lowest priority.
type Precedence int

const (
	// BridgeOverCustom lets bridge-derived (record) handlers replace custom
	// handlers registered for the same key. This is the default.
	BridgeOverCustom Precedence = iota
	// CustomOverBridge keeps custom handlers when a record handler collides.
	CustomOverBridge
)

func (p Precedence) String() string {
	switch p {
	case BridgeOverCustom:
		return "bridge-over-custom"
	case CustomOverBridge:
		return "custom-over-bridge"
	}
	return "unknown"
}

// MergeWrite combines write tables, later sources winning on collision. The
// result is a new map.
func MergeWrite(p Precedence, defaults, custom, bridge WriteTable) WriteTable {
	srcs := ordered(p, defaults, custom, bridge)
	out := make(WriteTable, len(defaults)+len(custom)+len(bridge))
	for _, src := range srcs {
		for k, h := range src {
			out[k] = h
		}
	}
	return out
}

// MergeRead combines read tables with the same rules as MergeWrite.
func MergeRead(p Precedence, defaults, custom, bridge ReadTable) ReadTable {
	srcs := ordered(p, defaults, custom, bridge)
	out := make(ReadTable, len(defaults)+len(custom)+len(bridge))
	for _, src := range srcs {
		for k, h := range src {
			out[k] = h
		}
	}
	return out
}

// Merge combines both directions.
func Merge(p Precedence, defaults, custom, bridge Handlers) Handlers {
	return Handlers{
		Write: MergeWrite(p, defaults.Write, custom.Write, bridge.Write),
		Read:  MergeRead(p, defaults.Read, custom.Read, bridge.Read),
	}
}

func ordered[M any](p Precedence, defaults, custom, bridge M) []M {
	if p == CustomOverBridge {
		return []M{defaults, bridge, custom}
	}
	return []M{defaults, custom, bridge}
}

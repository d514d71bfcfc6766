// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// handlers.go: handler types re-exported from the registry, the built-in
// default handlers (#inst, #uuid, #bytes) and the merge entry point.

package konserve

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"time"

	"github.com/danielsz/konserve/internal/registry"
	"github.com/danielsz/konserve/internal/value"
	"github.com/google/uuid"
)

// Re-export types so callers only import this package.
type (
	WriteHandler = registry.WriteHandler
	ReadHandler  = registry.ReadHandler
	WriteTable   = registry.WriteTable
	ReadTable    = registry.ReadTable
	Handlers     = registry.Handlers
	ReadRef      = registry.ReadRef
	Hierarchy    = registry.Hierarchy
	Resolver     = registry.Resolver
	Precedence   = registry.Precedence

	Tagged  = value.Tagged
	Keyword = value.Keyword
	Symbol  = value.Symbol
	Set     = value.Set
)

const (
	BridgeOverCustom = registry.BridgeOverCustom
	CustomOverBridge = registry.CustomOverBridge
)

// NewReadRef returns a live read-handler reference seeded with t.
func NewReadRef(t ReadTable) *ReadRef { return registry.NewReadRef(t) }

// NewHierarchy returns an empty type hierarchy.
func NewHierarchy() *Hierarchy { return registry.NewHierarchy() }

// NewSet builds a Set from hashable items.
func NewSet(items ...any) Set { return value.NewSet(items...) }

// Merge combines defaults, custom and bridge-derived handlers. With
// BridgeOverCustom (the default) a record handler silently replaces a custom
// handler registered under the same type or tag; CustomOverBridge reverses
// that. Defaults always lose.
func Merge(p Precedence, defaults, custom, bridge Handlers) Handlers {
	return registry.Merge(p, defaults, custom, bridge)
}

// Tags of the built-in handlers.
const (
	TagInst  = "inst"
	TagUUID  = "uuid"
	TagBytes = "bytes"
)

var (
	timeType  = reflect.TypeOf(time.Time{})
	uuidType  = reflect.TypeOf(uuid.UUID{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// DefaultHandlers returns the built-in handlers: time.Time as #inst with an
// RFC 3339 payload, uuid.UUID as #uuid and []byte as #bytes with a base64
// payload. Binary codecs encode []byte natively, so #bytes only shows up in
// text.
func DefaultHandlers() Handlers {
	return Handlers{
		Write: WriteTable{
			timeType: func(v any) (Tagged, error) {
				t, ok := v.(time.Time)
				if !ok {
					return Tagged{}, fmt.Errorf("konserve: #inst writer got %T", v)
				}
				return Tagged{Tag: TagInst, Value: t.Format(time.RFC3339Nano)}, nil
			},
			uuidType: func(v any) (Tagged, error) {
				id, ok := v.(uuid.UUID)
				if !ok {
					return Tagged{}, fmt.Errorf("konserve: #uuid writer got %T", v)
				}
				return Tagged{Tag: TagUUID, Value: id.String()}, nil
			},
			bytesType: func(v any) (Tagged, error) {
				b, ok := v.([]byte)
				if !ok {
					return Tagged{}, fmt.Errorf("konserve: #bytes writer got %T", v)
				}
				return Tagged{Tag: TagBytes, Value: base64.StdEncoding.EncodeToString(b)}, nil
			},
		},
		Read: ReadTable{
			TagInst: func(_ string, payload any) (any, error) {
				s, ok := payload.(string)
				if !ok {
					return nil, fmt.Errorf("%w: #inst wants a string, got %T", ErrInvalidRecord, payload)
				}
				return time.Parse(time.RFC3339Nano, s)
			},
			TagUUID: func(_ string, payload any) (any, error) {
				s, ok := payload.(string)
				if !ok {
					return nil, fmt.Errorf("%w: #uuid wants a string, got %T", ErrInvalidRecord, payload)
				}
				return uuid.Parse(s)
			},
			TagBytes: func(_ string, payload any) (any, error) {
				s, ok := payload.(string)
				if !ok {
					return nil, fmt.Errorf("%w: #bytes wants a string, got %T", ErrInvalidRecord, payload)
				}
				return base64.StdEncoding.DecodeString(s)
			},
		},
	}
}

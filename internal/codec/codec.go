// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// codec.go: the Codec contract shared by the binary and text encodings, and
// the decode-side helpers every codec uses to build maps, sets and tagged
// values from their parsed parts.

// Package codec provides the binary and textual encodings for stored values.
package codec

import (
	"fmt"
	"io"

	"github.com/danielsz/konserve/internal/registry"
	"github.com/danielsz/konserve/internal/value"
)

// MaxDepth bounds container and tag nesting on both encode and decode.
const MaxDepth = 512

// Codec encodes values to a stream and decodes them back.
type Codec interface {
	// Name returns the codec identifier used for diagnostics.
	Name() string
	// Encode writes v to w, resolving non-native types through writers.
	// Nothing is written when encoding fails.
	Encode(w io.Writer, v any, writers registry.Resolver) error
	// Decode reads one value from r. Tags resolve against readers only.
	Decode(r io.Reader, readers registry.ReadTable) (any, error)
}

// builder collects the decode-side rules common to all codecs.
type builder struct {
	codec   string
	readers registry.ReadTable
}

func (b builder) malformed(reason string, err error) error {
	return registry.Malformed(b.codec, reason, err)
}

func (b builder) put(m map[any]any, k, v any) error {
	if !value.Hashable(k) {
		return b.malformed(fmt.Sprintf("unhashable map key of type %T", k), nil)
	}
	if _, dup := m[k]; dup {
		return b.malformed(fmt.Sprintf("duplicate map key %v", k), nil)
	}
	m[k] = v
	return nil
}

func (b builder) add(s value.Set, v any) error {
	if !value.Hashable(v) {
		return b.malformed(fmt.Sprintf("unhashable set member of type %T", v), nil)
	}
	if _, dup := s[v]; dup {
		return b.malformed(fmt.Sprintf("duplicate set member %v", v), nil)
	}
	s[v] = struct{}{}
	return nil
}

// handler looks tag up before its payload is decoded, so unknown tags fail
// without touching the rest of the input.
func (b builder) handler(tag string) (registry.ReadHandler, error) {
	h, ok := b.readers[tag]
	if !ok || h == nil {
		return nil, &registry.UnknownTagError{Tag: tag}
	}
	return h, nil
}

func (b builder) construct(h registry.ReadHandler, tag string, payload any) (any, error) {
	v, err := h(tag, payload)
	if err != nil {
		return nil, b.malformed(fmt.Sprintf("tag %s rejected its payload", tag), err)
	}
	return v, nil
}

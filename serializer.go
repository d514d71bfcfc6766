// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// serializer.go: the Serializer contract store backends call, bound to one
// codec. Write handlers are merged per call; read handlers are dereferenced
// from the live reference exactly once at the start of each decode.

package konserve

import (
	"bytes"
	"io"

	"github.com/danielsz/konserve/internal/codec"
	"github.com/danielsz/konserve/internal/registry"
)

// Codec is the encoding a Serializer is bound to.
type Codec = codec.Codec

// Serializer converts values to and from an encoded stream.
//
// Serialize appends the encoding of v to w. writeHandlers are the
// bridge-derived (record) handlers for this call; they are merged over the
// built-in defaults and the serializer's custom handlers. Nothing is written
// when encoding fails.
//
// Deserialize reads r to the end and decodes the single value it holds;
// trailing data is malformed input. Callers storing several values in one
// stream frame them first. readHandlers is a live reference: it is
// loaded once when the call starts, so handlers registered before the call
// are visible and changes during the call are not. The reference is never
// modified. A nil reference behaves as an empty table.
//
// Implementations hold no per-call state and may be shared between
// goroutines; ownership of w and r stays with the caller.
type Serializer interface {
	Name() string
	Serialize(w io.Writer, writeHandlers WriteTable, v any) error
	Deserialize(r io.Reader, readHandlers *ReadRef) (any, error)
}

// Option configures a Serializer.
type Option func(*serializer)

// WithCustomHandlers fixes application handlers for the serializer's
// lifetime. The tables are copied.
func WithCustomHandlers(h Handlers) Option {
	return func(s *serializer) {
		s.custom = Handlers{
			Write: registry.MergeWrite(BridgeOverCustom, nil, h.Write, nil),
			Read:  registry.MergeRead(BridgeOverCustom, nil, h.Read, nil),
		}
	}
}

// WithPrecedence sets how custom and bridge-derived handlers are ordered
// when both cover the same type or tag.
func WithPrecedence(p Precedence) Option {
	return func(s *serializer) { s.precedence = p }
}

// WithHierarchy sets the declared ancestry used when a value's exact type has
// no write handler.
func WithHierarchy(h *Hierarchy) Option {
	return func(s *serializer) { s.hierarchy = h }
}

// WithLogger routes failure diagnostics to l.
func WithLogger(l Logger) Option {
	return func(s *serializer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithoutDefaults drops the built-in #inst, #uuid and #bytes handlers.
func WithoutDefaults() Option {
	return func(s *serializer) { s.defaults = Handlers{} }
}

type serializer struct {
	codec      codec.Codec
	defaults   Handlers
	custom     Handlers
	precedence Precedence
	hierarchy  *Hierarchy
	logger     Logger
}

// New returns a Serializer bound to c.
func New(c Codec, opts ...Option) Serializer {
	s := &serializer{
		codec:    c,
		defaults: DefaultHandlers(),
		logger:   noopLogger{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewBinary returns a Serializer using the MessagePack binary codec.
func NewBinary(opts ...Option) Serializer { return New(codec.MsgPack{}, opts...) }

// NewText returns a Serializer using the textual tagged-literal codec.
func NewText(opts ...Option) Serializer { return New(codec.Text{}, opts...) }

// NewCBOR returns a Serializer using the deterministic CBOR binary codec.
func NewCBOR(opts ...Option) (Serializer, error) {
	c, err := codec.CBOR()
	if err != nil {
		return nil, err
	}
	return New(c, opts...), nil
}

func (s *serializer) Name() string { return s.codec.Name() }

func (s *serializer) Serialize(w io.Writer, writeHandlers WriteTable, v any) error {
	table := registry.MergeWrite(s.precedence, s.defaults.Write, s.custom.Write, writeHandlers)
	err := s.codec.Encode(w, v, Resolver{Table: table, Hierarchy: s.hierarchy})
	if err != nil {
		s.logger.Debug("serialize failed", "codec", s.codec.Name(), "type", typeName(v), "error", err)
	}
	return err
}

func (s *serializer) Deserialize(r io.Reader, readHandlers *ReadRef) (any, error) {
	table := registry.MergeRead(s.precedence, s.defaults.Read, s.custom.Read, readHandlers.Load())
	v, err := s.codec.Decode(r, table)
	if err != nil {
		s.logger.Debug("deserialize failed", "codec", s.codec.Name(), "error", err)
		return nil, err
	}
	return v, nil
}

// Marshal serializes v into a new byte slice.
func Marshal(s Serializer, writeHandlers WriteTable, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Serialize(&buf, writeHandlers, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes one value from data.
func Unmarshal(s Serializer, data []byte, readHandlers *ReadRef) (any, error) {
	return s.Deserialize(bytes.NewReader(data), readHandlers)
}

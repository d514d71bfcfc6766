// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// value.go: value kinds that Go has no builtin for (keywords, symbols, sets,
// tagged envelopes) plus the numeric normalization shared by every codec.

// Package value defines the structural value model understood by the codecs.
package value

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Keyword is an interned-style identifier, written :name or :ns/name.
type Keyword string

// String renders the keyword with its leading colon.
func (k Keyword) String() string { return ":" + string(k) }

// Symbol is a bare identifier. Symbols are data only; nothing resolves them.
type Symbol string

func (s Symbol) String() string { return string(s) }

// Tagged is the generic (tag, payload) envelope a write handler produces and
// a read handler consumes.
type Tagged struct {
	Tag   string
	Value any
}

// Set is an unordered collection of hashable values.
type Set map[any]struct{}

// NewSet builds a Set from items. It panics if an item is not hashable, the
// same way a map literal would.
func NewSet(items ...any) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Add inserts v and reports whether it was hashable.
func (s Set) Add(v any) bool {
	if !Hashable(v) {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Has reports membership.
func (s Set) Has(v any) bool {
	if !Hashable(v) {
		return false
	}
	_, ok := s[v]
	return ok
}

// Items returns the members ordered by their fmt rendering, for stable output.
func (s Set) Items() []any {
	out := make([]any, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]) < fmt.Sprint(out[j])
	})
	return out
}

// Hashable reports whether v can be used as a map key or set member without
// panicking at runtime. Interfaces holding slices or maps are comparable by
// type but not by value, so the check has to try it.
func Hashable(v any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = map[any]struct{}{v: {}}
	return true
}

// ValidTag reports whether tag is usable as a tagged-literal name: it must
// start with a letter and contain no whitespace or delimiters.
func ValidTag(tag string) bool {
	if tag == "" {
		return false
	}
	c := tag[0]
	if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return false
	}
	return !strings.ContainsAny(tag, " \t\r\n,;\"()[]{}#^`~\\@")
}

// Integer normalizes any Go integer kind. Signed values and unsigned values up
// to MaxInt64 come back as int64; larger unsigned values stay uint64.
func Integer(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return fromUint(uint64(n)), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return fromUint(n), true
	}
	return nil, false
}

func fromUint(n uint64) any {
	if n <= math.MaxInt64 {
		return int64(n)
	}
	return n
}

// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// hierarchy.go: explicit ancestor chains for write-handler lookup. Go has no
// class inheritance, so ancestry is the union of declared parents, pointer
// indirection, struct embedding and implemented interfaces.

package registry

import (
	"errors"
	"reflect"
	"sort"
	"sync"
)

var errSelfParent = errors.New("konserve: a type cannot derive from itself")

// Hierarchy records declared child -> parent relations between types.
// A nil *Hierarchy is valid and has no declarations.
type Hierarchy struct {
	mu      sync.RWMutex
	parents map[reflect.Type][]reflect.Type
}

// NewHierarchy returns an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{parents: make(map[reflect.Type][]reflect.Type)}
}

// Derive declares parent as an ancestor of child. Parents are consulted in
// declaration order; repeated declarations are ignored.
func (h *Hierarchy) Derive(child, parent reflect.Type) error {
	if child == nil || parent == nil {
		return errors.New("konserve: derive needs non-nil types")
	}
	if child == parent {
		return errSelfParent
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.parents == nil {
		h.parents = make(map[reflect.Type][]reflect.Type)
	}
	for _, p := range h.parents[child] {
		if p == parent {
			return nil
		}
	}
	h.parents[child] = append(h.parents[child], parent)
	return nil
}

// Parents returns the declared parents of t.
func (h *Hierarchy) Parents(t reflect.Type) []reflect.Type {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	ps := h.parents[t]
	out := make([]reflect.Type, len(ps))
	copy(out, ps)
	return out
}

// Resolver finds the write handler for a value using the nearest ancestor
// that has one.
type Resolver struct {
	Table     WriteTable
	Hierarchy *Hierarchy
}

type candidate struct {
	t  reflect.Type
	rv reflect.Value
}

// Resolve walks the ancestor chain of v breadth-first:
//
//  1. the exact runtime type
//  2. declared parents (the handler receives v unchanged)
//  3. the pointed-to type of a non-nil pointer (the handler receives *v)
//  4. exported embedded fields in declaration order (the handler receives the field)
//
// and finally interface types in the table that v's type implements, ordered
// by type name. It returns the handler and the value to hand to it.
func (r Resolver) Resolve(v any) (WriteHandler, any, bool) {
	if v == nil || len(r.Table) == 0 {
		return nil, nil, false
	}
	start := reflect.ValueOf(v)
	queue := []candidate{{t: start.Type(), rv: start}}
	seen := make(map[reflect.Type]bool)

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c.t] {
			continue
		}
		seen[c.t] = true

		if h, ok := r.Table[c.t]; ok && c.rv.CanInterface() {
			return h, c.rv.Interface(), true
		}
		for _, p := range r.Hierarchy.Parents(c.t) {
			queue = append(queue, candidate{t: p, rv: c.rv})
		}
		// Structural ancestry only applies while the candidate type is the
		// value's own type.
		if c.t != c.rv.Type() {
			continue
		}
		switch c.t.Kind() {
		case reflect.Pointer:
			if !c.rv.IsNil() {
				el := c.rv.Elem()
				queue = append(queue, candidate{t: el.Type(), rv: el})
			}
		case reflect.Struct:
			for i := 0; i < c.t.NumField(); i++ {
				f := c.t.Field(i)
				if !f.Anonymous || !f.IsExported() {
					continue
				}
				fv := c.rv.Field(i)
				if fv.Kind() == reflect.Pointer && fv.IsNil() {
					continue
				}
				queue = append(queue, candidate{t: f.Type, rv: fv})
			}
		}
	}

	var ifaces []reflect.Type
	for t := range r.Table {
		if t.Kind() == reflect.Interface && start.Type().Implements(t) {
			ifaces = append(ifaces, t)
		}
	}
	if len(ifaces) == 0 {
		return nil, nil, false
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].String() < ifaces[j].String() })
	return r.Table[ifaces[0]], v, true
}

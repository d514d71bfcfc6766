// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// bridge.go: the tagged-type bridge. Records maps application struct types
// to (tag, payload) envelopes on write and tags back to constructors on read.
// Read handlers live behind a ReadRef, so records registered after a
// serializer was built are visible to its next decode.

package konserve

import (
	"fmt"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/danielsz/konserve/internal/registry"
	"github.com/danielsz/konserve/internal/value"
	"github.com/mitchellh/mapstructure"
)

// fieldTag is the struct tag consulted when a record is converted to and
// from its default map payload.
const fieldTag = "konserve"

// Records is a registry of application record types.
type Records struct {
	mu    sync.RWMutex
	write WriteTable
	tags  map[string]reflect.Type
	read  *ReadRef
	hier  *Hierarchy
}

// NewRecords returns an empty record registry.
func NewRecords() *Records {
	return &Records{
		write: make(WriteTable),
		tags:  make(map[string]reflect.Type),
		read:  registry.NewReadRef(nil),
		hier:  registry.NewHierarchy(),
	}
}

// RegisterRecord registers T under tag. An empty tag is derived from the
// type as "<package>/<Name>". A nil write function converts a struct to a map
// of its exported fields; a nil read function decodes such a map back into T.
// Registering the same type again replaces its handlers.
func RegisterRecord[T any](r *Records, tag string, write func(T) (any, error), read func(any) (T, error)) error {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if tag == "" {
		tag = defaultTag(t)
	}
	if !value.ValidTag(tag) {
		return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	if write == nil || read == nil {
		if t.Kind() != reflect.Struct {
			return fmt.Errorf("%w: %s", ErrNoConversion, t)
		}
	}
	if write == nil {
		write = func(v T) (any, error) { return recordToMap(v), nil }
	}
	if read == nil {
		read = func(payload any) (T, error) { return mapToRecord[T](payload) }
	}

	wh := func(v any) (Tagged, error) {
		x, ok := v.(T)
		if !ok {
			// a declared descendant with the same shape is converted
			rv := reflect.ValueOf(v)
			if !rv.IsValid() || rv.Kind() != t.Kind() || !rv.Type().ConvertibleTo(t) {
				return Tagged{}, fmt.Errorf("konserve: record %s writer got %T", tag, v)
			}
			x = rv.Convert(t).Interface().(T)
		}
		p, err := write(x)
		if err != nil {
			return Tagged{}, err
		}
		return Tagged{Tag: tag, Value: p}, nil
	}
	rh := func(_ string, payload any) (any, error) {
		return read(payload)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.tags[tag]; ok && prev != t {
		return fmt.Errorf("%w: %q is bound to %s", ErrDuplicateTag, tag, prev)
	}
	for oldTag, ot := range r.tags {
		if ot == t && oldTag != tag {
			delete(r.tags, oldTag)
			r.read.Unregister(oldTag)
		}
	}
	r.tags[tag] = t
	r.write[t] = wh
	r.read.Register(tag, rh)
	return nil
}

// Derive declares parent as an ancestor of child for write-handler lookup.
// A child with no handler of its own is then written with the parent's; a
// child whose underlying type matches the parent's is converted first.
func (r *Records) Derive(child, parent reflect.Type) error {
	return r.hier.Derive(child, parent)
}

// Tag returns the tag registered for t.
func (r *Records) Tag(t reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for tag, rt := range r.tags {
		if rt == t {
			return tag, true
		}
	}
	return "", false
}

// WriteHandlers returns a snapshot of the record write handlers.
func (r *Records) WriteHandlers() WriteTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(WriteTable, len(r.write))
	for t, h := range r.write {
		out[t] = h
	}
	return out
}

// ReadHandlers returns the live read-handler reference.
func (r *Records) ReadHandlers() *ReadRef { return r.read }

// Hierarchy returns the declared ancestry used for write-side fallback.
func (r *Records) Hierarchy() *Hierarchy { return r.hier }

func defaultTag(t reflect.Type) string {
	if t.Name() == "" {
		return ""
	}
	pkg := path.Base(t.PkgPath())
	if pkg == "." || pkg == "/" {
		return t.Name()
	}
	return pkg + "/" + t.Name()
}

// recordToMap copies exported fields into a map keyed by field name or by the
// konserve struct tag. Field values are left as they are so nested records
// and built-in types still go through handler resolution.
func recordToMap(v any) map[string]any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup(fieldTag); ok {
			tn, _, _ := strings.Cut(tag, ",")
			if tn == "-" {
				continue
			}
			if tn != "" {
				name = tn
			}
		}
		out[name] = rv.Field(i).Interface()
	}
	return out
}

func mapToRecord[T any](payload any) (T, error) {
	var out T
	if _, ok := payload.(map[any]any); !ok {
		if _, ok := payload.(map[string]any); !ok {
			return out, fmt.Errorf("%w: want a map, got %T", ErrInvalidRecord, payload)
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    fieldTag,
		Result:     &out,
		ZeroFields: true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(payload); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return out, nil
}

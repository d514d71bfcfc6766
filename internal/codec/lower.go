package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/danielsz/konserve/internal/registry"
	"github.com/danielsz/konserve/internal/value"
)

var errTooDeep = fmt.Errorf("konserve: value nesting exceeds %d levels", MaxDepth)

// Lowered forms. Encoders only ever see these, the scalars below, []any and
// the value.Keyword/value.Symbol kinds.
//
//	nil, bool, int64, uint64, float64, string, []byte
type (
	pair struct {
		key, val any
	}
	mapNode    []pair
	setNode    []any
	taggedNode struct {
		tag     string
		payload any
	}
)

// lowerer reduces an arbitrary Go value to the lowered forms. Native kinds
// are handled first, then registered handlers (with ancestor fallback), then
// structural reflection over slices, arrays, maps and pointers.
type lowerer struct {
	res registry.Resolver
	// nativeBytes is false for encodings without a byte-string literal, so
	// []byte goes through handler resolution instead.
	nativeBytes bool
}

func (l lowerer) lower(v any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, errTooDeep
	}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, float64, value.Keyword, value.Symbol:
		return x, nil
	case float32:
		return float64(x), nil
	case []byte:
		if l.nativeBytes {
			return x, nil
		}
	case value.Tagged:
		if !value.ValidTag(x.Tag) {
			return nil, fmt.Errorf("konserve: invalid tag %q", x.Tag)
		}
		p, err := l.lower(x.Value, depth+1)
		if err != nil {
			return nil, err
		}
		return taggedNode{tag: x.Tag, payload: p}, nil
	case value.Set:
		out := make(setNode, 0, len(x))
		for m := range x {
			lm, err := l.lower(m, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, lm)
		}
		return out, nil
	case []any:
		return l.lowerSeq(reflect.ValueOf(x), depth)
	case map[any]any:
		return l.lowerMap(reflect.ValueOf(x), depth)
	}
	if n, ok := value.Integer(v); ok {
		return n, nil
	}
	if h, view, ok := l.res.Resolve(v); ok {
		tv, err := h(view)
		if err != nil {
			var ute *registry.UnsupportedTypeError
			if errors.As(err, &ute) {
				return nil, err
			}
			return nil, fmt.Errorf("konserve: write handler for %T: %w", v, err)
		}
		return l.lower(tv, depth+1)
	}
	return l.structural(v, depth)
}

func (l lowerer) structural(v any, depth int) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return l.lower(rv.Elem().Interface(), depth+1)
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if !l.nativeBytes {
				// no literal for raw bytes; a handler has to claim them
				return nil, &registry.UnsupportedTypeError{Type: rv.Type()}
			}
			return rv.Bytes(), nil
		}
		return l.lowerSeq(rv, depth)
	case reflect.Array:
		return l.lowerSeq(rv, depth)
	case reflect.Map:
		return l.lowerMap(rv, depth)
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, _ := value.Integer(rv.Uint())
		return n, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, &registry.UnsupportedTypeError{Type: rv.Type()}
}

func (l lowerer) lowerSeq(rv reflect.Value, depth int) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		el, err := l.lower(rv.Index(i).Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = el
	}
	return out, nil
}

func (l lowerer) lowerMap(rv reflect.Value, depth int) (any, error) {
	if rv.IsNil() {
		return nil, nil
	}
	out := make(mapNode, 0, rv.Len())
	it := rv.MapRange()
	for it.Next() {
		k, err := l.lower(it.Key().Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		v, err := l.lower(it.Value().Interface(), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, pair{key: k, val: v})
	}
	return out, nil
}

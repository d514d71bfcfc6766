package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/danielsz/konserve/internal/registry"
	"github.com/danielsz/konserve/internal/value"
	cbor "github.com/fxamacker/cbor/v2"
)

// CBOR tag numbers (IANA registry).
const (
	cborTagObject     = 27  // serialised object: [type name, constructor args]
	cborTagIdentifier = 39  // identifier
	cborTagSet        = 258 // mathematical finite set
)

// Major types and the indefinite-length terminator (RFC 8949 section 3).
const (
	cborMajorText  = 3
	cborMajorArray = 4
	cborMajorMap   = 5
	cborMajorTag   = 6
	cborBreak      = 0xff
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec (RFC 8949 core profile). Keywords
// travel as tag 39 strings, symbols as tag 39 one-element arrays, sets as tag
// 258 and tagged values as tag 27 [tag, payload]. Text strings must be valid
// UTF-8.
func CBOR() (Codec, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[any]any(nil)),
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: MaxDepth,
	}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Encode(w io.Writer, v any, writers registry.Resolver) error {
	n, err := lowerer{res: writers, nativeBytes: true}.lower(v, 0)
	if err != nil {
		return err
	}
	b, err := c.raw(n)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// raw encodes a lowered value. Maps and sets are assembled from individually
// encoded entries so that keys which are not Go-hashable (tagged records with
// vector payloads) still encode, in bytewise order.
func (c cborCodec) raw(n any) (cbor.RawMessage, error) {
	switch x := n.(type) {
	case value.Keyword:
		if err := validText(string(x)); err != nil {
			return nil, err
		}
		return c.enc.Marshal(cbor.Tag{Number: cborTagIdentifier, Content: string(x)})
	case value.Symbol:
		if err := validText(string(x)); err != nil {
			return nil, err
		}
		return c.enc.Marshal(cbor.Tag{Number: cborTagIdentifier, Content: []any{string(x)}})
	case []any:
		items := make([]cbor.RawMessage, len(x))
		for i, el := range x {
			b, err := c.raw(el)
			if err != nil {
				return nil, err
			}
			items[i] = b
		}
		return c.enc.Marshal(items)
	case mapNode:
		entries := make([][2][]byte, len(x))
		for i, p := range x {
			kb, err := c.raw(p.key)
			if err != nil {
				return nil, err
			}
			vb, err := c.raw(p.val)
			if err != nil {
				return nil, err
			}
			entries[i] = [2][]byte{kb, vb}
		}
		sortEntries(entries)
		out := cborHead(5, uint64(len(entries)))
		for _, e := range entries {
			out = append(out, e[0]...)
			out = append(out, e[1]...)
		}
		return out, nil
	case setNode:
		members, err := sortedEncodings(x, func(b *bytes.Buffer, m any) error {
			raw, err := c.raw(m)
			if err != nil {
				return err
			}
			b.Write(raw)
			return nil
		})
		if err != nil {
			return nil, err
		}
		items := make([]cbor.RawMessage, len(members))
		for i, m := range members {
			items[i] = m
		}
		return c.enc.Marshal(cbor.Tag{Number: cborTagSet, Content: items})
	case string:
		if err := validText(x); err != nil {
			return nil, err
		}
		return c.enc.Marshal(x)
	case taggedNode:
		body, err := c.raw(x.payload)
		if err != nil {
			return nil, err
		}
		return c.enc.Marshal(cbor.Tag{Number: cborTagObject, Content: []any{x.tag, body}})
	case nil, bool, int64, uint64, float64, []byte:
		return c.enc.Marshal(x)
	}
	return nil, fmt.Errorf("konserve: cbor cannot encode lowered %T", n)
}

// validText rejects strings CBOR cannot carry as text.
func validText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: cbor text %q is not valid UTF-8", registry.ErrUnsupportedType, s)
	}
	return nil
}

// cborHead builds an initial byte plus argument for the given major type.
func cborHead(major byte, n uint64) []byte {
	m := major << 5
	switch {
	case n < 24:
		return []byte{m | byte(n)}
	case n <= math.MaxUint8:
		return []byte{m | 24, byte(n)}
	case n <= math.MaxUint16:
		return []byte{m | 25, byte(n >> 8), byte(n)}
	case n <= math.MaxUint32:
		return []byte{m | 26, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
	return []byte{m | 27, byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

// Decode reads r to the end; it must hold exactly one CBOR data item.
func (c cborCodec) Decode(r io.Reader, readers registry.ReadTable) (any, error) {
	b := builder{codec: c.Name(), readers: readers}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, b.malformed("read", err)
	}
	var raw cbor.RawMessage
	rest, err := c.dec.UnmarshalFirst(data, &raw)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, b.malformed("unexpected end of input", err)
		}
		return nil, b.malformed("decode", err)
	}
	if len(rest) > 0 {
		return nil, b.malformed(fmt.Sprintf("%d bytes of trailing data after value", len(rest)), nil)
	}
	return c.rebuild(b, raw, 0)
}

// rebuild walks one well-formed data item and converts it into the value
// model. Containers and tags are taken apart at the raw level so that map
// keys and set members pass through the read table like any other value.
func (c cborCodec) rebuild(b builder, raw []byte, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, b.malformed(fmt.Sprintf("nesting exceeds %d levels", MaxDepth), nil)
	}
	if len(raw) == 0 {
		return nil, b.malformed("empty item", nil)
	}
	switch raw[0] >> 5 {
	case cborMajorArray:
		var items []cbor.RawMessage
		if err := c.dec.Unmarshal(raw, &items); err != nil {
			return nil, b.malformed("array", err)
		}
		out := make([]any, len(items))
		for i, el := range items {
			v, err := c.rebuild(b, el, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case cborMajorMap:
		return c.rebuildMap(b, raw, depth)
	case cborMajorTag:
		num, size, indefinite, ok := cborArg(raw)
		if !ok || indefinite {
			return nil, b.malformed("bad tag head", nil)
		}
		return c.rebuildTag(b, num, raw[size:], depth)
	}
	var n any
	if err := c.dec.Unmarshal(raw, &n); err != nil {
		return nil, b.malformed("decode", err)
	}
	switch x := n.(type) {
	case nil, bool, int64, float64, string, []byte:
		return x, nil
	case uint64:
		v, _ := value.Integer(x)
		return v, nil
	}
	return nil, b.malformed(fmt.Sprintf("unsupported item of type %T", n), nil)
}

func (c cborCodec) rebuildMap(b builder, raw []byte, depth int) (any, error) {
	n, size, indefinite, ok := cborArg(raw)
	if !ok {
		return nil, b.malformed("bad map head", nil)
	}
	rest := raw[size:]
	out := make(map[any]any)
	for i := uint64(0); indefinite || i < n; i++ {
		if len(rest) == 0 {
			return nil, b.malformed("unexpected end of map", nil)
		}
		if indefinite && rest[0] == cborBreak {
			break
		}
		var kr, vr cbor.RawMessage
		var err error
		if rest, err = c.dec.UnmarshalFirst(rest, &kr); err != nil {
			return nil, b.malformed("map key", err)
		}
		if rest, err = c.dec.UnmarshalFirst(rest, &vr); err != nil {
			return nil, b.malformed("map value", err)
		}
		k, err := c.rebuild(b, kr, depth+1)
		if err != nil {
			return nil, err
		}
		v, err := c.rebuild(b, vr, depth+1)
		if err != nil {
			return nil, err
		}
		if err := b.put(out, k, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c cborCodec) rebuildTag(b builder, num uint64, content []byte, depth int) (any, error) {
	switch num {
	case cborTagIdentifier:
		if id, ok := c.text(content); ok {
			return value.Keyword(id), nil
		}
		if items, ok := c.array(content); ok && len(items) == 1 {
			if id, ok := c.text(items[0]); ok {
				return value.Symbol(id), nil
			}
		}
		return nil, b.malformed("identifier tag with unexpected content", nil)
	case cborTagSet:
		items, ok := c.array(content)
		if !ok {
			return nil, b.malformed("set tag without array content", nil)
		}
		s := make(value.Set, len(items))
		for _, it := range items {
			v, err := c.rebuild(b, it, depth+1)
			if err != nil {
				return nil, err
			}
			if err := b.add(s, v); err != nil {
				return nil, err
			}
		}
		return s, nil
	case cborTagObject:
		parts, ok := c.array(content)
		if !ok || len(parts) != 2 {
			return nil, b.malformed("object tag must hold [tag payload]", nil)
		}
		tag, ok := c.text(parts[0])
		if !ok {
			return nil, b.malformed("object tag name is not a string", nil)
		}
		h, err := b.handler(tag)
		if err != nil {
			return nil, err
		}
		body, err := c.rebuild(b, parts[1], depth+1)
		if err != nil {
			return nil, err
		}
		return b.construct(h, tag, body)
	}
	return nil, b.malformed(fmt.Sprintf("unsupported cbor tag %d", num), nil)
}

// text decodes raw when it is a text string.
func (c cborCodec) text(raw []byte) (string, bool) {
	if len(raw) == 0 || raw[0]>>5 != cborMajorText {
		return "", false
	}
	var s string
	if err := c.dec.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// array splits raw into its elements when it is an array.
func (c cborCodec) array(raw []byte) ([]cbor.RawMessage, bool) {
	if len(raw) == 0 || raw[0]>>5 != cborMajorArray {
		return nil, false
	}
	var items []cbor.RawMessage
	if err := c.dec.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

// cborArg reads the argument of the head at raw[0] and reports the head
// size. Reserved additional-information values are not ok.
func cborArg(raw []byte) (n uint64, size int, indefinite, ok bool) {
	ai := raw[0] & 0x1f
	switch {
	case ai < 24:
		return uint64(ai), 1, false, true
	case ai == 31:
		return 0, 1, true, true
	case ai > 27:
		return 0, 0, false, false
	}
	width := 1 << (ai - 24)
	if len(raw) < 1+width {
		return 0, 0, false, false
	}
	for _, by := range raw[1 : 1+width] {
		n = n<<8 | uint64(by)
	}
	return n, 1 + width, false, true
}
